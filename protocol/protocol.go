// Package protocol frames JSON-RPC envelopes for the relay socket.
//
// The relay carries one envelope per text message and there is no
// discriminator member: a document is a request if it decodes as one,
// otherwise a response if it decodes as one, otherwise it is malformed.
//
//	raw text ──► Request?  ──yes──► Frame{MsgTypeRequest}
//	                │no
//	                ▼
//	             Response? ──yes──► Frame{MsgTypeResponse}
//	                │no
//	                ▼
//	           *MalformedError
package protocol

import (
	"errors"
	"fmt"

	"wc-rpc/codec"
	"wc-rpc/message"
)

// MsgType distinguishes request and response frames.
type MsgType byte

const (
	MsgTypeRequest  MsgType = 0
	MsgTypeResponse MsgType = 1
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	}
	return fmt.Sprintf("msgtype(%d)", byte(t))
}

// ErrMalformed is matched by every *MalformedError.
var ErrMalformed = errors.New("protocol: malformed message")

// MalformedError keeps both decode failures of a rejected document.
type MalformedError struct {
	AsRequest  error
	AsResponse error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%v: not a request (%v), not a response (%v)", ErrMalformed, e.AsRequest, e.AsResponse)
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

// Frame is one classified envelope. Exactly one of Request and Response is
// set, according to MsgType.
type Frame struct {
	MsgType  MsgType
	Request  *message.Request
	Response *message.Response
}

func RequestFrame(req *message.Request) *Frame {
	return &Frame{MsgType: MsgTypeRequest, Request: req}
}

func ResponseFrame(resp *message.Response) *Frame {
	return &Frame{MsgType: MsgTypeResponse, Response: resp}
}

// ID returns the envelope id regardless of direction.
func (f *Frame) ID() int64 {
	if f.MsgType == MsgTypeRequest {
		return f.Request.ID
	}
	return f.Response.ID
}

// Encode serializes the frame's envelope with c.
func Encode(c codec.Codec, f *Frame) ([]byte, error) {
	switch f.MsgType {
	case MsgTypeRequest:
		if f.Request == nil {
			return nil, fmt.Errorf("protocol: request frame without request")
		}
		return c.Encode(f.Request)
	case MsgTypeResponse:
		if f.Response == nil {
			return nil, fmt.Errorf("protocol: response frame without response")
		}
		return c.Encode(f.Response)
	}
	return nil, fmt.Errorf("protocol: unsupported message type: %d", f.MsgType)
}

// Decode classifies data as a request or a response, in that order.
func Decode(c codec.Codec, data []byte) (*Frame, error) {
	var req message.Request
	reqErr := c.Decode(data, &req)
	if reqErr == nil {
		return RequestFrame(&req), nil
	}

	var resp message.Response
	respErr := c.Decode(data, &resp)
	if respErr == nil {
		return ResponseFrame(&resp), nil
	}

	return nil, &MalformedError{AsRequest: reqErr, AsResponse: respErr}
}
