// Package message defines the JSON-RPC 2.0 envelopes exchanged between peers
// and with the relay.
//
// A Request carries a method name and type-erased params; a Response carries
// either a result or an RPCError, never both. Both envelopes share the same
// integer id space so a response can be matched to its request.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"wc-rpc/codec"
)

// Version is the only accepted value of the "jsonrpc" member.
const Version = "2.0"

// ErrInvalidEnvelope is returned when a document is not a well-formed
// request or response.
var ErrInvalidEnvelope = errors.New("message: invalid envelope")

// Request is a JSON-RPC call. Params may hold any Value, including null.
type Request struct {
	ID     int64
	Method string
	Params codec.Value
}

// NewRequest captures params as a Value.
func NewRequest(id int64, method string, params any) (*Request, error) {
	v, err := codec.From(params)
	if err != nil {
		return nil, err
	}
	return &Request{ID: id, Method: method, Params: v}, nil
}

type requestWire struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  codec.Value `json:"params"`
	ID      int64       `json:"id"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestWire{JSONRPC: Version, Method: r.Method, Params: r.Params, ID: r.ID})
}

func (r *Request) UnmarshalJSON(data []byte) error {
	fields, err := envelopeFields(data)
	if err != nil {
		return err
	}
	id, err := decodeID(fields)
	if err != nil {
		return err
	}

	rawMethod, ok := fields["method"]
	if !ok {
		return fmt.Errorf("%w: missing method", ErrInvalidEnvelope)
	}
	var method string
	if isNull(rawMethod) {
		return fmt.Errorf("%w: method is null", ErrInvalidEnvelope)
	}
	if err := json.Unmarshal(rawMethod, &method); err != nil {
		return fmt.Errorf("%w: method: %v", ErrInvalidEnvelope, err)
	}

	rawParams, ok := fields["params"]
	if !ok {
		return fmt.Errorf("%w: missing params", ErrInvalidEnvelope)
	}
	params, err := codec.Parse(rawParams)
	if err != nil {
		return fmt.Errorf("%w: params: %v", ErrInvalidEnvelope, err)
	}

	*r = Request{ID: id, Method: method, Params: params}
	return nil
}

// Response answers the Request with the same ID. Exactly one of Result and
// Error is meaningful: a non-nil Error marks a failed call.
type Response struct {
	ID     int64
	Result codec.Value
	Error  *RPCError
}

// NewResult builds a success response.
func NewResult(id int64, result any) (*Response, error) {
	v, err := codec.From(result)
	if err != nil {
		return nil, err
	}
	return &Response{ID: id, Result: v}, nil
}

// NewErrorResponse builds a failure response.
func NewErrorResponse(id int64, rpcErr *RPCError) *Response {
	return &Response{ID: id, Error: rpcErr}
}

func (r *Response) IsError() bool { return r.Error != nil }

type resultWire struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  codec.Value `json:"result"`
	ID      int64       `json:"id"`
}

type errorWire struct {
	JSONRPC string    `json:"jsonrpc"`
	Error   *RPCError `json:"error"`
	ID      int64     `json:"id"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(errorWire{JSONRPC: Version, Error: r.Error, ID: r.ID})
	}
	return json.Marshal(resultWire{JSONRPC: Version, Result: r.Result, ID: r.ID})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	fields, err := envelopeFields(data)
	if err != nil {
		return err
	}
	id, err := decodeID(fields)
	if err != nil {
		return err
	}

	rawResult, hasResult := fields["result"]
	rawError, hasError := fields["error"]
	switch {
	case hasResult && hasError:
		return fmt.Errorf("%w: both result and error present", ErrInvalidEnvelope)
	case !hasResult && !hasError:
		return fmt.Errorf("%w: neither result nor error present", ErrInvalidEnvelope)
	case hasError:
		rpcErr, err := decodeRPCError(rawError)
		if err != nil {
			return err
		}
		*r = Response{ID: id, Error: rpcErr}
	default:
		result, err := codec.Parse(rawResult)
		if err != nil {
			return fmt.Errorf("%w: result: %v", ErrInvalidEnvelope, err)
		}
		*r = Response{ID: id, Result: result}
	}
	return nil
}

// envelopeFields splits an envelope into its members and checks the version.
func envelopeFields(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	rawVersion, ok := fields["jsonrpc"]
	if !ok {
		return nil, fmt.Errorf("%w: missing jsonrpc", ErrInvalidEnvelope)
	}
	var version string
	if err := json.Unmarshal(rawVersion, &version); err != nil || version != Version {
		return nil, fmt.Errorf("%w: jsonrpc must be %q", ErrInvalidEnvelope, Version)
	}
	return fields, nil
}

func decodeID(fields map[string]json.RawMessage) (int64, error) {
	rawID, ok := fields["id"]
	if !ok {
		return 0, fmt.Errorf("%w: missing id", ErrInvalidEnvelope)
	}
	if isNull(rawID) {
		return 0, fmt.Errorf("%w: id is null", ErrInvalidEnvelope)
	}
	var id int64
	if err := json.Unmarshal(rawID, &id); err != nil {
		return 0, fmt.Errorf("%w: id must be an integer: %v", ErrInvalidEnvelope, err)
	}
	return id, nil
}

func decodeRPCError(raw json.RawMessage) (*RPCError, error) {
	var wire struct {
		Code    *int    `json:"code"`
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: error: %v", ErrInvalidEnvelope, err)
	}
	if wire.Code == nil || wire.Message == nil {
		return nil, fmt.Errorf("%w: error needs code and message", ErrInvalidEnvelope)
	}
	return &RPCError{Code: *wire.Code, Message: *wire.Message}, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
