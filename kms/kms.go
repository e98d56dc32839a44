// Package kms manages the symmetric keys that protect peer traffic.
//
// Two peers agree on a key by X25519 and HKDF-SHA256; the topic they talk
// on is the hex SHA-256 of that key, so both sides derive the same topic
// without exchanging it. Payloads are sealed with ChaCha20-Poly1305 into
// a base64 envelope:
//
//	envelope = base64( type(1) | nonce(12) | ciphertext+tag )
package kms

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize = 32

	envelopeType0 byte = 0
)

var (
	ErrNoKey       = errors.New("kms: no key for topic")
	ErrBadEnvelope = errors.New("kms: malformed envelope")
	ErrBadKey      = errors.New("kms: malformed key")
)

type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// GenerateKeyPair returns a fresh X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	var priv [KeySize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return KeyPair{}, err
	}
	return KeyPairFromPrivate(priv)
}

// KeyPairFromPrivate derives the public half of priv. The private key is
// clamped per RFC 7748.
func KeyPairFromPrivate(priv [KeySize]byte) (KeyPair, error) {
	kp := KeyPair{Private: priv}
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

func (kp KeyPair) PublicHex() string { return hex.EncodeToString(kp.Public[:]) }
func (kp KeyPair) PrivateHex() string { return hex.EncodeToString(kp.Private[:]) }

// ParseKey decodes a hex encoded 32 byte key.
func ParseKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != KeySize {
		return key, fmt.Errorf("%w: want %d hex encoded bytes", ErrBadKey, KeySize)
	}
	copy(key[:], b)
	return key, nil
}

// SharedKey runs X25519 between self and peer and expands the secret with
// HKDF-SHA256 into a symmetric key.
func SharedKey(self KeyPair, peer [KeySize]byte) ([KeySize]byte, error) {
	var key [KeySize]byte
	secret, err := curve25519.X25519(self.Private[:], peer[:])
	if err != nil {
		return key, err
	}
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, nil), key[:]); err != nil {
		return key, err
	}
	return key, nil
}

// Topic is the hex SHA-256 of a symmetric key.
func Topic(key [KeySize]byte) string {
	sum := sha256.Sum256(key[:])
	return hex.EncodeToString(sum[:])
}

// Service holds symmetric keys by topic. It implements relay.PayloadCipher.
type Service struct {
	mu   sync.RWMutex
	keys map[string][KeySize]byte
}

func NewService() *Service {
	return &Service{keys: make(map[string][KeySize]byte)}
}

// SetSymKey stores key under its derived topic and returns the topic.
func (s *Service) SetSymKey(key [KeySize]byte) string {
	topic := Topic(key)
	s.mu.Lock()
	s.keys[topic] = key
	s.mu.Unlock()
	return topic
}

// Agree derives the key shared with peer, stores it and returns its topic.
func (s *Service) Agree(self KeyPair, peer [KeySize]byte) (string, error) {
	key, err := SharedKey(self, peer)
	if err != nil {
		return "", err
	}
	return s.SetSymKey(key), nil
}

func (s *Service) SymKey(topic string) ([KeySize]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[topic]
	return key, ok
}

func (s *Service) DeleteSymKey(topic string) {
	s.mu.Lock()
	delete(s.keys, topic)
	s.mu.Unlock()
}

func (s *Service) aead(topic string) (cipher.AEAD, error) {
	key, ok := s.SymKey(topic)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, topic)
	}
	return chacha20poly1305.New(key[:])
}

// Seal encrypts plaintext with the key for topic. The topic is bound as
// additional data, so an envelope cannot be replayed on another topic.
func (s *Service) Seal(topic, plaintext string) (string, error) {
	aead, err := s.aead(topic)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	buf[0] = envelopeType0
	if _, err := rand.Read(buf[1:]); err != nil {
		return "", err
	}
	nonce := buf[1 : 1+aead.NonceSize()]
	buf = aead.Seal(buf, nonce, []byte(plaintext), []byte(topic))
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Open reverses Seal.
func (s *Service) Open(topic, envelope string) (string, error) {
	aead, err := s.aead(topic)
	if err != nil {
		return "", err
	}
	buf, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if len(buf) < 1+aead.NonceSize()+aead.Overhead() || buf[0] != envelopeType0 {
		return "", ErrBadEnvelope
	}
	nonce := buf[1 : 1+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, buf[1+aead.NonceSize():], []byte(topic))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	return string(plaintext), nil
}
