package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // G505: SHA1 is the wire-compatible HMAC digest
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// -------------------------------------------------------------------------
// Envelope: wire message
// -------------------------------------------------------------------------

// DigestSize is the length of an HMAC-SHA1 authentication tag.
const DigestSize = sha1.Size

// maxAuthCodePoint is the largest code point allowed in the auth string.
// Each code point carries exactly one byte of the digest.
const maxAuthCodePoint = 0xFF

// Codec errors.
var (
	// ErrDecode indicates the datagram is not a well-formed envelope.
	ErrDecode = errors.New("malformed envelope")

	// ErrMissingField indicates a required envelope key is absent.
	ErrMissingField = errors.New("envelope field missing")

	// ErrAuthCodePoint indicates the auth string carries a code point
	// that does not fit into a single byte.
	ErrAuthCodePoint = errors.New("auth code point out of byte range")
)

// Envelope is the two-field message exchanged over UDP.
type Envelope struct {
	// Msg is the message text.
	Msg string

	// Auth is the raw HMAC-SHA1 tag over Msg.
	Auth []byte
}

// wireEnvelope mirrors the JSON object on the wire. Pointer fields detect
// absent keys.
type wireEnvelope struct {
	Msg  *string `json:"msg"`
	Auth *string `json:"auth"`
}

// DecodeEnvelope parses a datagram into an Envelope.
//
// The payload must be a JSON object holding exactly the string keys "msg"
// and "auth". The auth string embeds one byte per code point (0-255).
// All failures wrap ErrDecode.
func DecodeEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireEnvelope
	if err := dec.Decode(&w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	// Reject trailing data after the object.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Envelope{}, fmt.Errorf("%w: trailing data after object", ErrDecode)
	}

	if w.Msg == nil {
		return Envelope{}, fmt.Errorf("%w: msg: %w", ErrDecode, ErrMissingField)
	}
	if w.Auth == nil {
		return Envelope{}, fmt.Errorf("%w: auth: %w", ErrDecode, ErrMissingField)
	}

	auth, err := codePointsToBytes(*w.Auth)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return Envelope{Msg: *w.Msg, Auth: auth}, nil
}

// EncodeEnvelope serializes env into its wire form.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	msg := env.Msg
	auth := bytesToCodePoints(env.Auth)

	data, err := json.Marshal(wireEnvelope{Msg: &msg, Auth: &auth})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Sign builds an Envelope for msg authenticated with secret.
func Sign(msg string, secret []byte) Envelope {
	return Envelope{Msg: msg, Auth: computeDigest(secret, msg)}
}

// computeDigest returns HMAC-SHA1(secret, msg).
func computeDigest(secret []byte, msg string) []byte {
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// codePointsToBytes maps each code point of s to one byte.
func codePointsToBytes(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i, r := range s {
		if r > maxAuthCodePoint {
			return nil, fmt.Errorf("offset %d (U+%04X): %w", i, r, ErrAuthCodePoint)
		}
		out = append(out, byte(r))
	}
	return out, nil
}

// bytesToCodePoints embeds each byte of b as one code point.
func bytesToCodePoints(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}
