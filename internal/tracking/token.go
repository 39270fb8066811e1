// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tracking records recipient engagement through signed links.
package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

const macSize = 16

// ErrBadToken is returned for tokens that fail to decode or verify.
var ErrBadToken = errors.New("tracking: bad token")

var b64 = base64.RawURLEncoding

// Signer produces and verifies opaque recipient tokens.
type Signer struct {
	key []byte
}

// NewSigner returns a Signer keyed with key.
func NewSigner(key []byte) *Signer {
	return &Signer{key: append([]byte(nil), key...)}
}

func (s *Signer) mac(id string) []byte {
	m := hmac.New(sha256.New, s.key)
	m.Write([]byte(id))
	return m.Sum(nil)[:macSize]
}

// Token returns the token for campaign target id.
func (s *Signer) Token(id string) string {
	return b64.EncodeToString([]byte(id)) + "." + b64.EncodeToString(s.mac(id))
}

// Verify returns the campaign target id carried by token.
func (s *Signer) Verify(token string) (string, error) {
	rawID, rawMAC, ok := strings.Cut(token, ".")
	if !ok {
		return "", ErrBadToken
	}
	id, err := b64.DecodeString(rawID)
	if err != nil || len(id) == 0 {
		return "", ErrBadToken
	}
	got, err := b64.DecodeString(rawMAC)
	if err != nil || !hmac.Equal(got, s.mac(string(id))) {
		return "", ErrBadToken
	}
	return string(id), nil
}

// Links are the public URLs embedded in one recipient's email.
type Links struct {
	Open   string
	Click  string
	Submit string
	Report string
}

// Links builds the tracking URLs for campaign target id under baseURL.
func (s *Signer) Links(baseURL, id string) Links {
	base := strings.TrimRight(baseURL, "/") + "/t/"
	tok := s.Token(id)
	return Links{
		Open:   base + "o/" + tok,
		Click:  base + "c/" + tok,
		Submit: base + "s/" + tok,
		Report: base + "r/" + tok,
	}
}
