// Package token signs and verifies attribution tokens.
//
// A token is an HS256 JWT carrying the affiliate code, the click id and the
// click timestamp. Tokens come back from the client as untrusted input, so
// Decode never fails loudly: anything that does not verify or lacks the
// required claims is reported as not ok.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Payload is the content of an attribution token.
type Payload struct {
	AffiliateCode string
	ClickID       string
	Timestamp     time.Time
}

type claims struct {
	AffiliateCode string `json:"aff"`
	ClickID       string `json:"cid,omitempty"`
	Timestamp     int64  `json:"ts"`
	jwt.RegisteredClaims
}

// Codec encodes and decodes attribution tokens with a shared secret.
type Codec struct {
	secret []byte
	issuer string
}

// NewCodec creates a codec. The secret must not be empty.
func NewCodec(secret, issuer string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token: secret is required")
	}
	return &Codec{secret: []byte(secret), issuer: issuer}, nil
}

// Encode signs p into a compact token string.
func (c *Codec) Encode(p Payload) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		AffiliateCode: p.AffiliateCode,
		ClickID:       p.ClickID,
		Timestamp:     p.Timestamp.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: c.issuer,
		},
	})
	return tok.SignedString(c.secret)
}

// Decode verifies raw and extracts its payload. It returns ok=false for empty,
// forged, malformed or incomplete tokens.
func (c *Codec) Decode(raw string) (Payload, bool) {
	if raw == "" {
		return Payload{}, false
	}

	var cl claims
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, &cl, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		return Payload{}, false
	}

	if cl.AffiliateCode == "" || cl.Timestamp <= 0 {
		return Payload{}, false
	}

	return Payload{
		AffiliateCode: cl.AffiliateCode,
		ClickID:       cl.ClickID,
		Timestamp:     time.Unix(cl.Timestamp, 0).UTC(),
	}, true
}
