// Package identity issues and verifies certificates binding an
// operator-chosen subject to a Noise static public key. A certificate is a
// signed JWT carrying the subject and the base64 SHA-256 fingerprint of
// the static key; verifiers check the fingerprint against the key the
// handshake actually revealed.
package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the parsed, validated content of an identity certificate.
type Claims struct {
	Subject     string // operator-chosen name for the key holder
	Fingerprint string // base64 SHA-256 of the static public key
	Issuer      string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Fingerprint returns the base64-encoded SHA-256 digest of a static
// public key, the value carried in a certificate's "fp" claim.
func Fingerprint(staticPublicKey [32]byte) string {
	sum := sha256.Sum256(staticPublicKey[:])
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Authority issues and verifies certificates using a shared HMAC secret.
// One trusted operator issues certificates and the verifying peers share
// its secret out of band. A deployment that cannot distribute the issuing
// secret to verifiers would switch to an asymmetric signing method.
type Authority struct {
	issuer string
	secret []byte
	ttl    time.Duration
}

// NewAuthority returns an Authority that signs certificates as issuer,
// valid for ttl.
func NewAuthority(issuer, secret string, ttl time.Duration) *Authority {
	return &Authority{issuer: issuer, secret: []byte(secret), ttl: ttl}
}

// IssueCertificate binds subject to staticPublicKey's fingerprint in a
// signed, time-bounded token.
func (a *Authority) IssueCertificate(subject string, staticPublicKey [32]byte) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"fp":  Fingerprint(staticPublicKey),
		"iss": a.issuer,
		"iat": now.Unix(),
		"exp": now.Add(a.ttl).Unix(),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign certificate: %w", err)
	}
	return signed, nil
}

// VerifyCertificate validates tokenString's signature and expiry and
// confirms its fingerprint claim matches staticPublicKey, the binding a
// peer checks after the XX handshake reveals the other side's static key.
func (a *Authority) VerifyCertificate(tokenString string, staticPublicKey [32]byte) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("identity: unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("identity: invalid certificate: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("identity: invalid certificate")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("identity: invalid certificate claims")
	}

	fingerprint, ok := claims["fp"].(string)
	if !ok {
		return nil, errors.New("identity: missing fingerprint claim")
	}
	expected := Fingerprint(staticPublicKey)
	if fingerprint != expected {
		return nil, fmt.Errorf("identity: certificate fingerprint %q does not match handshake static key fingerprint %q", fingerprint, expected)
	}

	subject, ok := claims["sub"].(string)
	if !ok {
		return nil, errors.New("identity: missing subject claim")
	}

	issuer, _ := claims["iss"].(string)
	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)

	return &Claims{
		Subject:     subject,
		Fingerprint: fingerprint,
		Issuer:      issuer,
		IssuedAt:    time.Unix(int64(iat), 0),
		ExpiresAt:   time.Unix(int64(exp), 0),
	}, nil
}
