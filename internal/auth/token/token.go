// Package token signs the OAuth state that carries a lead id through LINE Login.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateIssuer = "estimate-backend/line-login"

var ErrInvalidState = errors.New("invalid login state")

func GenerateRandomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StateClaims binds a login attempt to a lead and to the nonce sent to LINE.
type StateClaims struct {
	LeadID string `json:"lid"`
	Nonce  string `json:"nonce"`
	jwt.RegisteredClaims
}

// StateSigner issues and verifies short-lived HS256 state tokens.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns the signed state and the nonce it commits to.
func (s *StateSigner) Issue(leadID string) (state, nonce string, err error) {
	nonce, err = GenerateRandomToken(16)
	if err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	now := s.now()
	claims := StateClaims{
		LeadID: leadID,
		Nonce:  nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	state, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign state: %w", err)
	}
	return state, nonce, nil
}

func (s *StateSigner) Verify(state string) (StateClaims, error) {
	var claims StateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return StateClaims{}, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if claims.LeadID == "" || claims.Nonce == "" {
		return StateClaims{}, ErrInvalidState
	}
	return claims, nil
}
