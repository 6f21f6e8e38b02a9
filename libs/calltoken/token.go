package calltoken

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const defaultTTL = 15 * time.Minute

// Claims is the payload of a web call access token.
type Claims struct {
	AgentID string `json:"agent_id"`
	CallID  string `json:"call_id"`
	jwt.RegisteredClaims
}

// Generate creates an HS256 access token for one web call. The call id doubles
// as the jti so a token cannot be confused with another call's.
func Generate(secret, agentID, callID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret required")
	}
	if agentID == "" || callID == "" {
		return "", fmt.Errorf("agent id and call id required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	now := time.Now()
	claims := Claims{
		AgentID: agentID,
		CallID:  callID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        callID,
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token produced by Generate and returns its claims.
func Parse(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.CallID == "" {
		return nil, errors.New("token has no call id")
	}
	return claims, nil
}
