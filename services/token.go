package services

import (
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"

	"playmate-chat/apperrors"
)

// Claims is the payload of session tokens issued by the auth subsystem.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.StandardClaims
}

// TokenVerifier validates HS256 bearer tokens. Issuing tokens belongs to
// the auth service; GenerateToken exists for tooling and tests.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

func (v *TokenVerifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", apperrors.Unauthenticated("missing token")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", apperrors.Unauthenticated("invalid token")
	}
	if claims.UserID == "" {
		return "", apperrors.Unauthenticated("token has no user")
	}
	return claims.UserID, nil
}

func (v *TokenVerifier) GenerateToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
