package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// JWTVerifier validates HS256-signed bearer tokens issued by the auth
// frontend.
type JWTVerifier struct {
	secret []byte
	issuer string
}

var _ TokenVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier constructs a verifier from the shared signing secret.
func NewJWTVerifier(secret string, issuer string) (*JWTVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &JWTVerifier{
		secret: []byte(secret),
		issuer: strings.TrimSpace(issuer),
	}, nil
}

// VerifyToken parses and validates the token, returning its subject and claims.
func (v *JWTVerifier) VerifyToken(_ context.Context, tokenStr string) (VerifiedToken, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method %v", ErrTokenInvalid, token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return VerifiedToken{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return VerifiedToken{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return VerifiedToken{}, ErrTokenInvalid
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return VerifiedToken{}, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}

	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return VerifiedToken{}, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}

	return VerifiedToken{
		Subject: subject,
		Claims:  map[string]any(claims),
	}, nil
}
