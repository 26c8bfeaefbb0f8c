package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ms-reservation/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("authorization header is missing")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the claims of a reservation-service access token. The actor id
// travels in sub.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}

	return parts[1], nil
}

// ParseActor verifies an HS256 token signed with secret and returns its actor.
func ParseActor(tokenString string, secret []byte) (models.Actor, error) {
	if tokenString == "" {
		return models.Actor{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return models.Actor{}, fmt.Errorf("%w: subject claim not found in token", ErrInvalidToken)
	}
	switch claims.Role {
	case models.RoleUser, models.RoleAdmin, models.RoleOperator:
	default:
		return models.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}

	return models.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

// IssueToken signs a token for actor that expires after ttl.
func IssueToken(actor models.Actor, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
