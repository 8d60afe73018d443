package service

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"clinicdesk/internal/model"
)

// ErrInvalidToken is returned for malformed or expired staff tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// AuthService validates staff tokens issued by the clinic's auth
// service. Issuing, rotation and staff management live there, not
// here; this side only needs the shared secret.
type AuthService struct {
	jwtSecret []byte
}

// NewAuthService creates a new auth service
func NewAuthService(secret string) *AuthService {
	return &AuthService{jwtSecret: []byte(secret)}
}

// ValidateStaffToken validates a staff JWT and returns its claims
func (s *AuthService) ValidateStaffToken(tokenString string) (*model.StaffClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &model.StaffClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*model.StaffClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
