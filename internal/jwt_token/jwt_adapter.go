package jwttoken

import (
	"fraudengine/pkg/platform/middleware/auth"
)

// JWTServiceAdapter exposes JWTService through the auth middleware's validator port.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*auth.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &auth.JWTClaims{UserID: claims.UserID, JTI: claims.ID}, nil
}
