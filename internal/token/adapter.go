package token

import (
	"h2ledger/internal/platform/middleware"
)

// MiddlewareAdapter bridges the token service to the middleware's validator
// interface.
type MiddlewareAdapter struct {
	service *Service
}

func NewMiddlewareAdapter(service *Service) *MiddlewareAdapter {
	return &MiddlewareAdapter{service: service}
}

func (a *MiddlewareAdapter) ValidateToken(tokenString string) (*middleware.Claims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &middleware.Claims{
		ActorID: claims.ActorID,
		Role:    claims.Role,
		Active:  claims.Active,
	}, nil
}
