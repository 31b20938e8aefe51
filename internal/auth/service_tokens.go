package auth

import (
	"context"
	"fmt"

	"github.com/modofreelanceos/automations/internal/backend"
)

// ServiceTokens mints a short-lived bearer token per user for calls to the
// automation backend.
type ServiceTokens struct {
	signer *JWT
}

func NewServiceTokens(signer *JWT) *ServiceTokens {
	return &ServiceTokens{signer: signer}
}

func (s *ServiceTokens) AuthHeader(_ context.Context, userID string) (string, error) {
	token, err := s.signer.Sign(userID)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	return "Bearer " + token, nil
}

var _ backend.AuthHeaderProvider = (*ServiceTokens)(nil)
