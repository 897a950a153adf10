package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Sandbox тестовый шлюз: платёж подтверждается любым корректным callback.
type Sandbox struct{}

func NewSandbox() *Sandbox {
	return &Sandbox{}
}

func (s *Sandbox) Name() string {
	return "sandbox"
}

func (s *Sandbox) Initiate(_ context.Context, req InitiateRequest) (*InitiateResult, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма должна быть положительной")
	}
	ref := NewReference(s.Name())
	return &InitiateResult{
		RedirectURL: fmt.Sprintf("/payments/%s/checkout/%s/", s.Name(), ref),
		Reference:   ref,
	}, nil
}

func (s *Sandbox) Verify(_ context.Context, cb Callback) (*VerifyResult, error) {
	var res VerifyResult
	if err := json.Unmarshal(cb.Body, &res); err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeValidation, "некорректный callback")
	}
	if err := validateResult(&res); err != nil {
		return nil, err
	}
	return &res, nil
}
