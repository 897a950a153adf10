// Package gateway единый контракт платёжных шлюзов: Initiate и Verify.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Статусы платежа после проверки callback.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// InitiateRequest параметры начала платежа.
type InitiateRequest struct {
	UserID   uuid.UUID
	Amount   decimal.Decimal
	Currency string
}

// InitiateResult куда отправить пользователя и ключ, по которому придёт callback.
type InitiateResult struct {
	RedirectURL string `json:"redirect_url"`
	Reference   string `json:"reference"`
}

// Callback сырое уведомление шлюза.
type Callback struct {
	Body      []byte
	Signature string
}

// VerifyResult итог проверки callback.
type VerifyResult struct {
	Reference  string `json:"reference"`
	Status     string `json:"status"`
	ExternalID string `json:"external_id"`
}

// Adapter платёжный шлюз.
type Adapter interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Verify(ctx context.Context, cb Callback) (*VerifyResult, error)
}

// NewReference генерирует ключ платежа вида SANDBOX-1a2b3c4d5e6f7a8b.
func NewReference(gatewayName string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s-%s", strings.ToUpper(gatewayName), id[:16])
}

// Registry шлюзы по имени.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get возвращает шлюз по имени.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(name)]
	if !ok {
		return nil, apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("неизвестный платёжный шлюз %q", name))
	}
	return a, nil
}

// Names возвращает имена зарегистрированных шлюзов.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validateResult(res *VerifyResult) error {
	if res.Reference == "" {
		return apperror.New(apperror.ErrCodeValidation, "callback без reference")
	}
	if res.Status != StatusSuccess && res.Status != StatusFailed {
		return apperror.New(apperror.ErrCodeValidation, fmt.Sprintf("неизвестный статус платежа %q", res.Status))
	}
	return nil
}
