package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/retry"
)

func callback(t *testing.T, reference, status string) gateway.Callback {
	t.Helper()
	body, err := json.Marshal(gateway.VerifyResult{Reference: reference, Status: status, ExternalID: "ext-" + reference})
	require.NoError(t, err)
	return gateway.Callback{Body: body}
}

// fund пополняет кошелёк через sandbox.
func (e *testEnv) fund(t *testing.T, actor Actor, amount string) {
	t.Helper()
	ctx := context.Background()
	res, err := e.payments.InitiateDeposit(ctx, actor, "sandbox", money(amount))
	require.NoError(t, err)
	_, err = e.payments.HandleCallback(ctx, "sandbox", callback(t, res.Reference, gateway.StatusSuccess))
	require.NoError(t, err)
}

func TestPaymentService_DepositSettledByCallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.payments.InitiateDeposit(ctx, env.buyer, "SANDBOX", money("250"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.RedirectURL)
	assert.Equal(t, models.TransactionStatusPending, res.Transaction.Status)
	require.NotNil(t, res.Transaction.Gateway)
	assert.Equal(t, "sandbox", *res.Transaction.Gateway)
	assert.True(t, env.db.balance(env.buyer.ID).IsZero())

	tx, err := env.payments.HandleCallback(ctx, "sandbox", callback(t, res.Reference, gateway.StatusSuccess))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusSuccess, tx.Status)
	assert.Equal(t, "250.00", env.db.balance(env.buyer.ID).StringFixed(2))

	// повторный callback не зачисляет второй раз
	_, err = env.payments.HandleCallback(ctx, "sandbox", callback(t, res.Reference, gateway.StatusSuccess))
	require.NoError(t, err)
	assert.Equal(t, "250.00", env.db.balance(env.buyer.ID).StringFixed(2))
}

func TestPaymentService_FailedCallback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.payments.InitiateDeposit(ctx, env.buyer, "sandbox", money("99.99"))
	require.NoError(t, err)

	tx, err := env.payments.HandleCallback(ctx, "sandbox", callback(t, res.Reference, gateway.StatusFailed))
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, tx.Status)
	assert.True(t, env.db.balance(env.buyer.ID).IsZero())

	_, err = env.payments.HandleCallback(ctx, "sandbox", gateway.Callback{Body: []byte("{broken")})
	assert.True(t, apperror.IsValidation(err))

	_, err = env.payments.InitiateDeposit(ctx, env.buyer, "paypal", money("10"))
	assert.True(t, apperror.IsValidation(err))

	items, err := env.recon.ListOpen(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

// flakyGateway sandbox, чья проверка callback недоступна, пока down=true.
type flakyGateway struct {
	*gateway.Sandbox
	down  atomic.Bool
	calls atomic.Int32
}

func (g *flakyGateway) Name() string { return "flaky" }

func (g *flakyGateway) Verify(ctx context.Context, cb gateway.Callback) (*gateway.VerifyResult, error) {
	g.calls.Add(1)
	if g.down.Load() {
		return nil, apperror.New(apperror.ErrCodeGateway, "шлюз недоступен")
	}
	return g.Sandbox.Verify(ctx, cb)
}

func TestPaymentService_UnavailableGatewayGoesToReconciliation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	flaky := &flakyGateway{Sandbox: gateway.NewSandbox()}
	payments := NewPaymentService(
		env.ledger, fakeWithdrawalRepo{db: env.db},
		gateway.NewRegistry(flaky),
		env.recon, env.tx, fakeAuditRepo{db: env.db},
		retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, time.Second, "USD",
	)
	env.recon.Handle(models.ReconKindGatewayCallback, payments.RetryCallback)

	res, err := payments.InitiateDeposit(ctx, env.buyer, "flaky", money("500"))
	require.NoError(t, err)

	flaky.down.Store(true)
	_, err = payments.HandleCallback(ctx, "flaky", callback(t, res.Reference, gateway.StatusSuccess))
	require.Error(t, err)
	assert.Equal(t, apperror.ErrCodeGateway, apperror.Code(err))
	assert.Equal(t, int32(2), flaky.calls.Load())

	items, err := env.recon.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ReconKindGatewayCallback, items[0].Kind)
	assert.True(t, env.db.balance(env.buyer.ID).IsZero())

	flaky.down.Store(false)
	resolved, err := env.recon.RetryOpen(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, "500.00", env.db.balance(env.buyer.ID).StringFixed(2))

	stored, err := env.ledger.GetByReference(ctx, res.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusSuccess, stored.Status)
}

func TestPaymentService_WithdrawalLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, env.freelancer, "300")

	_, err := env.payments.RequestWithdrawal(ctx, env.freelancer, money("99.99"), "4276 0000 0000 0000")
	assert.True(t, apperror.IsValidation(err))
	_, err = env.payments.RequestWithdrawal(ctx, env.freelancer, money("150"), " ")
	assert.True(t, apperror.IsValidation(err))
	_, err = env.payments.RequestWithdrawal(ctx, env.freelancer, money("300.01"), "card")
	assert.True(t, apperror.IsInsufficientFunds(err))

	w, err := env.payments.RequestWithdrawal(ctx, env.freelancer, money("200"), "card")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusPending, w.Status)
	assert.Equal(t, "100.00", env.db.balance(env.freelancer.ID).StringFixed(2))

	_, err = env.payments.RejectWithdrawal(ctx, env.freelancer, w.ID, "передумал")
	assert.True(t, apperror.IsForbidden(err))
	_, err = env.payments.RejectWithdrawal(ctx, env.admin, w.ID, "")
	assert.True(t, apperror.IsValidation(err))

	pending, err := env.payments.ListPendingWithdrawals(ctx, env.admin, 0, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	rejected, err := env.payments.RejectWithdrawal(ctx, env.admin, w.ID, "неверные реквизиты")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusRejected, rejected.Status)
	assert.Equal(t, "300.00", env.db.balance(env.freelancer.ID).StringFixed(2))

	again, err := env.payments.RejectWithdrawal(ctx, env.admin, w.ID, "неверные реквизиты")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusRejected, again.Status)
	assert.Equal(t, "300.00", env.db.balance(env.freelancer.ID).StringFixed(2))

	_, err = env.payments.CompleteWithdrawal(ctx, env.admin, w.ID)
	assert.True(t, apperror.IsConflict(err))

	second, err := env.payments.RequestWithdrawal(ctx, env.freelancer, money("150"), "card")
	require.NoError(t, err)
	done, err := env.payments.CompleteWithdrawal(ctx, env.admin, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalStatusCompleted, done.Status)
	assert.NotNil(t, done.ProcessedAt)
	assert.Equal(t, "150.00", env.db.balance(env.freelancer.ID).StringFixed(2))

	mine, err := env.payments.ListWithdrawals(ctx, env.freelancer, 0, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	_, err = env.payments.ListPendingWithdrawals(ctx, env.freelancer, 0, 0)
	assert.True(t, apperror.IsForbidden(err))
}
