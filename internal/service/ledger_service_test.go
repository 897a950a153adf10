package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

func deposit(userID uuid.UUID, amount, ref string) LedgerEntry {
	return LedgerEntry{UserID: userID, Amount: money(amount), Type: models.TransactionTypeDeposit, Reference: ref}
}

func TestLedgerService_CreditIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()

	first, applied, err := env.ledger.Credit(ctx, deposit(user, "150.50", "dep-1"))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.TransactionStatusSuccess, first.Status)

	second, applied, err := env.ledger.Credit(ctx, deposit(user, "150.50", "dep-1"))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, "150.50", env.db.balance(user).StringFixed(2))
	assert.Equal(t, 1, env.db.countTransactions())
}

func TestLedgerService_DefaultCurrencyMatchesConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ledger := NewLedgerService(fakeLedgerRepo{db: env.db}, env.tx, fakeAuditRepo{db: env.db}, "")
	user := uuid.New()

	_, _, err := ledger.Credit(ctx, deposit(user, "10", "dep-usd"))
	require.NoError(t, err)

	w, err := ledger.GetWallet(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "USD", w.Currency)
}

func TestLedgerService_DebitInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()

	_, _, err := env.ledger.Credit(ctx, deposit(user, "50", "dep-1"))
	require.NoError(t, err)

	_, _, err = env.ledger.Debit(ctx, LedgerEntry{
		UserID: user, Amount: money("50.01"), Type: models.TransactionTypeWithdraw, Reference: "wd-1",
	})
	assert.True(t, apperror.IsInsufficientFunds(err))
	assert.Equal(t, "50.00", env.db.balance(user).StringFixed(2))

	_, err = env.ledger.GetByReference(ctx, "wd-1")
	assert.True(t, apperror.IsNotFound(err), "отклонённое списание не оставляет записи")
}

func TestLedgerService_RejectsWrongDirectionAndBadAmounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()

	_, _, err := env.ledger.Credit(ctx, LedgerEntry{UserID: user, Amount: money("1"), Type: models.TransactionTypeWithdraw, Reference: "x"})
	assert.True(t, apperror.IsValidation(err))

	_, _, err = env.ledger.Debit(ctx, deposit(user, "1", "y"))
	assert.True(t, apperror.IsValidation(err))

	_, _, err = env.ledger.Credit(ctx, deposit(user, "0.001", "z"))
	assert.True(t, apperror.IsValidation(err))

	_, _, err = env.ledger.Credit(ctx, deposit(user, "10", ""))
	assert.True(t, apperror.IsValidation(err))
}

func TestLedgerService_CountersTrackOnlyEscrowMovements(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()

	_, _, err := env.ledger.Credit(ctx, deposit(user, "500", "dep"))
	require.NoError(t, err)
	_, _, err = env.ledger.Debit(ctx, LedgerEntry{UserID: user, Amount: money("200"), Type: models.TransactionTypeEscrowHold, Reference: "hold"})
	require.NoError(t, err)
	_, _, err = env.ledger.Credit(ctx, LedgerEntry{UserID: user, Amount: money("90"), Type: models.TransactionTypeEscrowRelease, Reference: "rel", PlatformFee: money("10")})
	require.NoError(t, err)

	w, err := env.ledger.GetWallet(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "390.00", w.Balance.StringFixed(2))
	assert.Equal(t, "90.00", w.TotalEarned.StringFixed(2))
	assert.Equal(t, "200.00", w.TotalSpent.StringFixed(2))
}

func TestLedgerService_SettlePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()

	pending, created, err := env.ledger.RecordPending(ctx, deposit(user, "300", "SANDBOX-1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.TransactionStatusPending, pending.Status)
	assert.True(t, env.db.balance(user).IsZero())

	settled, applied, err := env.ledger.Settle(ctx, "SANDBOX-1", true, "ext-1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.TransactionStatusSuccess, settled.Status)
	assert.Equal(t, "300.00", env.db.balance(user).StringFixed(2))

	// Повторный callback ничего не меняет
	_, applied, err = env.ledger.Settle(ctx, "SANDBOX-1", true, "ext-1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "300.00", env.db.balance(user).StringFixed(2))

	_, _, err = env.ledger.RecordPending(ctx, deposit(user, "10", "SANDBOX-2"))
	require.NoError(t, err)
	failed, applied, err := env.ledger.Settle(ctx, "SANDBOX-2", false, "")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.TransactionStatusFailed, failed.Status)
	assert.Equal(t, "300.00", env.db.balance(user).StringFixed(2))
}

func TestLedgerService_Reverse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()

	orig, _, err := env.ledger.Credit(ctx, deposit(user, "120", "dep"))
	require.NoError(t, err)

	rev, applied, err := env.ledger.Reverse(ctx, env.admin, orig.ID, "ошибочное зачисление")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, models.TransactionStatusReversed, rev.Status)
	assert.Equal(t, "reversal:dep", rev.Reference)
	assert.True(t, env.db.balance(user).IsZero())

	again, applied, err := env.ledger.Reverse(ctx, env.admin, orig.ID, "повтор")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, rev.ID, again.ID)

	stored, err := env.ledger.GetByReference(ctx, "dep")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusSuccess, stored.Status, "исходная транзакция не меняется")
	assert.Contains(t, env.db.auditVerbs(orig.ID), models.VerbTransactionReversed)

	_, _, err = env.ledger.Reverse(ctx, env.admin, rev.ID, "")
	assert.True(t, apperror.IsConflict(err))
}

func TestLedgerService_RollbackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := uuid.New()

	env.db.failApplyDelta = func(uuid.UUID) error {
		return apperror.New(apperror.ErrCodeDatabaseError, "connection reset")
	}
	_, _, err := env.ledger.Credit(ctx, deposit(user, "10", "dep"))
	require.Error(t, err)
	assert.True(t, apperror.IsTransient(err))
	assert.Equal(t, 0, env.db.countTransactions())
	assert.Equal(t, 1, env.tx.rollbacks)

	env.db.failApplyDelta = nil
	_, applied, err := env.ledger.Credit(ctx, deposit(user, "10", "dep"))
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestLedgerService_BalanceMatchesJournal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	// положительные значения зачисления, отрицательные списания, в копейках
	opsGen := gen.SliceOf(gen.Int64Range(-50_000, 50_000).SuchThat(func(v int64) bool { return v != 0 }))

	properties.Property("balance equals credits minus debits and never goes negative", prop.ForAll(
		func(ops []int64) bool {
			env := newTestEnv(t)
			ctx := context.Background()
			user := uuid.New()
			expected := decimal.Zero

			for i, cents := range ops {
				amount := decimal.New(cents, -2)
				ref := fmt.Sprintf("op-%d", i)
				if cents > 0 {
					if _, _, err := env.ledger.Credit(ctx, LedgerEntry{UserID: user, Amount: amount, Type: models.TransactionTypeDeposit, Reference: ref}); err != nil {
						return false
					}
					expected = expected.Add(amount)
					continue
				}
				_, _, err := env.ledger.Debit(ctx, LedgerEntry{UserID: user, Amount: amount.Neg(), Type: models.TransactionTypeWithdraw, Reference: ref})
				switch {
				case err == nil:
					expected = expected.Add(amount)
				case !apperror.IsInsufficientFunds(err):
					return false
				}
			}

			balance := env.db.balance(user)
			journal := decimal.Zero
			txs, err := env.ledger.ListTransactions(ctx, user, 100, 0)
			if err != nil {
				return false
			}
			for _, tx := range txs {
				if tx.Status != models.TransactionStatusSuccess {
					continue
				}
				if models.IsCreditType(tx.Type) {
					journal = journal.Add(tx.Amount)
				} else {
					journal = journal.Sub(tx.Amount)
				}
			}
			return !balance.IsNegative() && balance.Equal(expected) && balance.Equal(journal)
		},
		opsGen,
	))

	properties.TestingRun(t)
}
