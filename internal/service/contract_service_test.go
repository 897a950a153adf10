package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

func TestContractService_Accept(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	c := env.acceptContract(t, "1000", "400", "600")
	assert.Equal(t, models.ContractStatusActive, c.Status)
	assert.Equal(t, "100.00", c.Commission.StringFixed(2))
	require.Len(t, c.Milestones, 2)

	esc := env.escrowFor(t, c.ID)
	assert.Equal(t, valueobject.EscrowStatusHeld, esc.Status)
	assert.True(t, esc.Amount.Equal(c.TotalAmount))
	assert.Contains(t, env.db.auditVerbs(c.ID), models.VerbContractAccepted)

	_, err := env.contracts.Accept(ctx, env.buyer, AcceptInput{
		ProjectID: c.ProjectID, BuyerID: env.buyer.ID, FreelancerID: env.freelancer.ID, TotalAmount: money("10"),
	})
	assert.True(t, apperror.IsConflict(err))
}

func TestContractService_AcceptValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := AcceptInput{ProjectID: uuid.New(), BuyerID: env.buyer.ID, FreelancerID: env.freelancer.ID, TotalAmount: money("100")}

	_, err := env.contracts.Accept(ctx, env.freelancer, base)
	assert.True(t, apperror.IsForbidden(err))

	over := base
	over.Milestones = []MilestoneInput{{Title: "a", Amount: money("60")}, {Title: "b", Amount: money("41")}}
	_, err = env.contracts.Accept(ctx, env.buyer, over)
	assert.True(t, apperror.IsValidation(err))

	untitled := base
	untitled.Milestones = []MilestoneInput{{Title: "  ", Amount: money("10")}}
	_, err = env.contracts.Accept(ctx, env.buyer, untitled)
	assert.True(t, apperror.IsValidation(err))

	funded := base
	funded.FundFromWallet = true
	_, err = env.contracts.Accept(ctx, env.buyer, funded)
	assert.True(t, apperror.IsInsufficientFunds(err))
	_, err = fakeContractRepo{db: env.db}.GetByProjectID(ctx, base.ProjectID)
	assert.True(t, apperror.IsNotFound(err), "контракт откатывается вместе с удержанием")
}

func TestContractService_MilestoneLifecycleCompletesContract(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.acceptContract(t, "1000", "400", "600")

	first, err := env.approve(t, c.Milestones[0].ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MilestoneStatusPaid, first.Status)
	assert.NotNil(t, first.PaidAt)
	assert.Equal(t, "360.00", env.db.balance(env.freelancer.ID).StringFixed(2))

	eligible, err := env.contracts.ReviewEligible(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, eligible)

	_, err = env.approve(t, c.Milestones[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "900.00", env.db.balance(env.freelancer.ID).StringFixed(2))

	got, err := env.contracts.GetContract(ctx, env.freelancer, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContractStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, valueobject.EscrowStatusReleased, env.escrowFor(t, c.ID).Status)

	eligible, err = env.contracts.ReviewEligible(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, eligible)

	// Повторное подтверждение оплаченного этапа ничего не выплачивает
	again, err := env.contracts.ApproveMilestone(ctx, env.buyer, c.Milestones[0].ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MilestoneStatusPaid, again.Status)
	assert.Equal(t, "900.00", env.db.balance(env.freelancer.ID).StringFixed(2))
}

func TestContractService_CompletionRefundsUnallocatedRemainder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.acceptContract(t, "1000", "400")

	m, err := env.approve(t, c.Milestones[0].ID)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MilestoneStatusPaid, m.Status)

	got, err := env.contracts.GetContract(ctx, env.buyer, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ContractStatusCompleted, got.Status)

	esc := env.escrowFor(t, c.ID)
	assert.Equal(t, valueobject.EscrowStatusRefunded, esc.Status)
	assert.True(t, esc.Remaining().IsZero())
	assert.Equal(t, "40.00", esc.CommissionReleased.StringFixed(2))
	assert.Equal(t, "360.00", env.db.balance(env.freelancer.ID).StringFixed(2))
	assert.Equal(t, "600.00", env.db.balance(env.buyer.ID).StringFixed(2))
	assert.Contains(t, env.db.auditVerbs(esc.ID), models.VerbEscrowRefunded)

	// повтор подтверждения ничего не меняет
	_, err = env.contracts.ApproveMilestone(ctx, env.buyer, c.Milestones[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "600.00", env.db.balance(env.buyer.ID).StringFixed(2))
}

func TestContractService_MilestonePermissionsAndTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.acceptContract(t, "500", "500")
	id := c.Milestones[0].ID

	_, err := env.contracts.SubmitMilestone(ctx, env.buyer, id)
	assert.True(t, apperror.IsForbidden(err))

	_, err = env.contracts.ApproveMilestone(ctx, env.buyer, id)
	assert.True(t, apperror.IsConflict(err), "нельзя подтвердить несданный этап")

	_, err = env.contracts.SubmitMilestone(ctx, env.freelancer, id)
	require.NoError(t, err)

	_, err = env.contracts.ApproveMilestone(ctx, env.freelancer, id)
	assert.True(t, apperror.IsForbidden(err))

	_, err = env.contracts.RejectMilestone(ctx, env.buyer, id, "")
	assert.True(t, apperror.IsValidation(err))

	rejected, err := env.contracts.RejectMilestone(ctx, env.buyer, id, "нет тестов")
	require.NoError(t, err)
	assert.Equal(t, valueobject.MilestoneStatusRejected, rejected.Status)
	require.NotNil(t, rejected.Feedback)
	assert.Equal(t, "нет тестов", *rejected.Feedback)

	m, err := env.approve(t, id)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MilestoneStatusPaid, m.Status)

	outsider := Actor{ID: uuid.New(), Role: models.RoleBuyer}
	_, err = env.contracts.GetContract(ctx, outsider, c.ID)
	assert.True(t, apperror.IsForbidden(err))
	_, err = env.contracts.GetEscrow(ctx, env.admin, c.ID)
	assert.NoError(t, err)
}

func TestContractService_AddMilestone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.acceptContract(t, "1000", "400")

	m, err := env.contracts.AddMilestone(ctx, env.buyer, c.ID, MilestoneInput{Title: "дизайн", Amount: money("600")})
	require.NoError(t, err)
	assert.Equal(t, valueobject.MilestoneStatusPending, m.Status)

	_, err = env.contracts.AddMilestone(ctx, env.buyer, c.ID, MilestoneInput{Title: "лишний", Amount: money("0.01")})
	assert.True(t, apperror.IsValidation(err))

	_, err = env.contracts.AddMilestone(ctx, env.freelancer, c.ID, MilestoneInput{Title: "x", Amount: money("1")})
	assert.True(t, apperror.IsForbidden(err))

	list, err := env.contracts.ListMilestones(ctx, env.freelancer, c.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestContractService_TransientReleaseGoesToReconciliation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.acceptContract(t, "1000", "1000")
	id := c.Milestones[0].ID

	calls := 0
	env.db.failApplyDelta = func(userID uuid.UUID) error {
		if userID != env.freelancer.ID {
			return nil
		}
		calls++
		return apperror.New(apperror.ErrCodeDatabaseError, "connection reset")
	}

	_, err := env.approve(t, id)
	require.Error(t, err)
	assert.True(t, apperror.IsTransient(err))
	assert.Equal(t, 3, calls, "выплата повторяется по политике")

	m, err := fakeContractRepo{db: env.db}.GetMilestone(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MilestoneStatusApproved, m.Status)
	assert.True(t, env.db.balance(env.freelancer.ID).IsZero())
	assert.Equal(t, valueobject.EscrowStatusHeld, env.escrowFor(t, c.ID).Status)

	items, err := env.recon.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ReconKindMilestoneRelease, items[0].Kind)
	assert.Equal(t, id.String(), items[0].RefID)
	require.NotNil(t, items[0].LastError)

	failed, err := env.recon.Retry(ctx, items[0].ID)
	require.Error(t, err)
	assert.Equal(t, 2, failed.Attempts)

	env.db.failApplyDelta = nil
	resolved, err := env.recon.Retry(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReconStatusResolved, resolved.Status)

	m, err = fakeContractRepo{db: env.db}.GetMilestone(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, valueobject.MilestoneStatusPaid, m.Status)
	assert.Equal(t, "900.00", env.db.balance(env.freelancer.ID).StringFixed(2))

	open, err := env.recon.ListOpen(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestContractService_FrozenEscrowBlocksMilestonePayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.acceptContract(t, "1000", "1000")
	esc := env.escrowFor(t, c.ID)

	_, _, err := env.escrows.Freeze(ctx, esc.ID, "dispute", nil)
	require.NoError(t, err)

	_, err = env.approve(t, c.Milestones[0].ID)
	assert.True(t, apperror.IsEscrowFrozen(err))

	items, err := env.recon.ListOpen(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items, "постоянная ошибка не ставится в сверку")
}
