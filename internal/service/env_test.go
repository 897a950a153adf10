package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/freelance-escrow/internal/commission"
	"github.com/ignatzorin/freelance-escrow/internal/gateway"
	"github.com/ignatzorin/freelance-escrow/internal/lock"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/retry"
	"github.com/ignatzorin/freelance-escrow/internal/storage"
)

type testEnv struct {
	db        *memDB
	tx        *fakeTx
	ledger    *LedgerService
	escrows   *EscrowService
	contracts *ContractService
	disputes  *DisputeService
	recon     *ReconciliationService
	payments  *PaymentService

	buyer      Actor
	freelancer Actor
	admin      Actor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newMemDB()
	tx := &fakeTx{db: db}
	audit := fakeAuditRepo{db: db}
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	store, err := storage.NewLocalStore(t.TempDir(), 5)
	require.NoError(t, err)

	ledger := NewLedgerService(fakeLedgerRepo{db: db}, tx, audit, "USD")
	escrows := NewEscrowService(
		fakeEscrowRepo{db: db}, fakeDisputeRepo{db: db}, ledger, tx, audit,
		lock.NewLocalLocker(),
		commission.NewFlatPercent(decimal.NewFromInt(10)),
		time.Second, 500*time.Millisecond,
	)
	recon := NewReconciliationService(fakeReconRepo{db: db})
	contracts := NewContractService(fakeContractRepo{db: db}, escrows, recon, tx, audit, policy)
	disputes := NewDisputeService(fakeDisputeRepo{db: db}, fakeContractRepo{db: db}, escrows, store, tx, audit, 72*time.Hour)
	payments := NewPaymentService(
		ledger, fakeWithdrawalRepo{db: db},
		gateway.NewRegistry(gateway.NewSandbox()),
		recon, tx, audit, policy, time.Second, "USD",
	)

	recon.Handle(models.ReconKindMilestoneRelease, func(ctx context.Context, item *models.ReconciliationItem) error {
		id, err := uuid.Parse(item.RefID)
		if err != nil {
			return err
		}
		return contracts.RetryMilestoneRelease(ctx, id)
	})
	recon.Handle(models.ReconKindGatewayCallback, payments.RetryCallback)

	return &testEnv{
		db:         db,
		tx:         tx,
		ledger:     ledger,
		escrows:    escrows,
		contracts:  contracts,
		disputes:   disputes,
		recon:      recon,
		payments:   payments,
		buyer:      Actor{ID: uuid.New(), Role: models.RoleBuyer},
		freelancer: Actor{ID: uuid.New(), Role: models.RoleFreelancer},
		admin:      Actor{ID: uuid.New(), Role: models.RoleAdmin},
	}
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// acceptContract создаёт контракт с этапами заданных сумм.
func (e *testEnv) acceptContract(t *testing.T, total string, milestones ...string) *models.Contract {
	t.Helper()
	in := AcceptInput{
		ProjectID:    uuid.New(),
		BuyerID:      e.buyer.ID,
		FreelancerID: e.freelancer.ID,
		TotalAmount:  money(total),
	}
	for i, amount := range milestones {
		in.Milestones = append(in.Milestones, MilestoneInput{Title: "этап " + string(rune('A'+i)), Amount: money(amount)})
	}
	c, err := e.contracts.Accept(context.Background(), e.buyer, in)
	require.NoError(t, err)
	return c
}

// approve проводит этап через submit и approve.
func (e *testEnv) approve(t *testing.T, milestoneID uuid.UUID) (*models.Milestone, error) {
	t.Helper()
	ctx := context.Background()
	_, err := e.contracts.SubmitMilestone(ctx, e.freelancer, milestoneID)
	require.NoError(t, err)
	return e.contracts.ApproveMilestone(ctx, e.buyer, milestoneID)
}

func (e *testEnv) escrowFor(t *testing.T, contractID uuid.UUID) *models.Escrow {
	t.Helper()
	esc, err := e.escrows.GetByContract(context.Background(), contractID)
	require.NoError(t, err)
	return esc
}
