package service

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ignatzorin/freelance-escrow/internal/domain/valueobject"
	"github.com/ignatzorin/freelance-escrow/internal/models"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-escrow/internal/repository"
)

// memState состояние in-memory хранилища. Откат транзакции восстанавливает снимок.
type memState struct {
	wallets     map[uuid.UUID]models.Wallet
	txs         map[uuid.UUID]models.Transaction
	txRefs      map[string]uuid.UUID
	txOrder     []uuid.UUID
	escrows     map[uuid.UUID]models.Escrow
	contracts   map[uuid.UUID]models.Contract
	milestones  map[uuid.UUID]models.Milestone
	msOrder     []uuid.UUID
	disputes    map[uuid.UUID]models.Dispute
	decisions   map[uuid.UUID]models.ArbitrationDecision
	evidence    []models.Evidence
	audit       []models.AuditEvent
	cursors     map[string]int64
	recon       map[uuid.UUID]models.ReconciliationItem
	withdrawals map[uuid.UUID]models.Withdrawal
}

func (s memState) clone() memState {
	return memState{
		wallets:     maps.Clone(s.wallets),
		txs:         maps.Clone(s.txs),
		txRefs:      maps.Clone(s.txRefs),
		txOrder:     slices.Clone(s.txOrder),
		escrows:     maps.Clone(s.escrows),
		contracts:   maps.Clone(s.contracts),
		milestones:  maps.Clone(s.milestones),
		msOrder:     slices.Clone(s.msOrder),
		disputes:    maps.Clone(s.disputes),
		decisions:   maps.Clone(s.decisions),
		evidence:    slices.Clone(s.evidence),
		audit:       slices.Clone(s.audit),
		cursors:     maps.Clone(s.cursors),
		recon:       maps.Clone(s.recon),
		withdrawals: maps.Clone(s.withdrawals),
	}
}

type memDB struct {
	mu sync.Mutex
	memState
	seq int64

	// failApplyDelta подменяет результат изменения баланса.
	failApplyDelta func(userID uuid.UUID) error
}

func newMemDB() *memDB {
	return &memDB{memState: memState{
		wallets:     map[uuid.UUID]models.Wallet{},
		txs:         map[uuid.UUID]models.Transaction{},
		txRefs:      map[string]uuid.UUID{},
		escrows:     map[uuid.UUID]models.Escrow{},
		contracts:   map[uuid.UUID]models.Contract{},
		milestones:  map[uuid.UUID]models.Milestone{},
		disputes:    map[uuid.UUID]models.Dispute{},
		decisions:   map[uuid.UUID]models.ArbitrationDecision{},
		cursors:     map[string]int64{},
		recon:       map[uuid.UUID]models.ReconciliationItem{},
		withdrawals: map[uuid.UUID]models.Withdrawal{},
	}}
}

func (db *memDB) snapshot() memState {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.memState.clone()
}

func (db *memDB) restore(s memState) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.memState = s
}

func (db *memDB) balance(userID uuid.UUID) decimal.Decimal {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.wallets[userID].Balance
}

func (db *memDB) auditVerbs(entityID uuid.UUID) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	var verbs []string
	for _, ev := range db.audit {
		if ev.EntityID == entityID {
			verbs = append(verbs, ev.Verb)
		}
	}
	return verbs
}

func (db *memDB) countTransactions() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.txs)
}

type fakeTxKey struct{}

// fakeTx сериализует транзакции и откатывает состояние при ошибке.
type fakeTx struct {
	db        *memDB
	mu        sync.Mutex
	rollbacks int
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := f.db.snapshot()
	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		f.db.restore(snap)
		f.rollbacks++
		return err
	}
	return nil
}

type fakeLedgerRepo struct{ db *memDB }

func (r fakeLedgerRepo) EnsureWallet(_ context.Context, userID uuid.UUID, currency string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.wallets[userID]; !ok {
		r.db.wallets[userID] = models.Wallet{UserID: userID, Currency: currency, CreatedAt: time.Now()}
	}
	return nil
}

func (r fakeLedgerRepo) GetWallet(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w, ok := r.db.wallets[userID]
	if !ok {
		return nil, apperror.ErrWalletNotFound
	}
	return &w, nil
}

func (r fakeLedgerRepo) LockWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return r.GetWallet(ctx, userID)
}

func (r fakeLedgerRepo) ApplyDelta(_ context.Context, userID uuid.UUID, delta, earned, spent decimal.Decimal) error {
	if r.db.failApplyDelta != nil {
		if err := r.db.failApplyDelta(userID); err != nil {
			return err
		}
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w, ok := r.db.wallets[userID]
	if !ok {
		return apperror.ErrWalletNotFound
	}
	w.Balance = w.Balance.Add(delta)
	if w.Balance.IsNegative() {
		return apperror.ErrInsufficientFunds
	}
	w.TotalEarned = w.TotalEarned.Add(earned)
	w.TotalSpent = w.TotalSpent.Add(spent)
	r.db.wallets[userID] = w
	return nil
}

func (r fakeLedgerRepo) InsertTransaction(_ context.Context, t *models.Transaction) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.txRefs[t.Reference]; ok {
		return false, nil
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	r.db.txs[t.ID] = *t
	r.db.txRefs[t.Reference] = t.ID
	r.db.txOrder = append(r.db.txOrder, t.ID)
	return true, nil
}

func (r fakeLedgerRepo) MarkTransaction(_ context.Context, t *models.Transaction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.txs[t.ID]
	if !ok || stored.Status != models.TransactionStatusPending {
		return apperror.New(apperror.ErrCodeConflict, "транзакция уже завершена")
	}
	stored.Status = t.Status
	stored.CompletedAt = t.CompletedAt
	if t.ExternalID != nil {
		stored.ExternalID = t.ExternalID
	}
	r.db.txs[t.ID] = stored
	return nil
}

func (r fakeLedgerRepo) GetTransaction(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.txs[id]
	if !ok {
		return nil, apperror.ErrTransactionNotFound
	}
	return &t, nil
}

func (r fakeLedgerRepo) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	r.db.mu.Lock()
	id, ok := r.db.txRefs[reference]
	r.db.mu.Unlock()
	if !ok {
		return nil, apperror.ErrTransactionNotFound
	}
	return r.GetTransaction(ctx, id)
}

func (r fakeLedgerRepo) LockTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return r.GetTransactionByReference(ctx, reference)
}

func (r fakeLedgerRepo) ListTransactions(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Transaction
	for i := len(r.db.txOrder) - 1; i >= 0; i-- {
		t := r.db.txs[r.db.txOrder[i]]
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return page(out, limit, offset), nil
}

type fakeEscrowRepo struct{ db *memDB }

func (r fakeEscrowRepo) Create(_ context.Context, e *models.Escrow) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.escrows {
		if existing.ContractID == e.ContractID {
			return false, nil
		}
	}
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	r.db.escrows[e.ID] = *e
	return true, nil
}

func (r fakeEscrowRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Escrow, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.escrows[id]
	if !ok {
		return nil, apperror.ErrEscrowNotFound
	}
	return &e, nil
}

func (r fakeEscrowRepo) GetByContractID(_ context.Context, contractID uuid.UUID) (*models.Escrow, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, e := range r.db.escrows {
		if e.ContractID == contractID {
			return &e, nil
		}
	}
	return nil, apperror.ErrEscrowNotFound
}

func (r fakeEscrowRepo) LockByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error) {
	return r.GetByID(ctx, id)
}

func (r fakeEscrowRepo) Update(_ context.Context, e *models.Escrow) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if e.ReleasedAmount.GreaterThan(e.Amount) || e.CommissionReleased.GreaterThan(e.Commission) {
		return apperror.New(apperror.ErrCodeDatabaseError, "check constraint")
	}
	e.UpdatedAt = time.Now()
	r.db.escrows[e.ID] = *e
	return nil
}

type fakeContractRepo struct{ db *memDB }

func (r fakeContractRepo) Create(_ context.Context, c *models.Contract) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.contracts {
		if existing.ProjectID == c.ProjectID {
			return false, nil
		}
	}
	stored := *c
	stored.Milestones = nil
	r.db.contracts[c.ID] = stored
	return true, nil
}

func (r fakeContractRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Contract, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.contracts[id]
	if !ok {
		return nil, apperror.ErrContractNotFound
	}
	return &c, nil
}

func (r fakeContractRepo) GetByProjectID(_ context.Context, projectID uuid.UUID) (*models.Contract, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.contracts {
		if c.ProjectID == projectID {
			return &c, nil
		}
	}
	return nil, apperror.ErrContractNotFound
}

func (r fakeContractRepo) LockByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	return r.GetByID(ctx, id)
}

func (r fakeContractRepo) MarkCompleted(_ context.Context, id uuid.UUID, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c := r.db.contracts[id]
	c.Status = models.ContractStatusCompleted
	c.CompletedAt = &at
	r.db.contracts[id] = c
	return nil
}

func (r fakeContractRepo) CreateMilestone(_ context.Context, m *models.Milestone) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	r.db.milestones[m.ID] = *m
	r.db.msOrder = append(r.db.msOrder, m.ID)
	return nil
}

func (r fakeContractRepo) GetMilestone(_ context.Context, id uuid.UUID) (*models.Milestone, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m, ok := r.db.milestones[id]
	if !ok {
		return nil, apperror.ErrMilestoneNotFound
	}
	return &m, nil
}

func (r fakeContractRepo) LockMilestone(ctx context.Context, id uuid.UUID) (*models.Milestone, error) {
	return r.GetMilestone(ctx, id)
}

func (r fakeContractRepo) UpdateMilestone(_ context.Context, m *models.Milestone) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	m.UpdatedAt = time.Now()
	r.db.milestones[m.ID] = *m
	return nil
}

func (r fakeContractRepo) ListMilestones(_ context.Context, contractID uuid.UUID) ([]models.Milestone, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.Milestone{}
	for _, id := range r.db.msOrder {
		if m := r.db.milestones[id]; m.ContractID == contractID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r fakeContractRepo) SumMilestones(ctx context.Context, contractID uuid.UUID) (decimal.Decimal, error) {
	list, _ := r.ListMilestones(ctx, contractID)
	sum := decimal.Zero
	for _, m := range list {
		sum = sum.Add(m.Amount)
	}
	return sum, nil
}

func (r fakeContractRepo) CountUnpaid(ctx context.Context, contractID uuid.UUID) (int, error) {
	list, _ := r.ListMilestones(ctx, contractID)
	n := 0
	for _, m := range list {
		if m.Status != valueobject.MilestoneStatusPaid {
			n++
		}
	}
	return n, nil
}

type fakeDisputeRepo struct{ db *memDB }

func (r fakeDisputeRepo) Create(_ context.Context, d *models.Dispute) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.disputes {
		if existing.ContractID == d.ContractID {
			return repository.ErrDisputeExists
		}
	}
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	r.db.disputes[d.ID] = *d
	return nil
}

func (r fakeDisputeRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.disputes[id]
	if !ok {
		return nil, apperror.ErrDisputeNotFound
	}
	return &d, nil
}

func (r fakeDisputeRepo) LockByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return r.GetByID(ctx, id)
}

func (r fakeDisputeRepo) GetByContractID(_ context.Context, contractID uuid.UUID) (*models.Dispute, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, d := range r.db.disputes {
		if d.ContractID == contractID {
			return &d, nil
		}
	}
	return nil, apperror.ErrDisputeNotFound
}

func (r fakeDisputeRepo) Update(_ context.Context, d *models.Dispute) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d.UpdatedAt = time.Now()
	r.db.disputes[d.ID] = *d
	return nil
}

func (r fakeDisputeRepo) List(_ context.Context, f repository.DisputeFilter) ([]models.Dispute, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Dispute
	for _, d := range r.db.disputes {
		if f.UserID != nil && !d.IsParty(*f.UserID) {
			continue
		}
		if f.Status != "" && string(d.Status) != f.Status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (r fakeDisputeRepo) ClaimOverdue(_ context.Context, now time.Time, limit int) ([]models.Dispute, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Dispute
	for id, d := range r.db.disputes {
		if len(out) >= limit {
			break
		}
		if !d.Status.IsEscalatable() || d.SLADeadline.After(now) {
			continue
		}
		d.Status = valueobject.DisputeStatusEscalated
		r.db.disputes[id] = d
		out = append(out, d)
	}
	return out, nil
}

func (r fakeDisputeRepo) CreateDecision(_ context.Context, d *models.ArbitrationDecision) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.decisions[d.DisputeID]; ok {
		return false, nil
	}
	d.DecidedAt = time.Now()
	r.db.decisions[d.DisputeID] = *d
	return true, nil
}

func (r fakeDisputeRepo) GetDecision(_ context.Context, disputeID uuid.UUID) (*models.ArbitrationDecision, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.decisions[disputeID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (r fakeDisputeRepo) AddEvidence(_ context.Context, e *models.Evidence) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e.CreatedAt = time.Now()
	r.db.evidence = append(r.db.evidence, *e)
	return nil
}

func (r fakeDisputeRepo) ListEvidence(_ context.Context, disputeID uuid.UUID) ([]models.Evidence, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.Evidence{}
	for _, e := range r.db.evidence {
		if e.DisputeID == disputeID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeAuditRepo struct{ db *memDB }

func (r fakeAuditRepo) Append(_ context.Context, e *models.AuditEvent) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.seq++
	e.Seq = r.db.seq
	e.CreatedAt = time.Now()
	r.db.audit = append(r.db.audit, *e)
	return nil
}

func (r fakeAuditRepo) ListByEntity(_ context.Context, entityType string, entityID uuid.UUID) ([]models.AuditEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []models.AuditEvent{}
	for _, ev := range r.db.audit {
		if ev.EntityType == entityType && ev.EntityID == entityID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type fakeReconRepo struct{ db *memDB }

func (r fakeReconRepo) Enqueue(_ context.Context, item *models.ReconciliationItem) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, existing := range r.db.recon {
		if existing.Kind == item.Kind && existing.RefID == item.RefID && existing.Status == models.ReconStatusOpen {
			existing.Attempts++
			existing.Reason = item.Reason
			existing.LastError = item.LastError
			r.db.recon[id] = existing
			*item = existing
			return nil
		}
	}
	item.ID = uuid.New()
	item.Attempts = 1
	item.Status = models.ReconStatusOpen
	item.CreatedAt = time.Now()
	r.db.recon[item.ID] = *item
	return nil
}

func (r fakeReconRepo) GetByID(_ context.Context, id uuid.UUID) (*models.ReconciliationItem, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	item, ok := r.db.recon[id]
	if !ok {
		return nil, apperror.ErrReconNotFound
	}
	return &item, nil
}

func (r fakeReconRepo) ListOpen(_ context.Context, limit int) ([]models.ReconciliationItem, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.ReconciliationItem
	for _, item := range r.db.recon {
		if item.Status == models.ReconStatusOpen {
			out = append(out, item)
		}
	}
	return page(out, limit, 0), nil
}

func (r fakeReconRepo) MarkResolved(_ context.Context, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	item, ok := r.db.recon[id]
	if !ok || item.Status != models.ReconStatusOpen {
		return apperror.ErrReconNotFound
	}
	item.Status = models.ReconStatusResolved
	r.db.recon[id] = item
	return nil
}

func (r fakeReconRepo) RecordFailure(_ context.Context, id uuid.UUID, lastErr string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	item := r.db.recon[id]
	item.Attempts++
	item.LastError = &lastErr
	r.db.recon[id] = item
	return nil
}

type fakeWithdrawalRepo struct{ db *memDB }

func (r fakeWithdrawalRepo) Create(_ context.Context, w *models.Withdrawal) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w.CreatedAt = time.Now()
	r.db.withdrawals[w.ID] = *w
	return nil
}

func (r fakeWithdrawalRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w, ok := r.db.withdrawals[id]
	if !ok {
		return nil, apperror.ErrWithdrawalNotFound
	}
	return &w, nil
}

func (r fakeWithdrawalRepo) LockByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	return r.GetByID(ctx, id)
}

func (r fakeWithdrawalRepo) ListByUser(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.Withdrawal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Withdrawal
	for _, w := range r.db.withdrawals {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	return page(out, limit, offset), nil
}

func (r fakeWithdrawalRepo) ListPending(_ context.Context, limit, offset int) ([]models.Withdrawal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Withdrawal
	for _, w := range r.db.withdrawals {
		if w.Status == models.WithdrawalStatusPending {
			out = append(out, w)
		}
	}
	return page(out, limit, offset), nil
}

func (r fakeWithdrawalRepo) Update(_ context.Context, w *models.Withdrawal) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.withdrawals[w.ID] = *w
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
