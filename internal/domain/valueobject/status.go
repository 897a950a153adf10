package valueobject

import "github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"

type EscrowStatus string

const (
	EscrowStatusHeld          EscrowStatus = "held"
	EscrowStatusReleased      EscrowStatus = "released"
	EscrowStatusRefunded      EscrowStatus = "refunded"
	EscrowStatusSplitResolved EscrowStatus = "split_resolved"
)

func (s EscrowStatus) IsValid() bool {
	switch s {
	case EscrowStatusHeld, EscrowStatusReleased, EscrowStatusRefunded, EscrowStatusSplitResolved:
		return true
	}
	return false
}

// IsTerminal: из held escrow выходит ровно один раз.
func (s EscrowStatus) IsTerminal() bool {
	return s != EscrowStatusHeld
}

type MilestoneStatus string

const (
	MilestoneStatusPending   MilestoneStatus = "pending"
	MilestoneStatusSubmitted MilestoneStatus = "submitted"
	MilestoneStatusApproved  MilestoneStatus = "approved"
	MilestoneStatusRejected  MilestoneStatus = "rejected"
	MilestoneStatusPaid      MilestoneStatus = "paid"
)

func (s MilestoneStatus) IsValid() bool {
	switch s {
	case MilestoneStatusPending, MilestoneStatusSubmitted, MilestoneStatusApproved, MilestoneStatusRejected, MilestoneStatusPaid:
		return true
	}
	return false
}

func (s MilestoneStatus) CanTransitionTo(newStatus MilestoneStatus) bool {
	transitions := map[MilestoneStatus][]MilestoneStatus{
		MilestoneStatusPending:   {MilestoneStatusSubmitted},
		MilestoneStatusSubmitted: {MilestoneStatusApproved, MilestoneStatusRejected},
		MilestoneStatusRejected:  {MilestoneStatusSubmitted},
		MilestoneStatusApproved:  {MilestoneStatusPaid},
		MilestoneStatusPaid:      {},
	}
	return allowed(transitions[s], newStatus)
}

type DisputeStatus string

const (
	DisputeStatusOpen               DisputeStatus = "open"
	DisputeStatusUnderReview        DisputeStatus = "under_review"
	DisputeStatusMediation          DisputeStatus = "mediation"
	DisputeStatusEscalated          DisputeStatus = "escalated"
	DisputeStatusResolvedBuyer      DisputeStatus = "resolved_buyer"
	DisputeStatusResolvedFreelancer DisputeStatus = "resolved_freelancer"
	DisputeStatusResolvedSplit      DisputeStatus = "resolved_split"
	DisputeStatusCancelled          DisputeStatus = "cancelled"
)

var resolvedStatuses = []DisputeStatus{
	DisputeStatusResolvedBuyer,
	DisputeStatusResolvedFreelancer,
	DisputeStatusResolvedSplit,
}

func (s DisputeStatus) IsValid() bool {
	switch s {
	case DisputeStatusOpen, DisputeStatusUnderReview, DisputeStatusMediation, DisputeStatusEscalated,
		DisputeStatusResolvedBuyer, DisputeStatusResolvedFreelancer, DisputeStatusResolvedSplit, DisputeStatusCancelled:
		return true
	}
	return false
}

// IsResolved сообщает, что по спору вынесено решение.
func (s DisputeStatus) IsResolved() bool {
	return allowed(resolvedStatuses, s)
}

// IsClosed: решённый или отменённый спор больше не меняется.
func (s DisputeStatus) IsClosed() bool {
	return s.IsResolved() || s == DisputeStatusCancelled
}

// IsEscalatable: статусы, из которых планировщик переводит спор в escalated.
func (s DisputeStatus) IsEscalatable() bool {
	return s == DisputeStatusOpen || s == DisputeStatusUnderReview || s == DisputeStatusMediation
}

func (s DisputeStatus) CanTransitionTo(newStatus DisputeStatus) bool {
	withResolved := func(base ...DisputeStatus) []DisputeStatus {
		return append(base, resolvedStatuses...)
	}
	transitions := map[DisputeStatus][]DisputeStatus{
		DisputeStatusOpen:               withResolved(DisputeStatusUnderReview, DisputeStatusEscalated, DisputeStatusCancelled),
		DisputeStatusUnderReview:        withResolved(DisputeStatusMediation, DisputeStatusEscalated, DisputeStatusCancelled),
		DisputeStatusMediation:          withResolved(DisputeStatusEscalated, DisputeStatusCancelled),
		DisputeStatusEscalated:          withResolved(),
		DisputeStatusResolvedBuyer:      {},
		DisputeStatusResolvedFreelancer: {},
		DisputeStatusResolvedSplit:      {},
		DisputeStatusCancelled:          {},
	}
	return allowed(transitions[s], newStatus)
}

func NewDisputeStatus(status string) (DisputeStatus, error) {
	s := DisputeStatus(status)
	if !s.IsValid() {
		return "", apperror.New(apperror.ErrCodeValidation, "некорректный статус спора")
	}
	return s, nil
}

// Decision решение арбитража.
type Decision string

const (
	DecisionBuyerWins      Decision = "buyer_wins"
	DecisionFreelancerWins Decision = "freelancer_wins"
	DecisionSplit          Decision = "split"
)

func NewDecision(v string) (Decision, error) {
	d := Decision(v)
	switch d {
	case DecisionBuyerWins, DecisionFreelancerWins, DecisionSplit:
		return d, nil
	}
	return "", apperror.New(apperror.ErrCodeValidation, "некорректное решение арбитража")
}

// ResolvedStatus возвращает итоговый статус спора для решения.
func (d Decision) ResolvedStatus() DisputeStatus {
	switch d {
	case DecisionBuyerWins:
		return DisputeStatusResolvedBuyer
	case DecisionFreelancerWins:
		return DisputeStatusResolvedFreelancer
	default:
		return DisputeStatusResolvedSplit
	}
}

// ReleaseTarget получатель средств при закрытии escrow.
type ReleaseTarget string

const (
	ReleaseTargetFreelancer ReleaseTarget = "freelancer"
	ReleaseTargetBuyer      ReleaseTarget = "buyer"
	ReleaseTargetSplit      ReleaseTarget = "split"
)

func NewReleaseTarget(v string) (ReleaseTarget, error) {
	t := ReleaseTarget(v)
	switch t {
	case ReleaseTargetFreelancer, ReleaseTargetBuyer, ReleaseTargetSplit:
		return t, nil
	}
	return "", apperror.New(apperror.ErrCodeValidation, "некорректный получатель средств")
}

// Target возвращает получателя средств для решения арбитража.
func (d Decision) Target() ReleaseTarget {
	switch d {
	case DecisionBuyerWins:
		return ReleaseTargetBuyer
	case DecisionFreelancerWins:
		return ReleaseTargetFreelancer
	default:
		return ReleaseTargetSplit
	}
}

func allowed[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
