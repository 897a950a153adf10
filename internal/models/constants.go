package models

// DefaultCurrency валюта кошельков, если она не задана в конфигурации.
const DefaultCurrency = "USD"

// Типы транзакций
const (
	TransactionTypeDeposit       = "deposit"
	TransactionTypeWithdraw      = "withdraw"
	TransactionTypeEscrowHold    = "escrow_hold"
	TransactionTypeEscrowRelease = "escrow_release"
	TransactionTypeRefund        = "refund"
)

// Статусы транзакций
const (
	TransactionStatusPending  = "pending"
	TransactionStatusSuccess  = "success"
	TransactionStatusFailed   = "failed"
	TransactionStatusReversed = "reversed"
)

// Роли пользователей из access токена
const (
	RoleAdmin      = "admin"
	RoleBuyer      = "buyer"
	RoleFreelancer = "freelancer"
)

// Статусы контракта
const (
	ContractStatusActive    = "active"
	ContractStatusCompleted = "completed"
)

// Типы сущностей журнала аудита
const (
	EntityWallet      = "wallet"
	EntityTransaction = "transaction"
	EntityEscrow      = "escrow"
	EntityContract    = "contract"
	EntityMilestone   = "milestone"
	EntityDispute     = "dispute"
	EntityWithdrawal  = "withdrawal"
)

// Глаголы журнала аудита
const (
	VerbEscrowCreated           = "escrow_created"
	VerbEscrowFrozen            = "escrow_frozen"
	VerbEscrowUnfrozen          = "escrow_unfrozen"
	VerbEscrowPartiallyReleased = "escrow_partially_released"
	VerbEscrowReleased          = "escrow_released"
	VerbEscrowRefunded          = "escrow_refunded"
	VerbEscrowSplitResolved     = "escrow_split_resolved"

	VerbTransactionReversed = "transaction_reversed"

	VerbContractAccepted  = "contract_accepted"
	VerbContractCompleted = "contract_completed"
	VerbMilestoneAdded    = "milestone_added"
	VerbMilestoneSubmit   = "milestone_submitted"
	VerbMilestoneApproved = "milestone_approved"
	VerbMilestoneRejected = "milestone_rejected"
	VerbMilestonePaid     = "milestone_paid"

	VerbDisputeOpened     = "opened"
	VerbMediatorAssigned  = "mediator_assigned"
	VerbMediationStarted  = "mediation_started"
	VerbProposalMade      = "proposal_made"
	VerbPartyResponse     = "party_response"
	VerbEvidenceUploaded  = "evidence_uploaded"
	VerbAutoEscalated     = "auto_escalated"
	VerbDisputeResolved   = "resolved"
	VerbDisputeCancelled  = "cancelled"
	VerbWithdrawalRequest = "withdrawal_requested"
	VerbWithdrawalDone    = "withdrawal_completed"
	VerbWithdrawalReject  = "withdrawal_rejected"
)

// Виды задач ручной сверки
const (
	ReconKindMilestoneRelease = "milestone_release"
	ReconKindGatewayCallback  = "gateway_callback"
)

// Статусы задач сверки
const (
	ReconStatusOpen     = "open"
	ReconStatusResolved = "resolved"
)

// Статусы заявок на вывод
const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusCompleted = "completed"
	WithdrawalStatusRejected  = "rejected"
)
