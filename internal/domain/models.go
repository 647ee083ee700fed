// Package domain defines the entities of the exchange and credits engine.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// User represents a platform member. Credits are never stored here; the
// ledger is the sole source of truth for balances. The row itself doubles
// as the lock target for a user's ledger tail.
type User struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	Email                string     `json:"email" db:"email"`
	DisplayName          string     `json:"display_name" db:"display_name"`
	SustainabilityPoints int        `json:"sustainability_points" db:"sustainability_points"`
	ExperiencePoints     int        `json:"experience_points" db:"experience_points"`
	Level                int        `json:"level" db:"level"`
	IsAdmin              bool       `json:"is_admin" db:"is_admin"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt            *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// EntryKind categorizes ledger entries.
type EntryKind string

const (
	EntryGrant           EntryKind = "grant"
	EntryExchangeDebit   EntryKind = "exchange_debit"
	EntryExchangeCredit  EntryKind = "exchange_credit"
	EntryRewardClaim     EntryKind = "reward_claim"
	EntryChallengeReward EntryKind = "challenge_reward"
	EntryTransferIn      EntryKind = "transfer_in"
	EntryTransferOut     EntryKind = "transfer_out"
	EntryAdminAdjustment EntryKind = "admin_adjustment"
	EntryRefund          EntryKind = "refund"
)

// LedgerEntry is an immutable, append-only balance record. For a given
// user, entries ordered by (created_at, id) form a running sum:
// BalanceAfter of entry N equals BalanceAfter of entry N-1 plus Amount,
// and is never negative.
type LedgerEntry struct {
	ID           int64      `json:"id" db:"id"`
	UserID       uuid.UUID  `json:"user_id" db:"user_id"`
	Kind         EntryKind  `json:"kind" db:"kind"`
	Amount       int64      `json:"amount" db:"amount"`
	BalanceAfter int64      `json:"balance_after" db:"balance_after"`
	ReferenceID  *uuid.UUID `json:"reference_id,omitempty" db:"reference_id"`
	Description  string     `json:"description" db:"description"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// OfferStatus is the reservation state of an offer. Transitions happen
// only through the exchange state machine.
type OfferStatus string

const (
	OfferActive    OfferStatus = "active"
	OfferReserved  OfferStatus = "reserved"
	OfferCompleted OfferStatus = "completed"
	OfferCancelled OfferStatus = "cancelled"
	OfferFlagged   OfferStatus = "flagged"
)

// Offer is a published item available for exchange.
type Offer struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	UserID       uuid.UUID   `json:"user_id" db:"user_id"`
	Title        string      `json:"title" db:"title"`
	Description  string      `json:"description" db:"description"`
	Status       OfferStatus `json:"status" db:"status"`
	CreditsValue int64       `json:"credits_value" db:"credits_value"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
	DeletedAt    *time.Time  `json:"deleted_at,omitempty" db:"deleted_at"`
}

// ExchangeStatus is the lifecycle state of an exchange.
type ExchangeStatus string

const (
	ExchangePending    ExchangeStatus = "pending"
	ExchangeAccepted   ExchangeStatus = "accepted"
	ExchangeInProgress ExchangeStatus = "in_progress"
	ExchangeCompleted  ExchangeStatus = "completed"
	ExchangeCancelled  ExchangeStatus = "cancelled"
	ExchangeDisputed   ExchangeStatus = "disputed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExchangeStatus) IsTerminal() bool {
	return s == ExchangeCompleted || s == ExchangeCancelled
}

// Exchange is a proposed trade of one offer between a buyer and a seller,
// settled via a credit transfer once both parties confirm.
type Exchange struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	OfferID            uuid.UUID      `json:"offer_id" db:"offer_id"`
	BuyerID            uuid.UUID      `json:"buyer_id" db:"buyer_id"`
	SellerID           uuid.UUID      `json:"seller_id" db:"seller_id"`
	Status             ExchangeStatus `json:"status" db:"status"`
	CreditsAmount      int64          `json:"credits_amount" db:"credits_amount"`
	BuyerConfirmed     bool           `json:"buyer_confirmed" db:"buyer_confirmed"`
	SellerConfirmed    bool           `json:"seller_confirmed" db:"seller_confirmed"`
	BuyerConfirmedAt   *time.Time     `json:"buyer_confirmed_at,omitempty" db:"buyer_confirmed_at"`
	SellerConfirmedAt  *time.Time     `json:"seller_confirmed_at,omitempty" db:"seller_confirmed_at"`
	ProposedLocation   *string        `json:"proposed_location,omitempty" db:"proposed_location"`
	CancellationReason *string        `json:"cancellation_reason,omitempty" db:"cancellation_reason"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt          *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Role identifies which side of an exchange a user is on.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// PartyRole returns the role userID plays on the exchange, or "" if the
// user is not a party to it.
func (e *Exchange) PartyRole(userID uuid.UUID) Role {
	switch userID {
	case e.BuyerID:
		return RoleBuyer
	case e.SellerID:
		return RoleSeller
	}
	return ""
}

// Reward is a redeemable catalog item. A nil StockQuantity means
// unlimited stock.
type Reward struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	Description   string     `json:"description" db:"description"`
	CreditsCost   int64      `json:"credits_cost" db:"credits_cost"`
	StockQuantity *int       `json:"stock_quantity,omitempty" db:"stock_quantity"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// ClaimStatus is the moderation state of a reward claim.
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "pending"
	ClaimApproved  ClaimStatus = "approved"
	ClaimDelivered ClaimStatus = "delivered"
	ClaimRejected  ClaimStatus = "rejected"
)

// RewardClaim records a redemption. Created once by the claim engine;
// its status is advanced by moderation.
type RewardClaim struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	RewardID     uuid.UUID   `json:"reward_id" db:"reward_id"`
	UserID       uuid.UUID   `json:"user_id" db:"user_id"`
	CreditsSpent int64       `json:"credits_spent" db:"credits_spent"`
	Status       ClaimStatus `json:"status" db:"status"`
	Notes        *string     `json:"notes,omitempty" db:"notes"`
	ApprovedAt   *time.Time  `json:"approved_at,omitempty" db:"approved_at"`
	DeliveredAt  *time.Time  `json:"delivered_at,omitempty" db:"delivered_at"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
	DeletedAt    *time.Time  `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Challenge is a gamification goal with a points/credits/badge payout.
type Challenge struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Title             string     `json:"title" db:"title"`
	Description       string     `json:"description" db:"description"`
	RequirementType   string     `json:"requirement_type" db:"requirement_type"`
	RequirementValue  int        `json:"requirement_value" db:"requirement_value"`
	PointsReward      int        `json:"points_reward" db:"points_reward"`
	CreditsReward     int64      `json:"credits_reward" db:"credits_reward"`
	BadgeReward       *string    `json:"badge_reward,omitempty" db:"badge_reward"`
	IsActive          bool       `json:"is_active" db:"is_active"`
	ParticipantsCount int        `json:"participants_count" db:"participants_count"`
	CompletionsCount  int        `json:"completions_count" db:"completions_count"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt         *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// UserChallenge tracks one user's progress on a challenge. Completion is
// a one-way transition guarded by Progress >= Target.
type UserChallenge struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	ChallengeID uuid.UUID  `json:"challenge_id" db:"challenge_id"`
	Progress    int        `json:"progress" db:"progress"`
	Target      int        `json:"target" db:"target"`
	IsCompleted bool       `json:"is_completed" db:"is_completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// UserBadge records an earned badge. (user_id, badge_id) is unique;
// duplicate awards are silent no-ops.
type UserBadge struct {
	ID       int64     `json:"id" db:"id"`
	UserID   uuid.UUID `json:"user_id" db:"user_id"`
	BadgeID  string    `json:"badge_id" db:"badge_id"`
	EarnedAt time.Time `json:"earned_at" db:"earned_at"`
}

// Rating is a 1-5 score left by one exchange party for the other.
type Rating struct {
	ID          int64     `json:"id" db:"id"`
	ExchangeID  uuid.UUID `json:"exchange_id" db:"exchange_id"`
	RaterUserID uuid.UUID `json:"rater_user_id" db:"rater_user_id"`
	RatedUserID uuid.UUID `json:"rated_user_id" db:"rated_user_id"`
	Rating      int       `json:"rating" db:"rating"`
	Comment     *string   `json:"comment,omitempty" db:"comment"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ReputationSnapshot is the derived, fully-recomputed aggregate of a
// user's exchange and rating history. Never a source of truth.
type ReputationSnapshot struct {
	UserID               uuid.UUID       `json:"user_id" db:"user_id"`
	TotalExchanges       int             `json:"total_exchanges" db:"total_exchanges"`
	SuccessfulExchanges  int             `json:"successful_exchanges" db:"successful_exchanges"`
	AverageRating        decimal.Decimal `json:"average_rating" db:"average_rating"`
	TotalRatingsReceived int             `json:"total_ratings_received" db:"total_ratings_received"`
	TotalCreditsEarned   int64           `json:"total_credits_earned" db:"total_credits_earned"`
	TotalCreditsSpent    int64           `json:"total_credits_spent" db:"total_credits_spent"`
	TrustScore           decimal.Decimal `json:"trust_score" db:"trust_score"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// Conversation is the message thread attached to an offer between its
// owner and one interested user. Message delivery itself lives outside
// the engine.
type Conversation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OfferID   uuid.UUID `json:"offer_id" db:"offer_id"`
	BuyerID   uuid.UUID `json:"buyer_id" db:"buyer_id"`
	SellerID  uuid.UUID `json:"seller_id" db:"seller_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AuditRecord captures a before/after snapshot of a mutated row,
// attributable to the acting user (nil for system-initiated changes).
type AuditRecord struct {
	ID            int64          `json:"id" db:"id"`
	TableName     string         `json:"table_name" db:"table_name"`
	RecordID      string         `json:"record_id" db:"record_id"`
	Operation     string         `json:"operation" db:"operation"`
	OldData       []byte         `json:"old_data,omitempty" db:"old_data"`
	NewData       []byte         `json:"new_data,omitempty" db:"new_data"`
	ChangedFields pq.StringArray `json:"changed_fields,omitempty" db:"changed_fields"`
	ChangedBy     *uuid.UUID     `json:"changed_by,omitempty" db:"changed_by"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
}

// Notification is an in-app notification record consumed by external
// delivery mechanisms.
type Notification struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	UserID        uuid.UUID  `json:"user_id" db:"user_id"`
	Type          string     `json:"type" db:"type"`
	Title         string     `json:"title" db:"title"`
	Message       string     `json:"message" db:"message"`
	ReferenceID   *uuid.UUID `json:"reference_id,omitempty" db:"reference_id"`
	ReferenceType *string    `json:"reference_type,omitempty" db:"reference_type"`
	ReadAt        *time.Time `json:"read_at,omitempty" db:"read_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
