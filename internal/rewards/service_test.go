package rewards

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"trueque/internal/domain"
	"trueque/pkg/errors"
	"trueque/pkg/logger"
)

type fakeTxRunner struct{}

func (fakeTxRunner) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Reward, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reward), args.Error(1)
}

func (m *MockRepository) ListActive(ctx context.Context) ([]*domain.Reward, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Reward), args.Error(1)
}

func (m *MockRepository) LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Reward, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reward), args.Error(1)
}

func (m *MockRepository) DecrementStockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

func (m *MockRepository) IncrementStockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

func (m *MockRepository) InsertClaimTx(ctx context.Context, tx *sqlx.Tx, claim *domain.RewardClaim) error {
	args := m.Called(ctx, tx, claim)
	return args.Error(0)
}

func (m *MockRepository) FindClaimByID(ctx context.Context, id uuid.UUID) (*domain.RewardClaim, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RewardClaim), args.Error(1)
}

func (m *MockRepository) LockClaimTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.RewardClaim, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RewardClaim), args.Error(1)
}

func (m *MockRepository) UpdateClaimTx(ctx context.Context, tx *sqlx.Tx, claim *domain.RewardClaim) error {
	args := m.Called(ctx, tx, claim)
	return args.Error(0)
}

func (m *MockRepository) ListClaimsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.RewardClaim, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RewardClaim), args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) LockTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) DebitTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, kind domain.EntryKind, amount int64, referenceID *uuid.UUID, description string) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, tx, userID, kind, amount, referenceID, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerEntry), args.Error(1)
}

func (m *MockLedger) CreditTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, kind domain.EntryKind, amount int64, referenceID *uuid.UUID, description string) (*domain.LedgerEntry, error) {
	args := m.Called(ctx, tx, userID, kind, amount, referenceID, description)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LedgerEntry), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, notificationType, title, message string, referenceID *uuid.UUID, referenceType string) error {
	args := m.Called(ctx, tx, userID, notificationType, title, message, referenceID, referenceType)
	return args.Error(0)
}

type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) RecordTx(ctx context.Context, tx *sqlx.Tx, table, recordID, operation string, oldValue, newValue interface{}, changedFields []string, changedBy *uuid.UUID) error {
	args := m.Called(ctx, tx, table, recordID, operation, oldValue, newValue, changedFields, changedBy)
	return args.Error(0)
}

func newTestService() (*Service, *MockRepository, *MockUserRepository, *MockLedger, *MockNotifier, *MockAuditor) {
	rewards := new(MockRepository)
	users := new(MockUserRepository)
	ledger := new(MockLedger)
	notifier := new(MockNotifier)
	auditor := new(MockAuditor)
	service := NewService(fakeTxRunner{}, rewards, users, ledger, notifier, auditor, logger.NewNop())
	return service, rewards, users, ledger, notifier, auditor
}

func intPtr(n int) *int { return &n }

func TestClaimDebitsAndDecrementsFiniteStock(t *testing.T) {
	service, rewards, users, ledger, notifier, auditor := newTestService()

	userID := uuid.New()
	reward := &domain.Reward{ID: uuid.New(), Name: "Tote bag", CreditsCost: 30, IsActive: true, StockQuantity: intPtr(3)}

	rewards.On("LockTx", mock.Anything, mock.Anything, reward.ID).Return(reward, nil)
	users.On("LockTx", mock.Anything, mock.Anything, userID).Return(nil)
	ledger.On("DebitTx", mock.Anything, mock.Anything, userID, domain.EntryRewardClaim,
		int64(30), mock.Anything, "Reward claim: Tote bag").Return(&domain.LedgerEntry{BalanceAfter: 70}, nil)
	rewards.On("DecrementStockTx", mock.Anything, mock.Anything, reward.ID).Return(nil)
	rewards.On("InsertClaimTx", mock.Anything, mock.Anything, mock.MatchedBy(func(c *domain.RewardClaim) bool {
		return c.Status == domain.ClaimPending && c.CreditsSpent == 30 && c.UserID == userID
	})).Return(nil)
	notifier.On("NotifyTx", mock.Anything, mock.Anything, userID, "reward_claimed", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	auditor.On("RecordTx", mock.Anything, mock.Anything, "reward_claims", mock.Anything, "INSERT", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	claim, err := service.Claim(context.Background(), userID, reward.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.ClaimPending, claim.Status)
	assert.Equal(t, int64(30), claim.CreditsSpent)
	rewards.AssertExpectations(t)
	ledger.AssertExpectations(t)
}

func TestClaimUnlimitedStockSkipsDecrement(t *testing.T) {
	service, rewards, users, ledger, notifier, auditor := newTestService()

	userID := uuid.New()
	reward := &domain.Reward{ID: uuid.New(), Name: "Shoutout", CreditsCost: 5, IsActive: true}

	rewards.On("LockTx", mock.Anything, mock.Anything, reward.ID).Return(reward, nil)
	users.On("LockTx", mock.Anything, mock.Anything, userID).Return(nil)
	ledger.On("DebitTx", mock.Anything, mock.Anything, userID, domain.EntryRewardClaim,
		int64(5), mock.Anything, mock.Anything).Return(&domain.LedgerEntry{}, nil)
	rewards.On("InsertClaimTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	notifier.On("NotifyTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	auditor.On("RecordTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := service.Claim(context.Background(), userID, reward.ID)

	require.NoError(t, err)
	rewards.AssertNotCalled(t, "DecrementStockTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestClaimInactiveReward(t *testing.T) {
	service, rewards, _, ledger, _, _ := newTestService()

	reward := &domain.Reward{ID: uuid.New(), IsActive: false}
	rewards.On("LockTx", mock.Anything, mock.Anything, reward.ID).Return(reward, nil)

	_, err := service.Claim(context.Background(), uuid.New(), reward.ID)

	assert.ErrorIs(t, err, errors.ErrRewardInactive)
	ledger.AssertNotCalled(t, "DebitTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestClaimOutOfStock(t *testing.T) {
	service, rewards, _, ledger, _, _ := newTestService()

	reward := &domain.Reward{ID: uuid.New(), IsActive: true, StockQuantity: intPtr(0)}
	rewards.On("LockTx", mock.Anything, mock.Anything, reward.ID).Return(reward, nil)

	_, err := service.Claim(context.Background(), uuid.New(), reward.ID)

	assert.ErrorIs(t, err, errors.ErrOutOfStock)
	ledger.AssertNotCalled(t, "DebitTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestClaimInsufficientFundsLeavesStockAndClaim(t *testing.T) {
	service, rewards, users, ledger, _, _ := newTestService()

	userID := uuid.New()
	reward := &domain.Reward{ID: uuid.New(), Name: "Tote bag", CreditsCost: 30, IsActive: true, StockQuantity: intPtr(3)}

	rewards.On("LockTx", mock.Anything, mock.Anything, reward.ID).Return(reward, nil)
	users.On("LockTx", mock.Anything, mock.Anything, userID).Return(nil)
	ledger.On("DebitTx", mock.Anything, mock.Anything, userID, domain.EntryRewardClaim,
		int64(30), mock.Anything, mock.Anything).Return(nil, errors.ErrInsufficientCredits)

	_, err := service.Claim(context.Background(), userID, reward.ID)

	assert.ErrorIs(t, err, errors.ErrInsufficientCredits)
	rewards.AssertNotCalled(t, "DecrementStockTx", mock.Anything, mock.Anything, mock.Anything)
	rewards.AssertNotCalled(t, "InsertClaimTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestModerateRequiresAdmin(t *testing.T) {
	service, rewards, users, _, _, _ := newTestService()

	actorID := uuid.New()
	users.On("FindByID", mock.Anything, actorID).Return(&domain.User{ID: actorID, IsAdmin: false}, nil)

	_, err := service.Moderate(context.Background(), &ModerateRequest{
		ClaimID: uuid.New(), ActorID: actorID, Status: domain.ClaimApproved,
	})

	assert.ErrorIs(t, err, errors.ErrForbidden)
	rewards.AssertNotCalled(t, "LockClaimTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestModerateRejectsBadTransition(t *testing.T) {
	service, rewards, users, _, _, _ := newTestService()

	actorID := uuid.New()
	claim := &domain.RewardClaim{ID: uuid.New(), UserID: uuid.New(), Status: domain.ClaimDelivered}
	users.On("FindByID", mock.Anything, actorID).Return(&domain.User{ID: actorID, IsAdmin: true}, nil)
	rewards.On("LockClaimTx", mock.Anything, mock.Anything, claim.ID).Return(claim, nil)

	_, err := service.Moderate(context.Background(), &ModerateRequest{
		ClaimID: claim.ID, ActorID: actorID, Status: domain.ClaimApproved,
	})

	assert.ErrorIs(t, err, errors.ErrInvalidState)
	rewards.AssertNotCalled(t, "UpdateClaimTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestModerateApproveStampsTimestamp(t *testing.T) {
	service, rewards, users, _, notifier, auditor := newTestService()

	actorID := uuid.New()
	claim := &domain.RewardClaim{ID: uuid.New(), RewardID: uuid.New(), UserID: uuid.New(), Status: domain.ClaimPending}
	users.On("FindByID", mock.Anything, actorID).Return(&domain.User{ID: actorID, IsAdmin: true}, nil)
	rewards.On("LockClaimTx", mock.Anything, mock.Anything, claim.ID).Return(claim, nil)
	rewards.On("UpdateClaimTx", mock.Anything, mock.Anything, mock.MatchedBy(func(c *domain.RewardClaim) bool {
		return c.Status == domain.ClaimApproved && c.ApprovedAt != nil
	})).Return(nil)
	notifier.On("NotifyTx", mock.Anything, mock.Anything, claim.UserID, "claim_approved", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	auditor.On("RecordTx", mock.Anything, mock.Anything, "reward_claims", claim.ID.String(), "UPDATE", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	updated, err := service.Moderate(context.Background(), &ModerateRequest{
		ClaimID: claim.ID, ActorID: actorID, Status: domain.ClaimApproved,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ClaimApproved, updated.Status)
	rewards.AssertExpectations(t)
}

func TestModerateRejectRefundsAndRestocks(t *testing.T) {
	service, rewards, users, ledger, notifier, auditor := newTestService()

	actorID := uuid.New()
	claim := &domain.RewardClaim{
		ID: uuid.New(), RewardID: uuid.New(), UserID: uuid.New(),
		CreditsSpent: 30, Status: domain.ClaimApproved,
	}
	users.On("FindByID", mock.Anything, actorID).Return(&domain.User{ID: actorID, IsAdmin: true}, nil)
	rewards.On("LockClaimTx", mock.Anything, mock.Anything, claim.ID).Return(claim, nil)
	users.On("LockTx", mock.Anything, mock.Anything, claim.UserID).Return(nil)
	ledger.On("CreditTx", mock.Anything, mock.Anything, claim.UserID, domain.EntryRefund,
		int64(30), mock.Anything, "Reward claim refund").Return(&domain.LedgerEntry{BalanceAfter: 30}, nil)
	rewards.On("IncrementStockTx", mock.Anything, mock.Anything, claim.RewardID).Return(nil)
	rewards.On("UpdateClaimTx", mock.Anything, mock.Anything, mock.MatchedBy(func(c *domain.RewardClaim) bool {
		return c.Status == domain.ClaimRejected && c.Notes != nil && *c.Notes == "damaged item"
	})).Return(nil)
	notifier.On("NotifyTx", mock.Anything, mock.Anything, claim.UserID, "claim_rejected", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	auditor.On("RecordTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	updated, err := service.Moderate(context.Background(), &ModerateRequest{
		ClaimID: claim.ID, ActorID: actorID, Status: domain.ClaimRejected, Note: "damaged item",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ClaimRejected, updated.Status)
	ledger.AssertExpectations(t)
	rewards.AssertExpectations(t)
}
