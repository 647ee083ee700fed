package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"trueque/internal/domain"
	"trueque/pkg/errors"
	"trueque/pkg/logger"
)

// --- Mocks ---

type fakeTxRunner struct{}

func (fakeTxRunner) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
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

func (m *MockUserRepository) LockManyTx(ctx context.Context, tx *sqlx.Tx, ids ...uuid.UUID) error {
	args := m.Called(ctx, tx, ids)
	return args.Error(0)
}

type MockEntryRepository struct {
	mock.Mock
}

func (m *MockEntryRepository) LastBalanceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, tx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEntryRepository) InsertTx(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry) error {
	args := m.Called(ctx, tx, entry)
	return args.Error(0)
}

func (m *MockEntryRepository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEntryRepository) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.LedgerEntry), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) NotifyTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, notificationType, title, message string, referenceID *uuid.UUID, referenceType string) error {
	args := m.Called(ctx, tx, userID, notificationType, title, message, referenceID, referenceType)
	return args.Error(0)
}

func newTestService(users *MockUserRepository, entries *MockEntryRepository, notifier *MockNotifier) *Service {
	return NewService(fakeTxRunner{}, users, entries, notifier, logger.NewNop())
}

// --- Tests ---

func TestGrantAppendsEntryWithRunningBalance(t *testing.T) {
	users := new(MockUserRepository)
	entries := new(MockEntryRepository)
	notifier := new(MockNotifier)
	service := newTestService(users, entries, notifier)

	userID := uuid.New()
	users.On("LockTx", mock.Anything, mock.Anything, userID).Return(nil)
	entries.On("LastBalanceTx", mock.Anything, mock.Anything, userID).Return(int64(40), nil)
	entries.On("InsertTx", mock.Anything, mock.Anything, mock.MatchedBy(func(e *domain.LedgerEntry) bool {
		return e.Kind == domain.EntryGrant && e.Amount == 60 && e.BalanceAfter == 100
	})).Return(nil)
	notifier.On("NotifyTx", mock.Anything, mock.Anything, userID, "credits_granted", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	entry, err := service.Grant(context.Background(), &GrantRequest{UserID: userID, Amount: 60})

	assert.NoError(t, err)
	assert.Equal(t, int64(100), entry.BalanceAfter)
	entries.AssertExpectations(t)
}

func TestGrantRejectsNonPositiveAmount(t *testing.T) {
	service := newTestService(new(MockUserRepository), new(MockEntryRepository), new(MockNotifier))

	_, err := service.Grant(context.Background(), &GrantRequest{UserID: uuid.New(), Amount: 0})

	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestDebitNeverTakesBalanceNegative(t *testing.T) {
	users := new(MockUserRepository)
	entries := new(MockEntryRepository)
	service := newTestService(users, entries, new(MockNotifier))

	userID := uuid.New()
	entries.On("LastBalanceTx", mock.Anything, mock.Anything, userID).Return(int64(10), nil)

	_, err := service.DebitTx(context.Background(), nil, userID, domain.EntryRewardClaim, 30, nil, "claim")

	assert.ErrorIs(t, err, errors.ErrInsufficientCredits)
	entries.AssertNotCalled(t, "InsertTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransferMovesCreditsBetweenLedgers(t *testing.T) {
	users := new(MockUserRepository)
	entries := new(MockEntryRepository)
	notifier := new(MockNotifier)
	service := newTestService(users, entries, notifier)

	from := uuid.New()
	to := uuid.New()
	users.On("LockManyTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	entries.On("LastBalanceTx", mock.Anything, mock.Anything, from).Return(int64(30), nil)
	entries.On("LastBalanceTx", mock.Anything, mock.Anything, to).Return(int64(5), nil)
	entries.On("InsertTx", mock.Anything, mock.Anything, mock.MatchedBy(func(e *domain.LedgerEntry) bool {
		return e.UserID == from && e.Kind == domain.EntryTransferOut && e.Amount == -30 && e.BalanceAfter == 0
	})).Return(nil)
	entries.On("InsertTx", mock.Anything, mock.Anything, mock.MatchedBy(func(e *domain.LedgerEntry) bool {
		return e.UserID == to && e.Kind == domain.EntryTransferIn && e.Amount == 30 && e.BalanceAfter == 35
	})).Return(nil)
	notifier.On("NotifyTx", mock.Anything, mock.Anything, to, "credits_received", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := service.Transfer(context.Background(), &TransferRequest{
		FromUserID: from,
		ToUserID:   to,
		Amount:     30,
		Reason:     "gift",
	})

	assert.NoError(t, err)
	assert.Equal(t, int64(0), result.FromBalance)
	assert.Equal(t, int64(35), result.ToBalance)
	entries.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestTransferRejectsSelfAndBadAmounts(t *testing.T) {
	service := newTestService(new(MockUserRepository), new(MockEntryRepository), new(MockNotifier))
	userID := uuid.New()

	_, err := service.Transfer(context.Background(), &TransferRequest{FromUserID: userID, ToUserID: userID, Amount: 10})
	assert.ErrorIs(t, err, errors.ErrSelfTransfer)

	_, err = service.Transfer(context.Background(), &TransferRequest{FromUserID: userID, ToUserID: uuid.New(), Amount: -5})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestTransferInsufficientFundsLeavesNoEntries(t *testing.T) {
	users := new(MockUserRepository)
	entries := new(MockEntryRepository)
	service := newTestService(users, entries, new(MockNotifier))

	from := uuid.New()
	to := uuid.New()
	users.On("LockManyTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	entries.On("LastBalanceTx", mock.Anything, mock.Anything, from).Return(int64(10), nil)

	_, err := service.Transfer(context.Background(), &TransferRequest{FromUserID: from, ToUserID: to, Amount: 30})

	assert.ErrorIs(t, err, errors.ErrInsufficientCredits)
	entries.AssertNotCalled(t, "InsertTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestBalanceRequiresExistingUser(t *testing.T) {
	users := new(MockUserRepository)
	entries := new(MockEntryRepository)
	service := newTestService(users, entries, new(MockNotifier))

	userID := uuid.New()
	users.On("FindByID", mock.Anything, userID).Return(nil, errors.ErrUserNotFound)

	_, err := service.Balance(context.Background(), userID)

	assert.ErrorIs(t, err, errors.ErrUserNotFound)
}

// stubEntryStore keeps entries in memory so the running-sum invariant can
// be checked over a sequence of appends.
type stubEntryStore struct {
	entries []*domain.LedgerEntry
}

func (s *stubEntryStore) LastBalanceTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) (int64, error) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID == userID {
			return s.entries[i].BalanceAfter, nil
		}
	}
	return 0, nil
}

func (s *stubEntryStore) InsertTx(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubEntryStore) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.LastBalanceTx(ctx, nil, userID)
}

func (s *stubEntryStore) History(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.LedgerEntry, error) {
	return s.entries, nil
}

func TestLedgerMaintainsRunningSum(t *testing.T) {
	store := &stubEntryStore{}
	service := NewService(fakeTxRunner{}, new(MockUserRepository), store, new(MockNotifier), logger.NewNop())

	userID := uuid.New()
	ctx := context.Background()

	steps := []int64{100, -40, 25, -85}
	for _, amount := range steps {
		var err error
		if amount > 0 {
			_, err = service.CreditTx(ctx, nil, userID, domain.EntryGrant, amount, nil, "")
		} else {
			_, err = service.DebitTx(ctx, nil, userID, domain.EntryRewardClaim, -amount, nil, "")
		}
		assert.NoError(t, err)
	}

	var sum int64
	for i, entry := range store.entries {
		sum += entry.Amount
		assert.Equal(t, sum, entry.BalanceAfter, "entry %d balance must equal running sum", i)
		assert.GreaterOrEqual(t, entry.BalanceAfter, int64(0))
	}
	assert.Equal(t, int64(0), sum)

	// One more debit than the ledger holds must be rejected.
	_, err := service.DebitTx(ctx, nil, userID, domain.EntryRewardClaim, 1, nil, "")
	assert.ErrorIs(t, err, errors.ErrInsufficientCredits)
}
