package service

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/sendme/internal/domain"
	"github.com/prn-tf/sendme/internal/metrics"
	"github.com/prn-tf/sendme/internal/repository"
)

// =============================================================================
// Mock Repository Types for CapacityLedger
// =============================================================================

type mockUserRepository struct {
	mock.Mock
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) Update(ctx context.Context, user *domain.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *mockUserRepository) SetVerified(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUserRepository) SetMaxCapacity(ctx context.Context, id int64, maxBytes int64) error {
	return m.Called(ctx, id, maxBytes).Error(0)
}

func (m *mockUserRepository) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockUserRepository) List(ctx context.Context, opts repository.ListOptions) (*repository.ListResult[domain.User], error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ListResult[domain.User]), args.Error(1)
}

func (m *mockUserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	args := m.Called(ctx, username)
	return args.Bool(0), args.Error(1)
}

func (m *mockUserRepository) GetUserWithCapacityLock(ctx context.Context, id int64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepository) GetUsedCapacity(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUserRepository) GetMaxCapacity(ctx context.Context, id int64) (*int64, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*int64), args.Error(1)
}

func (m *mockUserRepository) UpdateUsedCapacity(ctx context.Context, id int64, delta int64) (int64, error) {
	args := m.Called(ctx, id, delta)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockUserRepository) SetUsedCapacity(ctx context.Context, id int64, used int64) error {
	return m.Called(ctx, id, used).Error(0)
}

// passthroughTx runs fn directly.
type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newMockLedger(users *mockUserRepository) (*CapacityLedger, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	return NewCapacityLedger(users, passthroughTx{}, m, zerolog.Nop()), m
}

// =============================================================================
// Ledger Tests
// =============================================================================

func TestCapacityLedger_Release_UnderflowIsClamped(t *testing.T) {
	users := new(mockUserRepository)
	ledger, m := newMockLedger(users)

	users.On("UpdateUsedCapacity", mock.Anything, int64(1), int64(-500)).
		Return(int64(0), fmt.Errorf("%w: user 1", repository.ErrCapacityUnderflow))

	total, err := ledger.Release(context.Background(), 1, 500)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaUnderflows))
	users.AssertExpectations(t)
}

func TestCapacityLedger_Release_ZeroBytes(t *testing.T) {
	users := new(mockUserRepository)
	ledger, _ := newMockLedger(users)

	users.On("GetUsedCapacity", mock.Anything, int64(1)).Return(int64(42), nil)

	total, err := ledger.Release(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 42, total)
	users.AssertNotCalled(t, "UpdateUsedCapacity", mock.Anything, mock.Anything, mock.Anything)
}

func TestCapacityLedger_Charge_RechecksUnderLock(t *testing.T) {
	users := new(mockUserRepository)
	ledger, m := newMockLedger(users)

	users.On("GetUserWithCapacityLock", mock.Anything, int64(1)).
		Return(&domain.User{ID: 1, MaxQuotaBytes: 1000, UsedQuotaBytes: 900}, nil)

	_, err := ledger.Charge(context.Background(), 1, 150)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotaRejections))
	users.AssertNotCalled(t, "UpdateUsedCapacity", mock.Anything, mock.Anything, mock.Anything)
}

func TestCapacityLedger_Charge_RepositoryFailure(t *testing.T) {
	users := new(mockUserRepository)
	ledger, _ := newMockLedger(users)

	users.On("GetUserWithCapacityLock", mock.Anything, int64(1)).
		Return(&domain.User{ID: 1, MaxQuotaBytes: 1000}, nil)
	users.On("UpdateUsedCapacity", mock.Anything, int64(1), int64(10)).
		Return(int64(0), fmt.Errorf("disk I/O error"))

	_, err := ledger.Charge(context.Background(), 1, 10)
	assert.ErrorIs(t, err, ErrInternalError)
}

func TestCapacityLedger_Reserve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", 1000)

	require.NoError(t, env.ledger.Reserve(ctx, user.ID, 1000))
	assert.ErrorIs(t, env.ledger.Reserve(ctx, user.ID, 1001), domain.ErrCapacityExceeded)
	assert.ErrorIs(t, env.ledger.Reserve(ctx, 999, 1), domain.ErrUserNotFound)
	assert.ErrorIs(t, env.ledger.Reserve(ctx, user.ID, -1), domain.ErrInvalidFileSize)
	assert.Zero(t, env.used(t, user.ID), "reserve never mutates usage")
}

func TestCapacityLedger_HugeRequestsDoNotOverflow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", 1000)

	_, err := env.ledger.Charge(ctx, user.ID, 900)
	require.NoError(t, err)

	assert.ErrorIs(t, env.ledger.Reserve(ctx, user.ID, math.MaxInt64-100), domain.ErrCapacityExceeded)
	assert.ErrorIs(t, env.ledger.Reserve(ctx, user.ID, math.MaxInt64), domain.ErrCapacityExceeded)

	_, err = env.ledger.Charge(ctx, user.ID, math.MaxInt64-100)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.EqualValues(t, 900, env.used(t, user.ID))
}

func TestCapacityLedger_ChargeAndRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", 1000)

	total, err := env.ledger.Charge(ctx, user.ID, 600)
	require.NoError(t, err)
	assert.EqualValues(t, 600, total)

	total, err = env.ledger.Release(ctx, user.ID, 200)
	require.NoError(t, err)
	assert.EqualValues(t, 400, total)

	total, err = env.ledger.Release(ctx, user.ID, 1000)
	require.NoError(t, err)
	assert.Zero(t, total)

	usage, err := env.ledger.Usage(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, usage.Available)
	assert.Zero(t, usage.Percent)
}

func TestCapacityLedger_Reconcile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", 1000)

	_, err := sendBytes(env, user.ID, 300)
	require.NoError(t, err)
	deleted, err := sendBytes(env, user.ID, 200)
	require.NoError(t, err)
	_, err = env.messages.SoftDelete(ctx, user.ID, deleted.ID)
	require.NoError(t, err)

	require.NoError(t, env.repos.User.SetUsedCapacity(ctx, user.ID, 42))

	result, err := env.ledger.Reconcile(ctx, user.ID, env.repos.Message)
	require.NoError(t, err)
	assert.EqualValues(t, 42, result.Previous)
	assert.EqualValues(t, 500, result.Current, "soft-deleted messages still count")
	assert.EqualValues(t, 458, result.Drift())
	assert.EqualValues(t, 500, env.used(t, user.ID))
}

func TestCapacityLedger_ReconcileOverQuota(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.createUser(t, "alice", 1000)

	_, err := sendBytes(env, user.ID, 900)
	require.NoError(t, err)

	// Drift that hid the usage let the ceiling drop below what is stored.
	require.NoError(t, env.repos.User.SetUsedCapacity(ctx, user.ID, 0))
	require.NoError(t, env.repos.User.SetMaxCapacity(ctx, user.ID, 100))

	result, err := env.ledger.Reconcile(ctx, user.ID, env.repos.Message)
	require.NoError(t, err)
	assert.EqualValues(t, 900, result.Current)
	assert.EqualValues(t, 100, result.Max)
	assert.True(t, result.OverQuota())
	assert.EqualValues(t, 900, env.used(t, user.ID), "reconcile records the real total")

	_, err = sendBytes(env, user.ID, 1)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
}
