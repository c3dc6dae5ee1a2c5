package arbiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/common"
	"github.com/ridecore/dispatch/pkg/models"
)

type mockRideAcceptor struct{ mock.Mock }

func (m *mockRideAcceptor) AcceptRide(ctx context.Context, rideID, driverID uuid.UUID, driverSocketID *string) (*models.Ride, error) {
	args := m.Called(ctx, rideID, driverID, driverSocketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) NotifyRideNoLongerAvailable(driverID, rideID uuid.UUID) error {
	args := m.Called(driverID, rideID)
	return args.Error(0)
}

func (m *mockNotifier) JoinRideRoom(rideID uuid.UUID, socketIDs ...string) error {
	args := m.Called(rideID, socketIDs)
	return args.Error(0)
}

type mockLocks struct{ mock.Mock }

func (m *mockLocks) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}
func (m *mockLocks) GetString(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}
func (m *mockLocks) Delete(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}
func (m *mockLocks) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}
func (m *mockLocks) MGetStrings(ctx context.Context, keys ...string) ([]string, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
func (m *mockLocks) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, ttl)
	return args.Bool(0), args.Error(1)
}
func (m *mockLocks) ReleaseLock(ctx context.Context, key, value string) (bool, error) {
	args := m.Called(ctx, key, value)
	return args.Bool(0), args.Error(1)
}
func (m *mockLocks) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestAccept_LockAlreadyHeld_ReturnsConflict(t *testing.T) {
	rideID, driverID := uuid.New(), uuid.New()
	locks := &mockLocks{}
	locks.On("AcquireLock", mock.Anything, rideLockKey(rideID), driverID.String(), rideLockTTL).Return(false, nil)

	a := NewArbiter(&mockRideAcceptor{}, locks, &mockNotifier{}, nil, zap.NewNop())
	_, err := a.Accept(context.Background(), rideID, driverID, nil)

	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeRideAlreadyAccepted, appErr.Code)
}

func TestAccept_AcceptRideFails_ReleasesLockAndPropagates(t *testing.T) {
	rideID, driverID := uuid.New(), uuid.New()
	locks := &mockLocks{}
	locks.On("AcquireLock", mock.Anything, rideLockKey(rideID), driverID.String(), rideLockTTL).Return(true, nil)
	locks.On("ReleaseLock", mock.Anything, rideLockKey(rideID), driverID.String()).Return(true, nil)

	acceptor := &mockRideAcceptor{}
	acceptor.On("AcceptRide", mock.Anything, rideID, driverID, (*string)(nil)).
		Return(nil, errors.New("ride already moved on"))

	a := NewArbiter(acceptor, locks, &mockNotifier{}, nil, zap.NewNop())
	_, err := a.Accept(context.Background(), rideID, driverID, nil)

	require.Error(t, err)
	locks.AssertExpectations(t)
}

func TestAccept_Success_NotifiesLosersNotWinner(t *testing.T) {
	rideID, winner, loser1, loser2 := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	ride := &models.Ride{ID: rideID, NotifiedDrivers: []uuid.UUID{winner, loser1, loser2}}

	locks := &mockLocks{}
	locks.On("AcquireLock", mock.Anything, rideLockKey(rideID), winner.String(), rideLockTTL).Return(true, nil)

	acceptor := &mockRideAcceptor{}
	acceptor.On("AcceptRide", mock.Anything, rideID, winner, (*string)(nil)).Return(ride, nil)

	notifier := &mockNotifier{}
	notifier.On("NotifyRideNoLongerAvailable", loser1, rideID).Return(nil)
	notifier.On("NotifyRideNoLongerAvailable", loser2, rideID).Return(nil)
	notifier.On("JoinRideRoom", rideID, mock.Anything).Return(nil)

	a := NewArbiter(acceptor, locks, notifier, nil, zap.NewNop())
	result, err := a.Accept(context.Background(), rideID, winner, nil)

	require.NoError(t, err)
	assert.Equal(t, ride, result)
	notifier.AssertExpectations(t)
	notifier.AssertNotCalled(t, "NotifyRideNoLongerAvailable", winner, mock.Anything)
}

func TestAccept_JoinsBothSocketsIntoRideRoom(t *testing.T) {
	rideID, winner := uuid.New(), uuid.New()
	riderSocket, driverSocket := "rider-sock", "driver-sock"
	ride := &models.Ride{ID: rideID, UserSocketID: &riderSocket, DriverSocketID: &driverSocket}

	locks := &mockLocks{}
	locks.On("AcquireLock", mock.Anything, rideLockKey(rideID), winner.String(), rideLockTTL).Return(true, nil)

	acceptor := &mockRideAcceptor{}
	acceptor.On("AcceptRide", mock.Anything, rideID, winner, (*string)(nil)).Return(ride, nil)

	notifier := &mockNotifier{}
	notifier.On("JoinRideRoom", rideID, []string{riderSocket, driverSocket}).Return(nil)

	a := NewArbiter(acceptor, locks, notifier, nil, zap.NewNop())
	_, err := a.Accept(context.Background(), rideID, winner, nil)

	require.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestAccept_NilNotifier_DoesNotPanic(t *testing.T) {
	rideID, winner := uuid.New(), uuid.New()
	ride := &models.Ride{ID: rideID, NotifiedDrivers: []uuid.UUID{winner, uuid.New()}}

	locks := &mockLocks{}
	locks.On("AcquireLock", mock.Anything, rideLockKey(rideID), winner.String(), rideLockTTL).Return(true, nil)

	acceptor := &mockRideAcceptor{}
	acceptor.On("AcceptRide", mock.Anything, rideID, winner, (*string)(nil)).Return(ride, nil)

	a := NewArbiter(acceptor, locks, nil, nil, zap.NewNop())
	assert.NotPanics(t, func() {
		_, err := a.Accept(context.Background(), rideID, winner, nil)
		require.NoError(t, err)
	})
}
