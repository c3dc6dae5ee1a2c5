package earnings

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

	"github.com/ridecore/dispatch/pkg/models"
)

type mockRideGateway struct{ mock.Mock }

func (m *mockRideGateway) GetRide(ctx context.Context, rideID uuid.UUID) (*models.Ride, error) {
	args := m.Called(ctx, rideID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Ride), args.Error(1)
}

func (m *mockRideGateway) UpdateRideFare(ctx context.Context, rideID uuid.UUID, fare float64) error {
	args := m.Called(ctx, rideID, fare)
	return args.Error(0)
}

func (m *mockRideGateway) SettleRidePayment(ctx context.Context, rideID uuid.UUID, status models.RidePaymentStatus, walletAmountUsed, gatewayAmountPaid float64, gatewayPaymentID *string) error {
	args := m.Called(ctx, rideID, status, walletAmountUsed, gatewayAmountPaid, gatewayPaymentID)
	return args.Error(0)
}

type mockWallet struct{ mock.Mock }

func (m *mockWallet) ApplyRideFareDelta(ctx context.Context, userID, rideID uuid.UUID, delta float64) error {
	args := m.Called(ctx, userID, rideID, delta)
	return args.Error(0)
}

func (m *mockWallet) HasHybridPayment(ctx context.Context, rideID uuid.UUID) (bool, error) {
	args := m.Called(ctx, rideID)
	return args.Bool(0), args.Error(1)
}

type mockGateway struct{ mock.Mock }

func (m *mockGateway) ScheduleRefund(ctx context.Context, rideID uuid.UUID, amount float64) error {
	args := m.Called(ctx, rideID, amount)
	return args.Error(0)
}

type mockSettings struct{ mock.Mock }

func (m *mockSettings) GetSettings(ctx context.Context) (*models.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Settings), args.Error(1)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) NotifyDriverEarningAdded(e *models.AdminEarnings) error {
	args := m.Called(e)
	return args.Error(0)
}

type mockRepo struct{ mock.Mock }

func (m *mockRepo) UpsertEarnings(ctx context.Context, e *models.AdminEarnings) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func newTestRepo() *mockRepo {
	repo := &mockRepo{}
	repo.On("UpsertEarnings", mock.Anything, mock.Anything).Return(nil)
	return repo
}

func completedRide() *models.Ride {
	driverID := uuid.New()
	return &models.Ride{
		ID:            uuid.New(),
		RiderID:       uuid.New(),
		DriverID:      &driverID,
		Status:        models.RideStatusCompleted,
		PaymentMethod: models.PaymentMethodCash,
		Fare:          100,
		BaseFare:      100,
		MinimumFare:   50,
		CreatedAt:     time.Now(),
	}
}

func validSettings() *models.Settings {
	return &models.Settings{PlatformFeePct: 20, DriverCommissionPct: 80}
}

func TestFinalize_CashRide_NoReconciliation(t *testing.T) {
	ride := completedRide()
	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)
	settings := &mockSettings{}
	settings.On("GetSettings", mock.Anything).Return(validSettings(), nil)
	notifier := &mockNotifier{}
	notifier.On("NotifyDriverEarningAdded", mock.Anything).Return(nil)

	svc, err := NewService(rides, nil, nil, settings, newTestRepo(), notifier, nil, zap.NewNop())
	require.NoError(t, err)

	err = svc.Finalize(context.Background(), ride.ID)
	require.NoError(t, err)

	rides.AssertNotCalled(t, "SettleRidePayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	notifier.AssertExpectations(t)
}

func TestFinalize_FareUnchanged_SkipsFareUpdate(t *testing.T) {
	ride := completedRide()
	ride.Fare = ride.FareInputs().Recompute()

	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)
	settings := &mockSettings{}
	settings.On("GetSettings", mock.Anything).Return(validSettings(), nil)
	notifier := &mockNotifier{}
	notifier.On("NotifyDriverEarningAdded", mock.Anything).Return(nil)

	svc, err := NewService(rides, nil, nil, settings, newTestRepo(), notifier, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, svc.Finalize(context.Background(), ride.ID))
	rides.AssertNotCalled(t, "UpdateRideFare", mock.Anything, mock.Anything, mock.Anything)
}

func TestFinalize_WalletOvercharge_CreditsRefund(t *testing.T) {
	ride := completedRide()
	ride.PaymentMethod = models.PaymentMethodWallet
	ride.Fare = 120 // recompute floors to 100, so delta = -20

	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)
	rides.On("UpdateRideFare", mock.Anything, ride.ID, 100.0).Return(nil)
	settings := &mockSettings{}
	settings.On("GetSettings", mock.Anything).Return(validSettings(), nil)
	notifier := &mockNotifier{}
	notifier.On("NotifyDriverEarningAdded", mock.Anything).Return(nil)
	wallet := &mockWallet{}
	wallet.On("HasHybridPayment", mock.Anything, ride.ID).Return(false, nil)
	wallet.On("ApplyRideFareDelta", mock.Anything, ride.RiderID, ride.ID, -20.0).Return(nil)

	svc, err := NewService(rides, wallet, nil, settings, newTestRepo(), notifier, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, svc.Finalize(context.Background(), ride.ID))
	wallet.AssertExpectations(t)
}

func TestFinalize_HybridOvercharge_RefundsWalletNotGateway(t *testing.T) {
	ride := completedRide()
	ride.PaymentMethod = models.PaymentMethodGateway
	ride.Fare = 120 // recompute yields 100, delta = -20

	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)
	rides.On("UpdateRideFare", mock.Anything, ride.ID, 100.0).Return(nil)
	settings := &mockSettings{}
	settings.On("GetSettings", mock.Anything).Return(validSettings(), nil)
	notifier := &mockNotifier{}
	notifier.On("NotifyDriverEarningAdded", mock.Anything).Return(nil)
	wallet := &mockWallet{}
	wallet.On("HasHybridPayment", mock.Anything, ride.ID).Return(true, nil)
	wallet.On("ApplyRideFareDelta", mock.Anything, ride.RiderID, ride.ID, -20.0).Return(nil)
	gateway := &mockGateway{}

	svc, err := NewService(rides, wallet, gateway, settings, newTestRepo(), notifier, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, svc.Finalize(context.Background(), ride.ID))
	wallet.AssertExpectations(t)
	gateway.AssertNotCalled(t, "ScheduleRefund", mock.Anything, mock.Anything, mock.Anything)
}

func TestFinalize_GatewayUndercharge_MarksPartial(t *testing.T) {
	ride := completedRide()
	ride.PaymentMethod = models.PaymentMethodGateway
	ride.Fare = 80 // recompute yields 100, delta = +20

	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)
	rides.On("UpdateRideFare", mock.Anything, ride.ID, 100.0).Return(nil)
	rides.On("SettleRidePayment", mock.Anything, ride.ID, models.RidePaymentPartial,
		ride.WalletAmountUsed, ride.GatewayAmountPaid, ride.GatewayPaymentID).Return(nil)
	settings := &mockSettings{}
	settings.On("GetSettings", mock.Anything).Return(validSettings(), nil)
	notifier := &mockNotifier{}
	notifier.On("NotifyDriverEarningAdded", mock.Anything).Return(nil)

	svc, err := NewService(rides, nil, nil, settings, newTestRepo(), notifier, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, svc.Finalize(context.Background(), ride.ID))
	rides.AssertExpectations(t)
}

func TestFinalize_GatewayOvercharge_SchedulesRefund(t *testing.T) {
	ride := completedRide()
	ride.PaymentMethod = models.PaymentMethodGateway
	ride.Fare = 120 // recompute yields 100, delta = -20

	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)
	rides.On("UpdateRideFare", mock.Anything, ride.ID, 100.0).Return(nil)
	settings := &mockSettings{}
	settings.On("GetSettings", mock.Anything).Return(validSettings(), nil)
	notifier := &mockNotifier{}
	notifier.On("NotifyDriverEarningAdded", mock.Anything).Return(nil)
	gateway := &mockGateway{}
	gateway.On("ScheduleRefund", mock.Anything, ride.ID, 20.0).Return(nil)

	svc, err := NewService(rides, nil, gateway, settings, newTestRepo(), notifier, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, svc.Finalize(context.Background(), ride.ID))
	gateway.AssertExpectations(t)
}

func TestFinalize_SplitAdjustmentAttributedToDriverEarning(t *testing.T) {
	ride := completedRide()
	ride.BaseFare, ride.MinimumFare = 0, 0
	ride.DistanceFare = 33.33
	ride.Fare = ride.FareInputs().Recompute() // fareDelta == 0

	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)
	settings := &mockSettings{}
	settings.On("GetSettings", mock.Anything).Return(&models.Settings{PlatformFeePct: 33, DriverCommissionPct: 67}, nil)

	var captured *models.AdminEarnings
	notifier := &mockNotifier{}
	notifier.On("NotifyDriverEarningAdded", mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(0).(*models.AdminEarnings)
	}).Return(nil)

	svc, err := NewService(rides, nil, nil, settings, newTestRepo(), notifier, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, svc.Finalize(context.Background(), ride.ID))
	require.NotNil(t, captured)
	assert.InDelta(t, captured.GrossFare, captured.PlatformFee+captured.DriverEarning, 0.01)
}

func TestFinalize_RideNotCompleted_Errors(t *testing.T) {
	ride := completedRide()
	ride.Status = models.RideStatusInProgress
	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)

	svc, err := NewService(rides, nil, nil, &mockSettings{}, newTestRepo(), &mockNotifier{}, nil, zap.NewNop())
	require.NoError(t, err)

	err = svc.Finalize(context.Background(), ride.ID)
	assert.Error(t, err)
}

func TestFinalize_InvalidSettings_Errors(t *testing.T) {
	ride := completedRide()
	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)
	settings := &mockSettings{}
	settings.On("GetSettings", mock.Anything).Return(&models.Settings{PlatformFeePct: 150, DriverCommissionPct: 80}, nil)

	svc, err := NewService(rides, nil, nil, settings, newTestRepo(), &mockNotifier{}, nil, zap.NewNop())
	require.NoError(t, err)

	err = svc.Finalize(context.Background(), ride.ID)
	assert.Error(t, err)
}

func TestFinalize_WalletReconciliationRequiredButUnwired_Errors(t *testing.T) {
	ride := completedRide()
	ride.PaymentMethod = models.PaymentMethodWallet
	ride.Fare = 50

	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)
	rides.On("UpdateRideFare", mock.Anything, ride.ID, 100.0).Return(nil)

	svc, err := NewService(rides, nil, nil, &mockSettings{}, newTestRepo(), &mockNotifier{}, nil, zap.NewNop())
	require.NoError(t, err)

	err = svc.Finalize(context.Background(), ride.ID)
	assert.Error(t, err)
}

func TestFinalizeWithRetry_RetriesTransientFailureThenSucceeds(t *testing.T) {
	ride := completedRide()
	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(nil, errors.New("connection reset")).Once()
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)
	settings := &mockSettings{}
	settings.On("GetSettings", mock.Anything).Return(validSettings(), nil)
	notifier := &mockNotifier{}
	notifier.On("NotifyDriverEarningAdded", mock.Anything).Return(nil)

	svc, err := NewService(rides, nil, nil, settings, newTestRepo(), notifier, nil, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, svc.FinalizeWithRetry(context.Background(), ride.ID))
	rides.AssertNumberOfCalls(t, "GetRide", 2)
}

func TestFinalizeWithRetry_NonTransientFailureDoesNotRetry(t *testing.T) {
	ride := completedRide()
	ride.Status = models.RideStatusInProgress
	rides := &mockRideGateway{}
	rides.On("GetRide", mock.Anything, ride.ID).Return(ride, nil)

	svc, err := NewService(rides, nil, nil, &mockSettings{}, newTestRepo(), &mockNotifier{}, nil, zap.NewNop())
	require.NoError(t, err)

	err = svc.FinalizeWithRetry(context.Background(), ride.ID)
	assert.Error(t, err)
	rides.AssertNumberOfCalls(t, "GetRide", 1)
}
