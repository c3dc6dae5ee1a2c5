package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ridecore/dispatch/pkg/models"
)

type mockRedisClient struct{ mock.Mock }

func (m *mockRedisClient) SetWithExpiration(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.Called(ctx, key, value, expiration).Error(0)
}
func (m *mockRedisClient) GetString(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}
func (m *mockRedisClient) Delete(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}
func (m *mockRedisClient) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}
func (m *mockRedisClient) MGetStrings(ctx context.Context, keys ...string) ([]string, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
func (m *mockRedisClient) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, ttl)
	return args.Bool(0), args.Error(1)
}
func (m *mockRedisClient) ReleaseLock(ctx context.Context, key, value string) (bool, error) {
	args := m.Called(ctx, key, value)
	return args.Bool(0), args.Error(1)
}
func (m *mockRedisClient) Close() error {
	return m.Called().Error(0)
}

func TestCachePut_WritesSnapshotWithConfiguredTTL(t *testing.T) {
	client := &mockRedisClient{}
	driverID := uuid.New()
	client.On("SetWithExpiration", mock.Anything, cacheKey(driverID), mock.Anything, time.Minute).Return(nil)

	cache := NewCache(client, time.Minute)
	err := cache.Put(context.Background(), models.PresenceSnapshot{DriverID: driverID, SocketID: "sock-1", IsOnline: true})

	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestCacheGet_MissReturnsOkFalse(t *testing.T) {
	client := &mockRedisClient{}
	driverID := uuid.New()
	client.On("GetString", mock.Anything, cacheKey(driverID)).Return("", goredis.Nil)

	cache := NewCache(client, time.Minute)
	_, ok, err := cache.Get(context.Background(), driverID)

	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheGet_HitUnmarshalsSnapshot(t *testing.T) {
	client := &mockRedisClient{}
	driverID := uuid.New()
	payload := `{"driverId":"` + driverID.String() + `","socketId":"sock-1","isOnline":true}`
	client.On("GetString", mock.Anything, cacheKey(driverID)).Return(payload, nil)

	cache := NewCache(client, time.Minute)
	snapshot, ok, err := cache.Get(context.Background(), driverID)

	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "sock-1", snapshot.SocketID)
	require.True(t, snapshot.IsOnline)
}

func TestCacheGet_PropagatesNonNilErrors(t *testing.T) {
	client := &mockRedisClient{}
	driverID := uuid.New()
	client.On("GetString", mock.Anything, cacheKey(driverID)).Return("", errors.New("connection reset"))

	cache := NewCache(client, time.Minute)
	_, ok, err := cache.Get(context.Background(), driverID)

	require.Error(t, err)
	require.False(t, ok)
}

func TestCacheDelete_RemovesEntry(t *testing.T) {
	client := &mockRedisClient{}
	driverID := uuid.New()
	client.On("Delete", mock.Anything, []string{cacheKey(driverID)}).Return(nil)

	cache := NewCache(client, time.Minute)
	require.NoError(t, cache.Delete(context.Background(), driverID))
	client.AssertExpectations(t)
}
