package notifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) NotifySMS(ctx context.Context, toPhone, body string) error {
	args := m.Called(ctx, toPhone, body)
	return args.Error(0)
}

func TestNotifyAutoCancelled_SendsFormattedMessage(t *testing.T) {
	phone := "+15555550100"
	n := &mockNotifier{}
	n.On("NotifySMS", mock.Anything, phone, mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "No driver accepted")
	})).Return(nil)

	svc := NewService(n, zap.NewNop())
	svc.NotifyAutoCancelled(context.Background(), &phone, "No driver accepted within 5 minutes")
	n.AssertExpectations(t)
}

func TestNotifyNoDriverFound_SendsFormattedMessage(t *testing.T) {
	phone := "+15555550100"
	n := &mockNotifier{}
	n.On("NotifySMS", mock.Anything, phone, mock.Anything).Return(nil)

	svc := NewService(n, zap.NewNop())
	svc.NotifyNoDriverFound(context.Background(), &phone, "No drivers found within 20 km")
	n.AssertExpectations(t)
}

func TestNotify_NilPhone_SkipsSend(t *testing.T) {
	n := &mockNotifier{}
	svc := NewService(n, zap.NewNop())
	svc.NotifyAutoCancelled(context.Background(), nil, "timeout")
	n.AssertNotCalled(t, "NotifySMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotify_EmptyPhone_SkipsSend(t *testing.T) {
	n := &mockNotifier{}
	svc := NewService(n, zap.NewNop())
	empty := ""
	svc.NotifyAutoCancelled(context.Background(), &empty, "timeout")
	n.AssertNotCalled(t, "NotifySMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotify_ProviderFailure_LogsAndDoesNotPanic(t *testing.T) {
	phone := "+15555550100"
	n := &mockNotifier{}
	n.On("NotifySMS", mock.Anything, phone, mock.Anything).Return(errors.New("provider unavailable"))

	svc := NewService(n, zap.NewNop())
	svc.NotifyNoDriverFound(context.Background(), &phone, "timeout")
	n.AssertExpectations(t)
}
