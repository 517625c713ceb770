package notify

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func TestTelegramNotifier(t *testing.T) {
	sender := new(mockSender)
	n := NewTelegramNotifier(sender, []int64{1001, 1002}, nil)

	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 1001 && msg.Text == "refund failed"
	})).Return(tgbotapi.Message{}, nil).Once()
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == 1002
	})).Return(tgbotapi.Message{}, errors.New("blocked")).Once()

	err := n.NotifyOperators(context.Background(), "refund failed")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "chat 1002")
	sender.AssertExpectations(t)
}

func TestTelegramNotifier_NoChats(t *testing.T) {
	sender := new(mockSender)
	n := NewTelegramNotifier(sender, nil, nil)

	assert.NoError(t, n.NotifyOperators(context.Background(), "x"))
	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(nil).NotifyOperators(context.Background(), "x"))
}
