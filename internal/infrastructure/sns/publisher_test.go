package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/bincheck-api/internal/config"
	"github.com/bincheck-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublishAPI struct{ mock.Mock }

func (m *mockPublishAPI) Publish(ctx context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if out, _ := args.Get(0).(*sns.PublishOutput); out != nil {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func prompt() domain.DeliveryPrompt {
	return domain.DeliveryPrompt{
		RequestID: "r1",
		Kind:      domain.KindRegistration,
		ChatID:    "555",
		Username:  "alice",
		ExpiresAt: 1700000600,
	}
}

func TestDeliver_PublishesPromptWithAttributes(t *testing.T) {
	api := &mockPublishAPI{}
	var captured *sns.PublishInput
	api.On("Publish", mock.Anything, mock.AnythingOfType("*sns.PublishInput")).
		Run(func(args mock.Arguments) { captured = args.Get(1).(*sns.PublishInput) }).
		Return(&sns.PublishOutput{}, nil)

	p := newPromptPublisher(api, "arn:aws:sns:us-east-1:000000000000:confirmations")
	require.NoError(t, p.Deliver(context.Background(), prompt()))

	require.NotNil(t, captured)
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:confirmations", *captured.TopicArn)
	assert.Equal(t, "555", *captured.MessageAttributes["chat_id"].StringValue)
	assert.Equal(t, "registration", *captured.MessageAttributes["kind"].StringValue)

	var body domain.DeliveryPrompt
	require.NoError(t, json.Unmarshal([]byte(*captured.Message), &body))
	assert.Equal(t, prompt(), body)
	api.AssertExpectations(t)
}

func TestDeliver_WrapsPublishError(t *testing.T) {
	api := &mockPublishAPI{}
	api.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	p := newPromptPublisher(api, "arn")
	err := p.Deliver(context.Background(), prompt())

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDeliveryFailed))
	assert.Contains(t, err.Error(), "throttled")
}

func TestNewPromptPublisher_RequiresTopic(t *testing.T) {
	_, err := NewPromptPublisher(&config.Config{})
	assert.ErrorContains(t, err, "CONFIRMATION_TOPIC_ARN")
}
