package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/bincheck-api/internal/config"
	"github.com/bincheck-api/internal/domain"
)

type publishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// PromptPublisher hands confirmation prompts to the Telegram bot through an SNS topic.
// The bot subscribes to the topic; kind and chat_id are message attributes so
// subscriptions can filter on them.
type PromptPublisher struct {
	client   publishAPI
	topicARN string
}

func NewPromptPublisher(cfg *config.Config) (*PromptPublisher, error) {
	if cfg.ConfirmationTopicARN == "" {
		return nil, errors.New("CONFIRMATION_TOPIC_ARN is not set")
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.SNSRegion),
	}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	clientOpts := []func(*sns.Options){}
	if cfg.AWSEndpointURL != "" {
		clientOpts = append(clientOpts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		})
	}
	return newPromptPublisher(sns.NewFromConfig(awsCfg, clientOpts...), cfg.ConfirmationTopicARN), nil
}

func newPromptPublisher(client publishAPI, topicARN string) *PromptPublisher {
	return &PromptPublisher{client: client, topicARN: topicARN}
}

// Deliver publishes p. Any failure is returned wrapped in ErrDeliveryFailed.
func (p *PromptPublisher) Deliver(ctx context.Context, prompt domain.DeliveryPrompt) error {
	body, err := json.Marshal(prompt)
	if err != nil {
		return fmt.Errorf("%w: marshal prompt: %w", domain.ErrDeliveryFailed, err)
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String("confirmation:" + string(prompt.Kind)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(prompt.Kind)),
			},
			"chat_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(prompt.ChatID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: publish prompt %s: %w", domain.ErrDeliveryFailed, prompt.RequestID, err)
	}
	return nil
}
