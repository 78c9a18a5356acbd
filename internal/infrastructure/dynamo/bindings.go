package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bincheck-api/internal/domain"
)

// BindingRepo maps usernames to Telegram chat ids.
// PK: username. GSI: chat_id-index.
type BindingRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewBindingRepo(client *dynamodb.Client, tableName string) *BindingRepo {
	return &BindingRepo{client: client, tableName: tableName}
}

func (r *BindingRepo) Get(ctx context.Context, username string) (*domain.ChannelBinding, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldUsername, username),
	})
	if err != nil {
		return nil, storeErr("get binding", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("binding not found: %w", domain.ErrNotFound)
	}
	var b domain.ChannelBinding
	if err := attributevalue.UnmarshalMap(out.Item, &b); err != nil {
		return nil, storeErr("unmarshal binding", err)
	}
	return &b, nil
}

func (r *BindingRepo) GetByChatID(ctx context.Context, chatID string) (*domain.ChannelBinding, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(indexChatID),
		KeyConditionExpression: aws.String("chat_id = :c"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: chatID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, storeErr("query binding by chat id", err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("binding not found: %w", domain.ErrNotFound)
	}
	var b domain.ChannelBinding
	if err := attributevalue.UnmarshalMap(out.Items[0], &b); err != nil {
		return nil, storeErr("unmarshal binding", err)
	}
	return &b, nil
}
