package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/bincheck-api/internal/domain"
)

// BINCacheRepo stores normalized provider responses keyed by BIN.
type BINCacheRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewBINCacheRepo(client *dynamodb.Client, tableName string) *BINCacheRepo {
	return &BINCacheRepo{client: client, tableName: tableName}
}

func (r *BINCacheRepo) Get(ctx context.Context, bin string) (*domain.BINRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldBIN, bin),
	})
	if err != nil {
		return nil, storeErr("get bin record", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("bin %s not cached: %w", bin, domain.ErrNotFound)
	}
	var rec domain.BINRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, storeErr("unmarshal bin record", err)
	}
	return &rec, nil
}

// Put writes rec, stamping the write time. CachedAt keeps its first value on overwrite.
func (r *BINCacheRepo) Put(ctx context.Context, rec *domain.BINRecord) error {
	now := time.Now().UTC()
	if rec.CachedAt.IsZero() {
		rec.CachedAt = now
	}
	rec.UpdatedAt = now
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal bin record: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return storeErr("put bin record", err)
	}
	return nil
}
