package dynamo

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bincheck-api/internal/config"
	"github.com/bincheck-api/internal/domain"
)

// RequestRepo manages pending registrations and password resets.
// Each kind has its own table; PK: request_id, GSIs: username-index, chat_id-index.
type RequestRepo struct {
	client *dynamodb.Client
	tables map[domain.RequestKind]string
}

func NewRequestRepo(client *dynamodb.Client, tables config.DynamoTables) *RequestRepo {
	return &RequestRepo{
		client: client,
		tables: map[domain.RequestKind]string{
			domain.KindRegistration:  tables.PendingRegistrations,
			domain.KindPasswordReset: tables.PendingPasswordResets,
		},
	}
}

func (r *RequestRepo) table(kind domain.RequestKind) (*string, error) {
	name, ok := r.tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown request kind %q: %w", kind, domain.ErrValidation)
	}
	return aws.String(name), nil
}

// Kinds lists the request kinds this repo has tables for.
func (r *RequestRepo) Kinds() []domain.RequestKind {
	return []domain.RequestKind{domain.KindRegistration, domain.KindPasswordReset}
}

func (r *RequestRepo) Put(ctx context.Context, req *domain.PendingRequest) error {
	table, err := r.table(req.Kind)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(req)
	if err != nil {
		return fmt.Errorf("marshal pending request: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           table,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(request_id)"),
	})
	if isConditionFailed(err) {
		return fmt.Errorf("request %s already exists: %w", req.RequestID, domain.ErrConflict)
	}
	if err != nil {
		return storeErr("put pending request", err)
	}
	return nil
}

func (r *RequestRepo) Get(ctx context.Context, kind domain.RequestKind, requestID string) (*domain.PendingRequest, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      table,
		Key:            strKey(fieldRequestID, requestID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, storeErr("get pending request", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("request not found: %w", domain.ErrNotFound)
	}
	var req domain.PendingRequest
	if err := attributevalue.UnmarshalMap(out.Item, &req); err != nil {
		return nil, storeErr("unmarshal pending request", err)
	}
	return &req, nil
}

// PendingByUsername returns requests of kind for username still in status pending.
func (r *RequestRepo) PendingByUsername(ctx context.Context, kind domain.RequestKind, username string) ([]domain.PendingRequest, error) {
	return r.queryPending(ctx, kind, indexUsername, fieldUsername, username)
}

// PendingByChatID returns requests of kind for chatID still in status pending.
func (r *RequestRepo) PendingByChatID(ctx context.Context, kind domain.RequestKind, chatID string) ([]domain.PendingRequest, error) {
	return r.queryPending(ctx, kind, indexChatID, fieldChatID, chatID)
}

func (r *RequestRepo) queryPending(ctx context.Context, kind domain.RequestKind, index, attr, value string) ([]domain.PendingRequest, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              table,
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String("#a = :v"),
		FilterExpression:       aws.String("#s = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#a": attr,
			"#s": fieldStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v":       &types.AttributeValueMemberS{Value: value},
			":pending": &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
		},
	})
	if err != nil {
		return nil, storeErr("query pending requests", err)
	}
	reqs := []domain.PendingRequest{}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &reqs); err != nil {
		return nil, storeErr("unmarshal pending requests", err)
	}
	return reqs, nil
}

// Transition moves a pending request to status. The write only succeeds while
// the stored status is still pending; otherwise ErrConflict (or ErrNotFound
// when the record is gone) is returned.
func (r *RequestRepo) Transition(ctx context.Context, kind domain.RequestKind, requestID string, status domain.RequestStatus, errMsg string, at time.Time) (*domain.PendingRequest, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldStatus:     string(status),
		fieldError:      errMsg,
		fieldResolvedAt: at.UTC(),
	})
	if err != nil {
		return nil, err
	}
	ue.Names["#cur"] = fieldStatus
	ue.Values[":pending"] = &types.AttributeValueMemberS{Value: string(domain.StatusPending)}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 table,
		Key:                       strKey(fieldRequestID, requestID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(request_id) AND #cur = :pending"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if isConditionFailed(err) {
		if _, getErr := r.Get(ctx, kind, requestID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("request %s is no longer pending: %w", requestID, domain.ErrConflict)
	}
	if err != nil {
		return nil, storeErr("transition pending request", err)
	}
	var req domain.PendingRequest
	if err := attributevalue.UnmarshalMap(out.Attributes, &req); err != nil {
		return nil, storeErr("unmarshal pending request", err)
	}
	return &req, nil
}

// Delete removes a request. Deleting a missing request is not an error.
func (r *RequestRepo) Delete(ctx context.Context, kind domain.RequestKind, requestID string) error {
	table, err := r.table(kind)
	if err != nil {
		return err
	}
	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: table,
		Key:       strKey(fieldRequestID, requestID),
	})
	if err != nil {
		return storeErr("delete pending request", err)
	}
	return nil
}

// ListExpired scans kind's table for requests whose expires_at is at or before now,
// whatever their status.
func (r *RequestRepo) ListExpired(ctx context.Context, kind domain.RequestKind, now time.Time) ([]domain.PendingRequest, error) {
	table, err := r.table(kind)
	if err != nil {
		return nil, err
	}
	input := &dynamodb.ScanInput{
		TableName:                table,
		FilterExpression:         aws.String("#e <= :now"),
		ExpressionAttributeNames: map[string]string{"#e": fieldExpiresAt},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	}
	reqs := []domain.PendingRequest{}
	paginator := dynamodb.NewScanPaginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, storeErr("scan expired requests", err)
		}
		var batch []domain.PendingRequest
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, storeErr("unmarshal expired requests", err)
		}
		reqs = append(reqs, batch...)
	}
	return reqs, nil
}

// DeleteMany batch-deletes the given ids. Unprocessed items are not resubmitted;
// they are reported in the error and left for the next sweep.
func (r *RequestRepo) DeleteMany(ctx context.Context, kind domain.RequestKind, requestIDs []string) (int, error) {
	table, err := r.table(kind)
	if err != nil {
		return 0, err
	}
	deleted := 0
	unprocessed := 0
	for _, ids := range chunk(requestIDs, maxBatchWrite) {
		writes := make([]types.WriteRequest, 0, len(ids))
		for _, reqID := range ids {
			writes = append(writes, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: strKey(fieldRequestID, reqID)},
			})
		}
		out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{*table: writes},
		})
		if err != nil {
			return deleted, storeErr("batch delete pending requests", err)
		}
		left := len(out.UnprocessedItems[*table])
		unprocessed += left
		deleted += len(ids) - left
	}
	if unprocessed > 0 {
		slog.Warn("batch delete left unprocessed items", "table", *table, "count", unprocessed)
		return deleted, fmt.Errorf("%w: %d pending requests not deleted", domain.ErrStore, unprocessed)
	}
	return deleted, nil
}
