package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/bincheck-api/internal/config"
	"github.com/bincheck-api/internal/domain"
)

// AccountRepo applies a confirmed request to the account tables. The account
// write and the request's move out of pending commit in one TransactWriteItems,
// so neither can land without the other.
//
// The binding item (PK username) doubles as the username claim: a second
// approval for the same username fails on it and nothing is written.
type AccountRepo struct {
	client   *dynamodb.Client
	users    string
	bindings string
	requests *RequestRepo
}

func NewAccountRepo(client *dynamodb.Client, tables config.DynamoTables) *AccountRepo {
	return &AccountRepo{
		client:   client,
		users:    tables.Users,
		bindings: tables.ChannelBindings,
		requests: NewRequestRepo(client, tables),
	}
}

// Register creates u and b and marks the registration approved.
func (r *AccountRepo) Register(ctx context.Context, pr *domain.PendingRequest, u *domain.User, b *domain.ChannelBinding, at time.Time) (*domain.PendingRequest, error) {
	update, err := r.resolveUpdate(pr, domain.StatusApproved, at)
	if err != nil {
		return nil, err
	}
	userItem, err := attributevalue.MarshalMap(u)
	if err != nil {
		return nil, fmt.Errorf("marshal user: %w", err)
	}
	bindingItem, err := attributevalue.MarshalMap(b)
	if err != nil {
		return nil, fmt.Errorf("marshal binding: %w", err)
	}
	items := []types.TransactWriteItem{
		{Update: update},
		{Put: &types.Put{
			TableName:           aws.String(r.users),
			Item:                userItem,
			ConditionExpression: aws.String("attribute_not_exists(user_id)"),
		}},
		{Put: &types.Put{
			TableName:           aws.String(r.bindings),
			Item:                bindingItem,
			ConditionExpression: aws.String("attribute_not_exists(username)"),
		}},
	}
	conflicts := []string{
		"",
		fmt.Sprintf("user id %s already exists", u.UserID),
		fmt.Sprintf("username %q is already registered", pr.Username),
	}
	return r.commit(ctx, pr, domain.StatusApproved, at, items, conflicts)
}

// ResetPassword stores the request's password hash on userID and marks the
// reset completed.
func (r *AccountRepo) ResetPassword(ctx context.Context, pr *domain.PendingRequest, userID string, at time.Time) (*domain.PendingRequest, error) {
	update, err := r.resolveUpdate(pr, domain.StatusCompleted, at)
	if err != nil {
		return nil, err
	}
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldPasswordHash: pr.PasswordHash,
		fieldUpdatedAt:    at.UTC(),
	})
	if err != nil {
		return nil, err
	}
	items := []types.TransactWriteItem{
		{Update: update},
		{Update: &types.Update{
			TableName:                 aws.String(r.users),
			Key:                       strKey(fieldUserID, userID),
			UpdateExpression:          aws.String(ue.Expr),
			ConditionExpression:       aws.String("attribute_exists(user_id)"),
			ExpressionAttributeNames:  ue.Names,
			ExpressionAttributeValues: ue.Values,
		}},
	}
	conflicts := []string{"", fmt.Sprintf("user %q no longer exists", pr.Username)}
	return r.commit(ctx, pr, domain.StatusCompleted, at, items, conflicts)
}

// resolveUpdate is the transaction item moving pr from pending to status.
func (r *AccountRepo) resolveUpdate(pr *domain.PendingRequest, status domain.RequestStatus, at time.Time) (*types.Update, error) {
	table, err := r.requests.table(pr.Kind)
	if err != nil {
		return nil, err
	}
	ue, err := buildUpdateExpr(map[string]interface{}{
		fieldStatus:     string(status),
		fieldError:      "",
		fieldResolvedAt: at.UTC(),
	})
	if err != nil {
		return nil, err
	}
	ue.Names["#cur"] = fieldStatus
	ue.Values[":pending"] = &types.AttributeValueMemberS{Value: string(domain.StatusPending)}
	return &types.Update{
		TableName:                 table,
		Key:                       strKey(fieldRequestID, pr.RequestID),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(request_id) AND #cur = :pending"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	}, nil
}

// commit runs items; items[0] must be the request update. conflicts[i] names
// the failure when item i's condition does not hold.
func (r *AccountRepo) commit(ctx context.Context, pr *domain.PendingRequest, status domain.RequestStatus, at time.Time, items []types.TransactWriteItem, conflicts []string) (*domain.PendingRequest, error) {
	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		i, ok := failedCondition(err)
		if !ok {
			return nil, storeErr("commit "+string(pr.Kind), err)
		}
		if i == 0 {
			if _, getErr := r.requests.Get(ctx, pr.Kind, pr.RequestID); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("request %s is no longer pending: %w", pr.RequestID, domain.ErrConflict)
		}
		return nil, fmt.Errorf("%s: %w", conflicts[i], domain.ErrConflict)
	}
	out := *pr
	resolved := at.UTC()
	out.Status = status
	out.Error = ""
	out.ResolvedAt = &resolved
	return &out, nil
}

// failedCondition returns the index of the first transaction item whose
// condition check failed.
func failedCondition(err error) (int, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return 0, false
	}
	return conditionIndex(tce.CancellationReasons)
}

func conditionIndex(reasons []types.CancellationReason) (int, bool) {
	for i, reason := range reasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return i, true
		}
	}
	return 0, false
}
