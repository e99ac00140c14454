package buffer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/pkg/logging"
)

const (
	bufferTTL   = 48 * time.Hour
	addAttempts = 3
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store keeps buffer state in DynamoDB. Every transition is guarded by
// a condition expression, so concurrent appenders, claimers, and the
// sweep never double-apply.
type Store struct {
	client dynamoAPI
	table  string
	tracer trace.Tracer
	logger *logging.Logger
}

var _ Buffers = (*Store)(nil)

// NewStore builds a store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("buffer: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("buffer: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Store{
		client: client,
		table:  tableName,
		tracer: otel.Tracer("echopost.internal.buffer"),
		logger: logger,
	}
}

// Add appends to the active buffer or opens a fresh one. The append is
// conditional on the buffer being active and the message id unseen; on
// failure it falls back to reading the current item and opening over
// anything that is no longer active.
func (s *Store) Add(ctx context.Context, conversationID int, owner Owner, msg Message) (*State, bool, error) {
	ctx, span := s.tracer.Start(ctx, "buffer.add")
	defer span.End()

	if msg.ID == "" {
		return nil, false, errors.New("buffer: message id required")
	}
	if msg.ArrivedAt == 0 {
		msg.ArrivedAt = time.Now().UTC().UnixMilli()
	}

	for attempt := 0; attempt < addAttempts; attempt++ {
		state, err := s.append(ctx, conversationID, msg)
		if err == nil {
			return state, true, nil
		}
		if !isConditionalFailure(err) {
			span.RecordError(err)
			return nil, false, err
		}

		cur, err := s.Get(ctx, conversationID)
		if err != nil {
			span.RecordError(err)
			return nil, false, err
		}
		if cur != nil && cur.Status == StatusActive && cur.HasMessage(msg.ID) {
			return cur, false, nil
		}

		state, err = s.open(ctx, conversationID, owner, msg)
		if err == nil {
			return state, true, nil
		}
		if !isConditionalFailure(err) {
			span.RecordError(err)
			return nil, false, err
		}
		// Lost the open race; loop and append to the winner's buffer.
	}
	return nil, false, fmt.Errorf("buffer: add message %s: retries exhausted", msg.ID)
}

func (s *Store) append(ctx context.Context, conversationID int, msg Message) (*State, error) {
	msgAttr, err := attributevalue.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("buffer: marshal message: %w", err)
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(conversationID),
		UpdateExpression:    aws.String("SET messages = list_append(messages, :msg), last_message_at = :ts, expires_at = :exp ADD msg_ids :mids"),
		ConditionExpression: aws.String("#status = :active AND NOT contains(msg_ids, :id)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":msg":    &types.AttributeValueMemberL{Value: []types.AttributeValue{msgAttr}},
			":ts":     numberAttr(msg.ArrivedAt),
			":exp":    numberAttr(expiryFor(msg.ArrivedAt)),
			":mids":   &types.AttributeValueMemberSS{Value: []string{msg.ID}},
			":id":     &types.AttributeValueMemberS{Value: msg.ID},
			":active": &types.AttributeValueMemberS{Value: string(StatusActive)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, fmt.Errorf("buffer: append message %s: %w", msg.ID, err)
	}

	var state State
	if err := attributevalue.UnmarshalMap(out.Attributes, &state); err != nil {
		return nil, fmt.Errorf("buffer: decode buffer: %w", err)
	}
	return &state, nil
}

func (s *Store) open(ctx context.Context, conversationID int, owner Owner, msg Message) (*State, error) {
	state := &State{
		ConversationID: conversationID,
		BufferID:       uuid.NewString(),
		Status:         StatusActive,
		Owner:          owner,
		Messages:       []Message{msg},
		MessageIDs:     []string{msg.ID},
		OpenedAt:       msg.ArrivedAt,
		LastMessageAt:  msg.ArrivedAt,
		ExpiresAt:      expiryFor(msg.ArrivedAt),
	}
	item, err := attributevalue.MarshalMap(state)
	if err != nil {
		return nil, fmt.Errorf("buffer: marshal buffer: %w", err)
	}

	// Overwriting a non-active item is deliberate: done buffers make
	// way for the next one, and a buffer stuck in flushing after a
	// worker crash must not block the conversation forever.
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(conversation_id) OR #status <> :active"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberS{Value: string(StatusActive)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("buffer: open buffer: %w", err)
	}
	return state, nil
}

// Get fetches the buffer item with a consistent read so the Add
// fallback path sees the latest state.
func (s *Store) Get(ctx context.Context, conversationID int) (*State, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(conversationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("buffer: fetch buffer: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var state State
	if err := attributevalue.UnmarshalMap(out.Item, &state); err != nil {
		return nil, fmt.Errorf("buffer: decode buffer: %w", err)
	}
	return &state, nil
}

// Claim moves the buffer to flushing. The condition pins both the
// status and the buffer id, so only one claimer wins and stale flush
// jobs for a superseded buffer lose cleanly.
func (s *Store) Claim(ctx context.Context, conversationID int, bufferID string, quietCutoff time.Time) (*State, error) {
	ctx, span := s.tracer.Start(ctx, "buffer.claim")
	defer span.End()

	condition := "#status = :active AND buffer_id = :bid"
	values := map[string]types.AttributeValue{
		":active":   &types.AttributeValueMemberS{Value: string(StatusActive)},
		":flushing": &types.AttributeValueMemberS{Value: string(StatusFlushing)},
		":bid":      &types.AttributeValueMemberS{Value: bufferID},
		":now":      numberAttr(time.Now().UTC().UnixMilli()),
	}
	if !quietCutoff.IsZero() {
		condition += " AND last_message_at <= :cutoff"
		values[":cutoff"] = numberAttr(quietCutoff.UnixMilli())
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(conversationID),
		UpdateExpression:    aws.String("SET #status = :flushing, claimed_at = :now"),
		ConditionExpression: aws.String(condition),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionalFailure(err) {
			return nil, ErrClaimLost
		}
		span.RecordError(err)
		return nil, fmt.Errorf("buffer: claim buffer %s: %w", bufferID, err)
	}

	var state State
	if err := attributevalue.UnmarshalMap(out.Attributes, &state); err != nil {
		return nil, fmt.Errorf("buffer: decode claimed buffer: %w", err)
	}
	return &state, nil
}

// MarkDone closes a flushed buffer. If the item was already reopened
// for a newer buffer the condition fails and the call is a no-op.
func (s *Store) MarkDone(ctx context.Context, conversationID int, bufferID string) error {
	ctx, span := s.tracer.Start(ctx, "buffer.mark_done")
	defer span.End()

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(conversationID),
		UpdateExpression:    aws.String("SET #status = :done"),
		ConditionExpression: aws.String("#status = :flushing AND buffer_id = :bid"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":     &types.AttributeValueMemberS{Value: string(StatusDone)},
			":flushing": &types.AttributeValueMemberS{Value: string(StatusFlushing)},
			":bid":      &types.AttributeValueMemberS{Value: bufferID},
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("buffer: mark buffer %s done: %w", bufferID, err)
	}
	return nil
}

// DueScan walks the table for active buffers past their quiet window
// or age ceiling.
func (s *Store) DueScan(ctx context.Context, now time.Time, quietWindow, maxAge time.Duration) ([]Due, error) {
	ctx, span := s.tracer.Start(ctx, "buffer.due_scan")
	defer span.End()

	quietCutoff := now.Add(-quietWindow).UnixMilli()
	ageCutoff := now.Add(-maxAge).UnixMilli()

	input := &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("#status = :active AND (last_message_at <= :quiet OR opened_at <= :aged)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberS{Value: string(StatusActive)},
			":quiet":  numberAttr(quietCutoff),
			":aged":   numberAttr(ageCutoff),
		},
	}

	var due []Due
	for {
		out, err := s.client.Scan(ctx, input)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("buffer: scan due buffers: %w", err)
		}
		for _, item := range out.Items {
			var state State
			if err := attributevalue.UnmarshalMap(item, &state); err != nil {
				s.logger.Warn("skipping undecodable buffer item", "error", err)
				continue
			}
			reason := jobs.ReasonQuiet
			if state.OpenedAt <= ageCutoff {
				reason = jobs.ReasonAge
			}
			due = append(due, Due{
				ConversationID: state.ConversationID,
				BufferID:       state.BufferID,
				Reason:         reason,
			})
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return due, nil
}

func (s *Store) key(conversationID int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"conversation_id": &types.AttributeValueMemberN{Value: strconv.Itoa(conversationID)},
	}
}

func numberAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func expiryFor(arrivedMilli int64) int64 {
	return time.UnixMilli(arrivedMilli).Add(bufferTTL).Unix()
}

func isConditionalFailure(err error) bool {
	var cond *types.ConditionalCheckFailedException
	return errors.As(err, &cond)
}
