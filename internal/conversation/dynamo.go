package conversation

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

	"github.com/echoposthq/echopost/pkg/logging"
)

// Abandoned clarifications fall out of the table instead of trapping
// the conversation in the awaiting phase forever.
const clarificationTTL = 24 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Store keeps dialog state in DynamoDB, one item per conversation.
type Store struct {
	client dynamoAPI
	table  string
	logger *logging.Logger
}

var _ States = (*Store)(nil)

// NewStore builds a store backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("conversation: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Store{
		client: client,
		table:  tableName,
		logger: logger,
	}
}

// Get fetches the dialog state with a consistent read; intake decides
// clarification routing on it and must not act on a stale phase.
func (s *Store) Get(ctx context.Context, conversationID int) (*State, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(conversationID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: fetch state: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var state State
	if err := attributevalue.UnmarshalMap(out.Item, &state); err != nil {
		return nil, fmt.Errorf("conversation: decode state: %w", err)
	}
	return &state, nil
}

func (s *Store) BeginClarification(ctx context.Context, conversationID int, pending PendingOrder) error {
	if pending.BufferID == "" {
		return errors.New("conversation: pending order needs a buffer id")
	}
	return s.putState(ctx, conversationID, PhaseAwaitingClarification, &pending)
}

func (s *Store) UpdatePending(ctx context.Context, conversationID int, pending PendingOrder) error {
	return s.putState(ctx, conversationID, PhaseAwaitingClarification, &pending)
}

func (s *Store) putState(ctx context.Context, conversationID int, phase Phase, pending *PendingOrder) error {
	now := time.Now().UTC()
	state := State{
		ConversationID: conversationID,
		Phase:          phase,
		Pending:        pending,
		UpdatedAt:      now.UnixMilli(),
		ExpiresAt:      now.Add(clarificationTTL).Unix(),
	}
	item, err := attributevalue.MarshalMap(state)
	if err != nil {
		return fmt.Errorf("conversation: marshal state: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("conversation: persist state: %w", err)
	}
	return nil
}

func (s *Store) EndClarification(ctx context.Context, conversationID int) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table),
		Key:                 s.key(conversationID),
		UpdateExpression:    aws.String("SET phase = :normal, updated_at = :now REMOVE pending"),
		ConditionExpression: aws.String("phase = :awaiting"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":normal":   &types.AttributeValueMemberS{Value: string(PhaseNormal)},
			":awaiting": &types.AttributeValueMemberS{Value: string(PhaseAwaitingClarification)},
			":now":      &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)},
		},
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return nil
		}
		return fmt.Errorf("conversation: end clarification: %w", err)
	}
	return nil
}

func (s *Store) key(conversationID int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"conversation_id": &types.AttributeValueMemberN{Value: strconv.Itoa(conversationID)},
	}
}
