package repository

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"

	"echochat/internal/domain"
	"echochat/internal/metrics"
)

const (
	pkPrefixUser = "USER#"
	skPrefixMsg  = "MSG#"
	backendDDB   = "dynamodb"
	conditionNew = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Client stores each subject's messages under one partition of a DynamoDB
// table.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	newID     func() string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now, newID: newUUID}, nil
}

// userPK returns the partition key holding a subject's messages.
func userPK(subject string) string {
	return pkPrefixUser + subject
}

// msgSK orders messages by time; the id keeps same-instant writes distinct.
func msgSK(ts time.Time, id string) string {
	return skPrefixMsg + ts.UTC().Format(time.RFC3339Nano) + "#" + id
}

// AppendMessage writes msg as a new item and returns its id. Existing items
// are never overwritten.
func (c *Client) AppendMessage(ctx context.Context, msg domain.ChatMessage) (string, error) {
	msg, err := prepare(msg, c.now, c.newID)
	if err != nil {
		return "", err
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String(conditionNew),
	})
	if err != nil {
		metrics.StoreWrites.WithLabelValues(backendDDB, metrics.OutcomeError).Inc()
		return "", errors.Wrap(err, "repository: AppendMessage")
	}
	metrics.StoreWrites.WithLabelValues(backendDDB, metrics.OutcomeOK).Inc()
	return msg.ID, nil
}

func messageItem(msg domain.ChatMessage) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: userPK(msg.Subject)},
		"SK":      &types.AttributeValueMemberS{Value: msgSK(msg.Timestamp, msg.ID)},
		"id":      &types.AttributeValueMemberS{Value: msg.ID},
		"subject": &types.AttributeValueMemberS{Value: msg.Subject},
		"role":    &types.AttributeValueMemberS{Value: string(msg.Role)},
		"text":    &types.AttributeValueMemberS{Value: msg.Text},
		"ts":      &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
	}
	if msg.Source != "" {
		item["source"] = &types.AttributeValueMemberS{Value: msg.Source}
	}
	if msg.ReplyTo != "" {
		item["replyTo"] = &types.AttributeValueMemberS{Value: msg.ReplyTo}
	}
	return item
}
