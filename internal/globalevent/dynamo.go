package globalevent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type eventRecord struct {
	Name        string `dynamodbav:"name"`
	LastFiredAt int64  `dynamodbav:"lastFiredAt"`
	FiredAt     string `dynamodbav:"firedAt"`
}

// DynamoGate acquires with a conditional PutItem: the write succeeds only
// when no record exists or the stored firing is older than the cooldown.
type DynamoGate struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

// NewDynamoGate creates a gate over a DynamoDB table keyed by event name.
func NewDynamoGate(client dynamoAPI, tableName string) *DynamoGate {
	if client == nil {
		panic("globalevent: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("globalevent: table name cannot be empty")
	}
	return &DynamoGate{client: client, tableName: tableName, now: time.Now}
}

func (g *DynamoGate) TryAcquire(ctx context.Context, name string, cooldown time.Duration) (bool, error) {
	now := g.now().UTC()
	item, err := attributevalue.MarshalMap(eventRecord{
		Name:        name,
		LastFiredAt: now.UnixMilli(),
		FiredAt:     now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return false, fmt.Errorf("globalevent: marshal %s: %w", name, err)
	}

	_, err = g.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(g.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#name) OR #last <= :threshold"),
		ExpressionAttributeNames: map[string]string{
			"#name": "name",
			"#last": "lastFiredAt",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":threshold": &types.AttributeValueMemberN{Value: fmt.Sprint(now.Add(-cooldown).UnixMilli())},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("globalevent: acquire %s: %w", name, err)
	}
	return true, nil
}
