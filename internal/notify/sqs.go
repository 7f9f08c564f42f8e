package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Envelope is the queued push-broadcast payload.
type Envelope struct {
	ID           string       `json:"id"`
	Kind         string       `json:"kind"`
	Notification Notification `json:"notification"`
	CreatedAt    time.Time    `json:"created_at"`
}

const envelopeKind = "notify_except"

// SQSDispatcher enqueues one Envelope per notification.
type SQSDispatcher struct {
	client   sqsAPI
	queueURL string
	now      func() time.Time
}

// NewSQSDispatcher creates a dispatcher publishing to queueURL.
func NewSQSDispatcher(client sqsAPI, queueURL string) *SQSDispatcher {
	if client == nil {
		panic("notify: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("notify: SQS queueURL cannot be empty")
	}
	return &SQSDispatcher{client: client, queueURL: queueURL, now: time.Now}
}

func (d *SQSDispatcher) NotifyExcept(ctx context.Context, senderID, title, body, locationKey string) error {
	n := Notification{SenderID: senderID, Title: title, Body: body, LocationKey: locationKey}
	if err := n.validate(); err != nil {
		return err
	}
	env := Envelope{
		ID:           uuid.NewString(),
		Kind:         envelopeKind,
		Notification: n,
		CreatedAt:    d.now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("notify: marshal envelope: %w", err)
	}
	_, err = d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind":     {DataType: aws.String("String"), StringValue: aws.String(envelopeKind)},
			"location": {DataType: aws.String("String"), StringValue: aws.String(locationOrAll(locationKey))},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: failed to send SQS message: %w", err)
	}
	return nil
}

func locationOrAll(key string) string {
	if key == "" {
		return "all"
	}
	return key
}
