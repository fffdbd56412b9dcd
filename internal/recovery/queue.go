package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue carries outcomes that need an operator, such as a reschedule whose
// new booking failed after the old one was cancelled.
type SQSQueue struct {
	client   sqsAPI
	queueURL string
}

func NewSQSQueue(client sqsAPI, queueURL string) (*SQSQueue, error) {
	if client == nil {
		return nil, errors.New("recovery: SQS client cannot be nil")
	}
	if queueURL == "" {
		return nil, errors.New("recovery: SQS queueURL cannot be empty")
	}
	return &SQSQueue{client: client, queueURL: queueURL}, nil
}

func (q *SQSQueue) EnqueueRecovery(ctx context.Context, rec dialogue.OutcomeRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("recovery: marshal recovery message: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"reason": {DataType: aws.String("String"), StringValue: aws.String(string(rec.Outcome.Reason))},
		},
	})
	if err != nil {
		return fmt.Errorf("recovery: send SQS message: %w", err)
	}
	return nil
}

// Message is a received recovery request and the handle needed to delete it.
type Message struct {
	Record        dialogue.OutcomeRecord
	ReceiptHandle string
}

// Receive long-polls for recovery messages. Bodies that do not decode are
// returned with a zero CallID so the caller can delete them.
func (q *SQSQueue) Receive(ctx context.Context, maxMessages, waitSeconds int32) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("recovery: receive SQS messages: %w", err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		var rec dialogue.OutcomeRecord
		_ = json.Unmarshal([]byte(aws.ToString(m.Body)), &rec)
		msgs = append(msgs, Message{Record: rec, ReceiptHandle: aws.ToString(m.ReceiptHandle)})
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("recovery: delete SQS message: %w", err)
	}
	return nil
}
