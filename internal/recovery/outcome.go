// Package recovery keeps the durable record of finished calls: the outcome
// log, the manual-recovery queue for operators, and transcript archives.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// outcomeItem is the DynamoDB shape of an outcome record.
type outcomeItem struct {
	CallID        string `dynamodbav:"call_id"`
	CallerPhone   string `dynamodbav:"caller_phone,omitempty"`
	Intent        string `dynamodbav:"intent,omitempty"`
	Email         string `dynamodbav:"email,omitempty"`
	Outcome       string `dynamodbav:"outcome"`
	Reason        string `dynamodbav:"reason,omitempty"`
	LastFailure   string `dynamodbav:"last_failure,omitempty"`
	AppointmentID string `dynamodbav:"appointment_id,omitempty"`
	PriorID       string `dynamodbav:"prior_appointment_id,omitempty"`
	Turns         int    `dynamodbav:"turns"`
	ManualRecover bool   `dynamodbav:"manual_recover"`
	StartedAt     string `dynamodbav:"started_at"`
	FinishedAt    string `dynamodbav:"finished_at"`
	ExpiresAt     int64  `dynamodbav:"expires_at"`
}

// DynamoOutcomeLog writes one item per finished call.
type DynamoOutcomeLog struct {
	client    dynamoAPI
	table     string
	retention time.Duration
}

func NewDynamoOutcomeLog(client dynamoAPI, table string, retention time.Duration) (*DynamoOutcomeLog, error) {
	if client == nil {
		return nil, errors.New("recovery: dynamodb client required")
	}
	if table == "" {
		return nil, errors.New("recovery: outcome table required")
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &DynamoOutcomeLog{client: client, table: table, retention: retention}, nil
}

func (l *DynamoOutcomeLog) RecordOutcome(ctx context.Context, rec dialogue.OutcomeRecord) error {
	item := outcomeItem{
		CallID:        rec.CallID,
		CallerPhone:   rec.CallerPhone,
		Intent:        string(rec.Intent),
		Email:         rec.Email,
		Outcome:       string(rec.Outcome.Kind),
		Reason:        string(rec.Outcome.Reason),
		LastFailure:   string(rec.LastFailure),
		Turns:         rec.Turns,
		ManualRecover: rec.ManualRecover,
		StartedAt:     rec.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:    rec.FinishedAt.UTC().Format(time.RFC3339),
		ExpiresAt:     rec.FinishedAt.Add(l.retention).Unix(),
	}
	if rec.Appointment != nil {
		item.AppointmentID = rec.Appointment.ID
	}
	if rec.Prior != nil {
		item.PriorID = rec.Prior.ID
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("recovery: marshal outcome: %w", err)
	}
	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("recovery: put outcome: %w", err)
	}
	return nil
}

// PgxExec is the subset of a pgx pool used by PostgresOutcomeLog.
type PgxExec interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresOutcomeLog writes outcomes to the call_outcomes table next to the
// calendar, so operators can join them with appointments.
type PostgresOutcomeLog struct {
	db PgxExec
}

func NewPostgresOutcomeLog(db PgxExec) *PostgresOutcomeLog {
	if db == nil {
		return nil
	}
	return &PostgresOutcomeLog{db: db}
}

func (l *PostgresOutcomeLog) RecordOutcome(ctx context.Context, rec dialogue.OutcomeRecord) error {
	var apptID *string
	if rec.Appointment != nil {
		apptID = &rec.Appointment.ID
	}
	_, err := l.db.Exec(ctx, `
		INSERT INTO call_outcomes (call_id, caller_phone, intent, email, outcome, reason, appointment_id, manual_recover, turns, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (call_id) DO NOTHING`,
		rec.CallID, rec.CallerPhone, string(rec.Intent), rec.Email,
		string(rec.Outcome.Kind), string(rec.Outcome.Reason), apptID,
		rec.ManualRecover, rec.Turns, rec.StartedAt.UTC(), rec.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("recovery: insert outcome: %w", err)
	}
	return nil
}

// Recorders fans one outcome out to several logs and joins their errors.
type Recorders []dialogue.OutcomeRecorder

func (rs Recorders) RecordOutcome(ctx context.Context, rec dialogue.OutcomeRecord) error {
	var errs []error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.RecordOutcome(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
