package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
	"github.com/wolfman30/clinic-voice-booking/internal/schedule"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

func failedReschedule() dialogue.OutcomeRecord {
	start := time.Date(2026, 10, 17, 3, 30, 0, 0, time.UTC)
	prior := time.Date(2026, 10, 20, 5, 30, 0, 0, time.UTC)
	return dialogue.OutcomeRecord{
		CallID:      "CA1",
		CallerPhone: "+919812345678",
		Intent:      dialogue.IntentReschedule,
		Email:       "j.doe@x.com",
		Outcome: dialogue.Outcome{
			Kind:   dialogue.OutcomeAbandoned,
			Reason: dialogue.ReasonBookingFailedAfterCancel,
			At:     start.Add(4 * time.Minute),
		},
		LastFailure:   dialogue.FailureCommit,
		Prior:         &schedule.Appointment{ID: "appt-old", Start: prior, End: prior.Add(20 * time.Minute)},
		Turns:         6,
		StartedAt:     start,
		FinishedAt:    start.Add(4 * time.Minute),
		ManualRecover: true,
	}
}

type mockDynamo struct {
	input *dynamodb.PutItemInput
	err   error
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.input = in
	return &dynamodb.PutItemOutput{}, m.err
}

func TestDynamoOutcomeLog(t *testing.T) {
	api := &mockDynamo{}
	log, err := NewDynamoOutcomeLog(api, "call-outcomes", 24*time.Hour)
	require.NoError(t, err)

	rec := failedReschedule()
	require.NoError(t, log.RecordOutcome(context.Background(), rec))
	assert.Equal(t, "call-outcomes", aws.ToString(api.input.TableName))

	var item outcomeItem
	require.NoError(t, attributevalue.UnmarshalMap(api.input.Item, &item))
	assert.Equal(t, "CA1", item.CallID)
	assert.Equal(t, "abandoned", item.Outcome)
	assert.Equal(t, "booking_failed_after_cancel", item.Reason)
	assert.Equal(t, "appt-old", item.PriorID)
	assert.Empty(t, item.AppointmentID)
	assert.True(t, item.ManualRecover)
	assert.Equal(t, rec.FinishedAt.Add(24*time.Hour).Unix(), item.ExpiresAt)

	api.err = errors.New("throughput exceeded")
	assert.ErrorContains(t, log.RecordOutcome(context.Background(), rec), "throughput exceeded")

	_, err = NewDynamoOutcomeLog(nil, "t", 0)
	assert.Error(t, err)
	_, err = NewDynamoOutcomeLog(api, "", 0)
	assert.Error(t, err)
}

func TestPostgresOutcomeLog(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rec := failedReschedule()
	mock.ExpectExec("INSERT INTO call_outcomes").
		WithArgs("CA1", "+919812345678", "reschedule", "j.doe@x.com", "abandoned", "booking_failed_after_cancel",
			pgxmock.AnyArg(), true, 6, rec.StartedAt, rec.FinishedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPostgresOutcomeLog(mock).RecordOutcome(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

type recorderFunc func(context.Context, dialogue.OutcomeRecord) error

func (f recorderFunc) RecordOutcome(ctx context.Context, rec dialogue.OutcomeRecord) error {
	return f(ctx, rec)
}

func TestRecordersFanOut(t *testing.T) {
	var calls int
	ok := recorderFunc(func(context.Context, dialogue.OutcomeRecord) error { calls++; return nil })
	bad := recorderFunc(func(context.Context, dialogue.OutcomeRecord) error { calls++; return errors.New("down") })

	err := Recorders{ok, nil, bad, ok}.RecordOutcome(context.Background(), failedReschedule())
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, 3, calls)
}

type mockSQS struct {
	sent    []*sqs.SendMessageInput
	inbox   []sqstypes.Message
	deleted []string
	recvErr error
}

func (m *mockSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.sent = append(m.sent, in)
	m.inbox = append(m.inbox, sqstypes.Message{Body: in.MessageBody, ReceiptHandle: aws.String("rh-" + aws.ToString(in.MessageBody)[:8])})
	return &sqs.SendMessageOutput{}, nil
}

func (m *mockSQS) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if m.recvErr != nil {
		return nil, m.recvErr
	}
	out := &sqs.ReceiveMessageOutput{Messages: m.inbox}
	m.inbox = nil
	return out, nil
}

func (m *mockSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.deleted = append(m.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueRoundTrip(t *testing.T) {
	api := &mockSQS{}
	q, err := NewSQSQueue(api, "https://sqs.test/recovery")
	require.NoError(t, err)

	require.NoError(t, q.EnqueueRecovery(context.Background(), failedReschedule()))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "https://sqs.test/recovery", aws.ToString(api.sent[0].QueueUrl))
	assert.Equal(t, "booking_failed_after_cancel", aws.ToString(api.sent[0].MessageAttributes["reason"].StringValue))

	msgs, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "CA1", msgs[0].Record.CallID)
	assert.Equal(t, "appt-old", msgs[0].Record.Prior.ID)

	require.NoError(t, q.Delete(context.Background(), msgs[0].ReceiptHandle))
	assert.Equal(t, []string{msgs[0].ReceiptHandle}, api.deleted)

	_, err = NewSQSQueue(api, "")
	assert.Error(t, err)
}

type captureNotifier struct {
	to, subject, body []string
	err               error
}

func (c *captureNotifier) Notify(_ context.Context, to, subject, body string) error {
	if c.err != nil {
		return c.err
	}
	c.to = append(c.to, to)
	c.subject = append(c.subject, subject)
	c.body = append(c.body, body)
	return nil
}

func TestWorkerAlertsClinicAndDeletes(t *testing.T) {
	api := &mockSQS{}
	q, err := NewSQSQueue(api, "https://sqs.test/recovery")
	require.NoError(t, err)
	require.NoError(t, q.EnqueueRecovery(context.Background(), failedReschedule()))
	api.inbox = append(api.inbox, sqstypes.Message{Body: aws.String("not json"), ReceiptHandle: aws.String("rh-garbage")})

	notifier := &captureNotifier{}
	w := NewWorker(q, notifier, "frontdesk@clinic.test", logging.Discard())
	require.NoError(t, w.drain(context.Background()))

	require.Len(t, notifier.to, 1)
	assert.Equal(t, "frontdesk@clinic.test", notifier.to[0])
	assert.Equal(t, "Manual follow-up needed for call CA1", notifier.subject[0])
	assert.Contains(t, notifier.body[0], "appt-old")
	assert.Contains(t, notifier.body[0], "contact the patient to rebook")
	assert.Len(t, api.deleted, 2)
}

func TestWorkerKeepsMessageWhenAlertFails(t *testing.T) {
	api := &mockSQS{}
	q, _ := NewSQSQueue(api, "https://sqs.test/recovery")
	require.NoError(t, q.EnqueueRecovery(context.Background(), failedReschedule()))

	w := NewWorker(q, &captureNotifier{err: errors.New("smtp down")}, "frontdesk@clinic.test", logging.Discard())
	require.NoError(t, w.drain(context.Background()))
	assert.Empty(t, api.deleted)

	api.recvErr = errors.New("denied")
	assert.Error(t, w.drain(context.Background()))
}

type mockS3 struct {
	key  string
	body []byte
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.key = aws.ToString(in.Key)
	m.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3ArchiveScrubsTranscript(t *testing.T) {
	api := &mockS3{}
	archive := NewS3Archive(api, "call-archive", logging.Discard())
	rec := failedReschedule()

	err := archive.ArchiveTranscript(context.Background(), rec, []dialogue.TranscriptEntry{
		{Role: dialogue.RoleCaller, Text: "my email is j.doe@x.com and my number is +91 98123 45678"},
		{Role: dialogue.RoleAgent, Text: "I have your email as J dot doe at x dot com. Is that correct?"},
		{Role: dialogue.RoleCaller, Text: "Monday 2026-10-19 at 11"},
	})
	require.NoError(t, err)
	assert.Equal(t, "calls/v1/by-date/2026/10/17/CA1.json", api.key)

	var doc ArchivedCall
	require.NoError(t, json.Unmarshal(api.body, &doc))
	assert.Equal(t, HashPhone("+919812345678"), doc.PhoneHash)
	assert.Equal(t, "abandoned(booking_failed_after_cancel)", doc.Outcome)
	assert.Equal(t, "my email is [EMAIL] and my number is [PHONE]", doc.Entries[0].Text)
	assert.Equal(t, "I have your email as [EMAIL]. Is that correct?", doc.Entries[1].Text)
	assert.Equal(t, "Monday 2026-10-19 at 11", doc.Entries[2].Text)
	assert.NotContains(t, string(api.body), "+919812345678")

	disabled := NewS3Archive(api, "", nil)
	assert.False(t, disabled.Enabled())
	assert.NoError(t, disabled.ArchiveTranscript(context.Background(), rec, nil))
}
