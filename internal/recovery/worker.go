package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-voice-booking/internal/dialogue"
	"github.com/wolfman30/clinic-voice-booking/pkg/logging"
)

type recoveryReceiver interface {
	Receive(ctx context.Context, maxMessages, waitSeconds int32) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Worker drains the recovery queue and emails the clinic one follow-up per
// call. Messages stay on the queue until the email goes out.
type Worker struct {
	queue       recoveryReceiver
	notifier    dialogue.Notifier
	clinicEmail string
	logger      *logging.Logger
	batchSize   int32
	wait        int32
	errBackoff  time.Duration
}

func NewWorker(queue recoveryReceiver, notifier dialogue.Notifier, clinicEmail string, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		queue:       queue,
		notifier:    notifier,
		clinicEmail: clinicEmail,
		logger:      logger,
		batchSize:   10,
		wait:        20,
		errBackoff:  5 * time.Second,
	}
}

func (w *Worker) WithBatchSize(n int32) *Worker {
	if n > 0 && n <= 10 {
		w.batchSize = n
	}
	return w
}

func (w *Worker) WithErrorBackoff(d time.Duration) *Worker {
	if d > 0 {
		w.errBackoff = d
	}
	return w
}

func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.drain(ctx); err != nil {
			w.logger.Error("recovery queue receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.errBackoff):
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	msgs, err := w.queue.Receive(ctx, w.batchSize, w.wait)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.Record.CallID == "" {
			w.logger.Warn("dropping undecodable recovery message")
			_ = w.queue.Delete(ctx, m.ReceiptHandle)
			continue
		}
		subject, body := followUp(m.Record)
		if err := w.notifier.Notify(ctx, w.clinicEmail, subject, body); err != nil {
			w.logger.Error("recovery alert failed", "error", err, "call_id", m.Record.CallID)
			continue
		}
		if err := w.queue.Delete(ctx, m.ReceiptHandle); err != nil {
			w.logger.Error("recovery message delete failed", "error", err, "call_id", m.Record.CallID)
			continue
		}
		w.logger.Info("recovery alert sent", "call_id", m.Record.CallID, "reason", m.Record.Outcome.Reason)
	}
	return nil
}

func followUp(rec dialogue.OutcomeRecord) (string, string) {
	subject := "Manual follow-up needed for call " + rec.CallID
	var b strings.Builder
	fmt.Fprintf(&b, "Call %s ended as %s and needs an operator.\n", rec.CallID, rec.Outcome)
	if rec.Email != "" {
		fmt.Fprintf(&b, "Patient email: %s\n", rec.Email)
	}
	if rec.CallerPhone != "" {
		fmt.Fprintf(&b, "Caller phone: %s\n", rec.CallerPhone)
	}
	if rec.Prior != nil {
		fmt.Fprintf(&b, "Cancelled appointment: %s (id %s)\n", rec.Prior.Slot().Spoken(), rec.Prior.ID)
	}
	if rec.Outcome.Reason == dialogue.ReasonBookingFailedAfterCancel {
		b.WriteString("\nThe old appointment was cancelled but the new booking failed. Please contact the patient to rebook.\n")
	}
	return subject, b.String()
}
