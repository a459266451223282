// Package worker saves attendance batches published to the queue.
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"rollbook/internal/queue"
	"rollbook/internal/records"
)

// Saver is the store method the worker drives.
type Saver interface {
	SaveAttendance(ctx context.Context, recs []records.Attendance) (records.SaveResult, error)
}

// Worker consumes attendance.mark messages.
type Worker struct {
	queue queue.Queue
	saver Saver
	// retryDelay separates redelivery attempts of a failed batch.
	retryDelay time.Duration
	// maxAttempts caps how often one batch is tried before it is dropped.
	maxAttempts int
}

func New(q queue.Queue, s Saver) *Worker {
	return &Worker{queue: q, saver: s, retryDelay: 5 * time.Second, maxAttempts: 5}
}

// Run processes messages until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.queue.Consume(ctx)
	if err != nil {
		return err
	}
	log.Println("worker: started, waiting for messages...")
	for msg := range messages {
		w.Handle(ctx, msg)
	}
	log.Println("worker: stopped")
	return nil
}

// Handle saves one message. Batches that failed on a connection or quota
// error are published again, up to maxAttempts tries in total; the
// duplicate check makes redelivery safe.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) {
	if msg.Type != queue.TypeAttendanceMark {
		log.Printf("worker: ignoring %s message %s", msg.Type, msg.ID)
		return
	}
	var recs []records.Attendance
	if err := msg.Decode(&recs); err != nil {
		log.Printf("worker: %v", err)
		return
	}
	res, err := w.saver.SaveAttendance(ctx, recs)
	if err == nil {
		log.Printf("worker: message %s: wrote %d, skipped %d", msg.ID, res.Written, res.Skipped)
		return
	}
	log.Printf("worker: message %s: %v", msg.ID, err)
	if !errors.Is(err, records.ErrConnection) && !errors.Is(err, records.ErrQuota) {
		return
	}
	msg.Attempts++
	if msg.Attempts >= w.maxAttempts {
		log.Printf("worker: dropping message %s after %d attempts (%d records)", msg.ID, msg.Attempts, len(recs))
		return
	}
	select {
	case <-time.After(w.retryDelay):
	case <-ctx.Done():
		return
	}
	// Requeue detached from the consumer context so shutdown does not drop it.
	if err := w.queue.Publish(context.WithoutCancel(ctx), msg); err != nil {
		log.Printf("worker: requeue %s failed: %v", msg.ID, err)
	}
}
