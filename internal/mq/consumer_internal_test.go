package mq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type recordingAcknowledger struct {
	acks, nacks, rejects int
	requeued             bool
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acks++
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.requeued = a.requeued || requeue
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	a.rejects++
	a.requeued = a.requeued || requeue
	return nil
}

const validJob = `{"job_id":"j1","account_id":"acc","point_id":"12345678901234","kind":"consumption_daily","start":"2024-01-01","end":"2024-01-31"}`

func TestProcessMessage(t *testing.T) {
	tests := []struct {
		name                 string
		body                 string
		handlerErr           error
		wantCalled           bool
		acks, nacks, rejects int
	}{
		{name: "handled job is acked", body: validJob, wantCalled: true, acks: 1},
		{name: "failed job is dead-lettered", body: validJob, handlerErr: errors.New("upstream unavailable"), wantCalled: true, nacks: 1},
		{name: "malformed body is rejected", body: `{"job_id":`, rejects: 1},
		{name: "missing fields are rejected", body: `{"job_id":"j2"}`, rejects: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &recordingAcknowledger{}
			called := false
			c := &Consumer{
				logger: zap.NewNop(),
				handle: func(ctx context.Context, job PrefetchJob) error {
					called = true
					if job.JobID != "j1" {
						t.Errorf("Expected job j1, got %q", job.JobID)
					}
					return tt.handlerErr
				},
			}

			c.processMessage(context.Background(), amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(tt.body)})

			if called != tt.wantCalled {
				t.Errorf("Expected handler called=%v, got %v", tt.wantCalled, called)
			}
			if ack.acks != tt.acks || ack.nacks != tt.nacks || ack.rejects != tt.rejects {
				t.Errorf("Expected ack/nack/reject %d/%d/%d, got %d/%d/%d",
					tt.acks, tt.nacks, tt.rejects, ack.acks, ack.nacks, ack.rejects)
			}
			if ack.requeued {
				t.Error("Expected no message to be requeued")
			}
		})
	}
}
