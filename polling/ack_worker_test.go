package polling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-session-sync/core"
)

type stubDelivery struct {
	msg    *core.JobExecutionMessage
	acked  bool
	nacked []core.JobNackOptions
}

func (d *stubDelivery) Message() *core.JobExecutionMessage { return d.msg }

func (d *stubDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *stubDelivery) Nack(_ context.Context, opts core.JobNackOptions) error {
	d.nacked = append(d.nacked, opts)
	return nil
}

type sliceDequeuer struct {
	deliveries []core.JobDelivery
}

func (q *sliceDequeuer) Dequeue(context.Context) (core.JobDelivery, error) {
	if len(q.deliveries) == 0 {
		return nil, errors.New("queue empty")
	}
	next := q.deliveries[0]
	q.deliveries = q.deliveries[1:]
	return next, nil
}

type hookRecorder struct {
	events []string
}

func (h *hookRecorder) OnStart(context.Context, core.JobWorkerEvent)   { h.events = append(h.events, "start") }
func (h *hookRecorder) OnSuccess(context.Context, core.JobWorkerEvent) { h.events = append(h.events, "success") }
func (h *hookRecorder) OnFailure(context.Context, core.JobWorkerEvent) { h.events = append(h.events, "failure") }
func (h *hookRecorder) OnRetry(context.Context, core.JobWorkerEvent)   { h.events = append(h.events, "retry") }

var (
	_ core.JobDelivery   = (*stubDelivery)(nil)
	_ core.JobDequeuer   = (*sliceDequeuer)(nil)
	_ core.JobWorkerHook = (*hookRecorder)(nil)
)

func TestAcknowledgeWorker_AcksSuccessfulDelivery(t *testing.T) {
	gateway := newFakeNotificationGateway()
	delivery := &stubDelivery{msg: AcknowledgeJobMessage("n1")}
	hook := &hookRecorder{}
	worker, err := NewAcknowledgeWorker(&sliceDequeuer{deliveries: []core.JobDelivery{delivery}}, gateway, AcknowledgeWorkerConfig{Hook: hook})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	stats, err := worker.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !delivery.acked || stats.Acknowledged != 1 {
		t.Fatalf("expected delivery acked, stats=%+v", stats)
	}
	if gateway.ackCount() != 1 || gateway.acked[0] != "n1" {
		t.Fatalf("unexpected remote acknowledgements %v", gateway.acked)
	}
	if len(hook.events) != 2 || hook.events[0] != "start" || hook.events[1] != "success" {
		t.Fatalf("unexpected hook events %v", hook.events)
	}
}

func TestAcknowledgeWorker_RetriesWithBackoffThenDeadLetters(t *testing.T) {
	gateway := newFakeNotificationGateway()
	gateway.ackErr = errors.New("remote down")
	worker, err := NewAcknowledgeWorker(&sliceDequeuer{}, gateway, AcknowledgeWorkerConfig{
		MaxAttempts: 3,
		Backoff:     core.ExponentialBackoffScheduler{Initial: time.Second, Max: time.Minute},
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	msg := AcknowledgeJobMessage("n9")
	wantDelays := []time.Duration{time.Second, 2 * time.Second}
	for i, want := range wantDelays {
		delivery := &stubDelivery{msg: msg}
		stats, err := worker.Handle(context.Background(), delivery)
		if err != nil {
			t.Fatalf("handle attempt %d: %v", i+1, err)
		}
		if stats.Retried != 1 || len(delivery.nacked) != 1 {
			t.Fatalf("expected retry on attempt %d, stats=%+v", i+1, stats)
		}
		nack := delivery.nacked[0]
		if !nack.Requeue || nack.DeadLetter || nack.Delay != want {
			t.Fatalf("unexpected nack on attempt %d: %+v", i+1, nack)
		}
	}

	final := &stubDelivery{msg: AcknowledgeJobMessage("n9")}
	stats, err := worker.Handle(context.Background(), final)
	if err != nil {
		t.Fatalf("handle final attempt: %v", err)
	}
	if stats.DeadLettered != 1 || len(final.nacked) != 1 || !final.nacked[0].DeadLetter {
		t.Fatalf("expected dead letter after max attempts, stats=%+v nack=%+v", stats, final.nacked)
	}
}

func TestAcknowledgeWorker_DeadLettersUnsupportedJobs(t *testing.T) {
	worker, err := NewAcknowledgeWorker(&sliceDequeuer{}, newFakeNotificationGateway(), AcknowledgeWorkerConfig{})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	delivery := &stubDelivery{msg: &core.JobExecutionMessage{JobID: "other.job"}}
	stats, err := worker.Handle(context.Background(), delivery)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if stats.Ignored != 1 || len(delivery.nacked) != 1 || !delivery.nacked[0].DeadLetter {
		t.Fatalf("expected unsupported job dead-lettered, stats=%+v", stats)
	}

	missing := &stubDelivery{msg: &core.JobExecutionMessage{JobID: AcknowledgeJobID}}
	stats, err = worker.Handle(context.Background(), missing)
	if err != nil {
		t.Fatalf("handle missing id: %v", err)
	}
	if stats.DeadLettered != 1 {
		t.Fatalf("expected missing id dead-lettered, stats=%+v", stats)
	}
}

func TestAcknowledgeWorker_RunStopsOnDequeueError(t *testing.T) {
	gateway := newFakeNotificationGateway()
	queue := &sliceDequeuer{deliveries: []core.JobDelivery{
		&stubDelivery{msg: AcknowledgeJobMessage("a")},
		&stubDelivery{msg: AcknowledgeJobMessage("b")},
	}}
	worker, err := NewAcknowledgeWorker(queue, gateway, AcknowledgeWorkerConfig{})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	stats, err := worker.Run(context.Background())
	if err == nil {
		t.Fatalf("expected dequeue error to stop the loop")
	}
	if stats.Acknowledged != 2 {
		t.Fatalf("expected two acknowledgements, got %+v", stats)
	}
}
