package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type outcome struct {
	acked   bool
	requeue bool
}

type fakeAcker struct {
	mu       sync.Mutex
	outcomes map[uint64]outcome
}

func newFakeAcker() *fakeAcker {
	return &fakeAcker{outcomes: make(map[uint64]outcome)}
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[tag] = outcome{acked: true}
	return nil
}

func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[tag] = outcome{requeue: requeue}
	return nil
}

func (f *fakeAcker) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcker) get(tag uint64) (outcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.outcomes[tag]
	return o, ok
}

func TestDispatchOutcomes(t *testing.T) {
	acker := newFakeAcker()
	handler := func(ctx context.Context, body []byte) error {
		if string(body) == "bad" {
			return errors.New("malformed message")
		}
		return nil
	}

	dispatch(context.Background(), amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: []byte("ok")}, handler)
	dispatch(context.Background(), amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte("bad")}, handler)

	if o, _ := acker.get(1); !o.acked {
		t.Fatalf("message 1 = %+v, want acked", o)
	}
	if o, ok := acker.get(2); !ok || o.acked || o.requeue {
		t.Fatalf("message 2 = %+v, want rejected without requeue", o)
	}
}

func TestDispatchRequeuesOnShutdown(t *testing.T) {
	acker := newFakeAcker()
	ctx, cancel := context.WithCancel(context.Background())

	dispatch(ctx, amqp.Delivery{Acknowledger: acker, DeliveryTag: 7}, func(ctx context.Context, body []byte) error {
		cancel()
		return ctx.Err()
	})

	if o, ok := acker.get(7); !ok || !o.requeue {
		t.Fatalf("outcome = %+v, want requeued", o)
	}
}

func TestConsumeProcessesUntilClosed(t *testing.T) {
	acker := newFakeAcker()
	msgs := make(chan amqp.Delivery, 3)
	for tag := uint64(1); tag <= 3; tag++ {
		msgs <- amqp.Delivery{Acknowledger: acker, DeliveryTag: tag}
	}
	close(msgs)

	var mu sync.Mutex
	handled := 0
	err := consume(context.Background(), msgs, func(ctx context.Context, body []byte) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	}, 2)

	if err == nil {
		t.Fatal("expected error when the broker closes the channel")
	}
	if handled != 3 {
		t.Fatalf("handled = %d, want 3", handled)
	}
}

func TestConsumeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := consume(ctx, make(chan amqp.Delivery), func(context.Context, []byte) error { return nil }, 1); err != nil {
		t.Fatalf("consume: %v", err)
	}
}
