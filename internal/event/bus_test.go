package event

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"OpenChat-Bot/internal/observability/metrics"
)

func TestPublishIsolatesFailingHandlers(t *testing.T) {
	metrics.Reset()
	bus := NewBus()
	var calls []string

	bus.Subscribe(TopicMessage, "a", func(context.Context, any) error {
		calls = append(calls, "a")
		return errors.New("boom")
	})
	bus.Subscribe(TopicMessage, "b", func(context.Context, any) error {
		calls = append(calls, "b")
		panic("kaboom")
	})
	bus.Subscribe(TopicMessage, "c", func(_ context.Context, payload any) error {
		calls = append(calls, "c:"+payload.(string))
		return nil
	})

	bus.Publish(context.Background(), TopicMessage, "hi")

	if !reflect.DeepEqual(calls, []string{"a", "b", "c:hi"}) {
		t.Fatalf("unexpected invocation order: %v", calls)
	}
	if got := metrics.HookCount(TopicMessage, metrics.OutcomeError); got != 1 {
		t.Fatalf("expected one failed hook, got %d", got)
	}
	if got := metrics.HookCount(TopicMessage, metrics.OutcomePanic); got != 1 {
		t.Fatalf("expected one panicked hook, got %d", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	fired := 0
	id := bus.Subscribe(TopicJoin, "m", func(context.Context, any) error {
		fired++
		return nil
	})
	other := bus.Subscribe(TopicJoin, "m", func(context.Context, any) error { return nil })

	if !bus.Unsubscribe(TopicJoin, id) {
		t.Fatalf("expected unsubscribe to succeed")
	}
	if bus.Unsubscribe(TopicJoin, id) {
		t.Fatalf("second unsubscribe should report absence")
	}
	bus.Publish(context.Background(), TopicJoin, nil)
	if fired != 0 {
		t.Fatalf("unsubscribed handler fired %d times", fired)
	}
	if bus.Subscribers(TopicJoin) != 1 {
		t.Fatalf("expected one remaining subscriber")
	}
	bus.Unsubscribe(TopicJoin, other)
	if bus.Subscribers(TopicJoin) != 0 {
		t.Fatalf("expected topic to be empty")
	}
}

func TestPublishSeesSnapshot(t *testing.T) {
	bus := NewBus()
	var late int
	bus.Subscribe(TopicConnect, "m", func(context.Context, any) error {
		bus.Subscribe(TopicConnect, "m", func(context.Context, any) error {
			late++
			return nil
		})
		return nil
	})
	bus.Publish(context.Background(), TopicConnect, nil)
	if late != 0 {
		t.Fatalf("handlers subscribed during publish must not run in the same publish")
	}
}

func TestPublishReachesEveryHandlerAfterCancel(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	var seen []error

	bus.Subscribe(TopicJoin, "a", func(ctx context.Context, _ any) error {
		cancel()
		seen = append(seen, ctx.Err())
		return nil
	})
	bus.Subscribe(TopicJoin, "b", func(ctx context.Context, _ any) error {
		seen = append(seen, ctx.Err())
		return nil
	})

	bus.Publish(ctx, TopicJoin, nil)

	if len(seen) != 2 {
		t.Fatalf("expected both handlers to run, got %d", len(seen))
	}
	if !errors.Is(seen[1], context.Canceled) {
		t.Fatalf("second handler should see the cancelled context, got %v", seen[1])
	}
}
