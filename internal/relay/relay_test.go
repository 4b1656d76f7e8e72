package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/config"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/event"
)

func TestMemoryQueueDeliversInOrder(t *testing.T) {
	q := NewMemoryQueue(8)
	ctx := context.Background()
	for _, body := range []string{"one", "two", "three"} {
		if err := q.Publish(ctx, []byte(body)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("expected three queued messages, got %d", q.Len())
	}
	q.Close()

	var got []string
	if err := q.Consume(ctx, 1, func(_ context.Context, body []byte) error {
		got = append(got, string(body))
		return nil
	}); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(got) != 3 || got[0] != "one" || got[2] != "three" {
		t.Fatalf("unexpected delivery order %v", got)
	}
	if err := q.Publish(ctx, []byte("late")); !xerrors.HasCode(err, xerrors.CodeQueueFailure) {
		t.Fatalf("publish after close should fail, got %v", err)
	}
}

func TestMemoryQueueConsumeStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Consume(ctx, 2, func(context.Context, []byte) error { return nil }) }()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("consume did not stop")
	}
}

func TestLossyMemoryQueueDropsOldest(t *testing.T) {
	q := NewLossyMemoryQueue(2)
	for _, body := range []string{"a", "b", "c"} {
		if err := q.Publish(context.Background(), []byte(body)); err != nil {
			t.Fatalf("publish %s: %v", body, err)
		}
	}
	if q.Len() != 2 || q.Dropped() != 1 {
		t.Fatalf("expected 2 queued and 1 dropped, got %d and %d", q.Len(), q.Dropped())
	}
	q.Close()

	var got []string
	if err := q.Consume(context.Background(), 1, func(_ context.Context, body []byte) error {
		got = append(got, string(body))
		return nil
	}); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected the oldest message to be dropped, got %v", got)
	}
}

func TestEnvelopeFromMessage(t *testing.T) {
	env, ok := FromPayload(event.TopicMessage, &chat.Context{
		Server: "libera", Channel: "#go", Target: "#go", Sender: "alice", Text: "hi", Addressed: true,
	})
	if !ok {
		t.Fatalf("chat.Context payloads should be relayed")
	}
	body, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["topic"] != event.TopicMessage || decoded["nick"] != "alice" || decoded["addressed"] != true {
		t.Fatalf("unexpected envelope %s", body)
	}
	if id, _ := decoded["id"].(string); len(id) != 36 {
		t.Fatalf("expected a uuid id, got %q", id)
	}

	if _, ok := FromPayload(event.TopicModuleLoaded, "core"); ok {
		t.Fatalf("module names are not chat payloads")
	}
}

func TestDecodeAnnouncement(t *testing.T) {
	a, err := DecodeAnnouncement([]byte(`{"server":"libera","target":"#go","text":"deploy done"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.ID == "" || a.Target != "#go" {
		t.Fatalf("unexpected announcement %+v", a)
	}
	if _, err := DecodeAnnouncement([]byte(`{"server":"libera"}`)); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := DecodeAnnouncement([]byte(`not json`)); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument for bad json, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.RelayConfig{Driver: "kafka"}); err == nil {
		t.Fatalf("expected an error for an unknown driver")
	}
	b, err := Open(context.Background(), config.RelayConfig{})
	if err != nil || b.Driver != "memory" {
		t.Fatalf("default driver should be memory, got %v %v", b, err)
	}
	b.Close()
}
