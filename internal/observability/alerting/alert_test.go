package alerting

import (
	"context"
	"errors"
	"strings"
	"testing"

	xerrors "OpenChat-Bot/internal/errors"
)

type recordingSender struct {
	server, target, text string
}

func (r *recordingSender) SendTo(_ context.Context, server, target, text string) error {
	r.server, r.target, r.text = server, target, text
	return nil
}

type failingNotifier struct{}

func (failingNotifier) Channel() Channel { return "failing" }
func (failingNotifier) Notify(context.Context, Event) error {
	return errors.New("unreachable")
}

func TestFanoutDeliversToChatAndJoinsErrors(t *testing.T) {
	sender := &recordingSender{}
	fanout := NewFanout(&ChatNotifier{Sender: sender, Server: "libera", Target: "#ops"}, failingNotifier{}, nil)

	err := fanout.Notify(context.Background(), FromError("quotes",
		xerrors.Wrap(xerrors.CodeStorageFailure, errors.New("disk full"), "open quotes table")))
	if err == nil || !strings.Contains(err.Error(), "channel failing") {
		t.Fatalf("expected joined error from failing notifier, got %v", err)
	}
	if sender.server != "libera" || sender.target != "#ops" {
		t.Fatalf("unexpected destination %s/%s", sender.server, sender.target)
	}
	want := "[CRITICAL] STORAGE_FAILURE (quotes): open quotes table: disk full"
	if sender.text != want {
		t.Fatalf("expected %q, got %q", want, sender.text)
	}
}
