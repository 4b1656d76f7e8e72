// Package chattest provides an in-memory chat transport for tests.
package chattest

import (
	"context"
	"strings"
	"sync"

	"OpenChat-Bot/internal/chat"
)

// Message is one line sent through the fake transport.
type Message struct {
	Target string
	Text   string
}

// Transport records outbound traffic and answers IsAdmin from a static set.
type Transport struct {
	mu       sync.Mutex
	server   string
	nick     string
	admins   map[string]bool
	sent     []Message
	joined   []string
	parted   []string
	quit     string
	runs     int
	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a fake transport for server with the given nickname.
func New(server, nick string) *Transport {
	return &Transport{server: server, nick: nick, admins: make(map[string]bool), stop: make(chan struct{})}
}

var _ chat.Transport = (*Transport)(nil)

// Admin marks nick as an administrator in every scope.
func (t *Transport) Admin(nick string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.admins[strings.ToLower(nick)] = true
}

func (t *Transport) Server() string { return t.server }

func (t *Transport) Nickname() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nick
}

func (t *Transport) Send(_ context.Context, target, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, Message{Target: target, Text: text})
	return nil
}

func (t *Transport) SetNick(_ context.Context, nick string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nick = nick
	return nil
}

func (t *Transport) Join(_ context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joined = append(t.joined, channel)
	return nil
}

func (t *Transport) Part(_ context.Context, channel, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parted = append(t.parted, channel)
	return nil
}

func (t *Transport) Disconnect(reason string) error {
	t.mu.Lock()
	t.quit = reason
	t.mu.Unlock()
	t.stopOnce.Do(func() { close(t.stop) })
	return nil
}

func (t *Transport) IsAdmin(_ context.Context, identity, _ string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.admins[strings.ToLower(identity)], nil
}

// Run blocks until Disconnect is called or ctx is done.
func (t *Transport) Run(ctx context.Context) error {
	t.mu.Lock()
	t.runs++
	t.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stop:
		return nil
	}
}

func (t *Transport) FormatCodes() map[string]string {
	return map[string]string{"b": "*", "/b": "*"}
}

// Sent returns every message sent so far.
func (t *Transport) Sent() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.sent...)
}

// Reset forgets recorded messages.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// Joined returns channels joined through the transport.
func (t *Transport) Joined() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.joined...)
}

// Parted returns channels parted through the transport.
func (t *Transport) Parted() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.parted...)
}

// QuitReason returns the reason passed to Disconnect.
func (t *Transport) QuitReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quit
}

// Runs reports how many times Run was entered.
func (t *Transport) Runs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs
}
