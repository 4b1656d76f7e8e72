package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"OpenChat-Bot/internal/config"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/storage"
	"OpenChat-Bot/pkg/logger"
)

// Factory 为一个网络创建协议适配器。
type Factory func(n *Network) (Transport, error)

type session struct {
	network *Network
	cancel  context.CancelFunc
	done    chan struct{}
}

// Hub 管理所有已连接的网络。每个网络在自己的 goroutine 中运行，
// 退出一个网络只会取消它自己的上下文。
type Hub struct {
	bus        *event.Bus
	db         *storage.DB
	dispatcher MessageDispatcher
	log        *slog.Logger

	// MinBackoff 与 MaxBackoff 控制断线重连的等待时间。
	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu       sync.Mutex
	types    map[string]Factory
	sessions map[string]*session
}

// NewHub 创建网络管理器。
func NewHub(bus *event.Bus, db *storage.DB, dispatcher MessageDispatcher) *Hub {
	return &Hub{
		bus:        bus,
		db:         db,
		dispatcher: dispatcher,
		log:        logger.Named("hub"),
		MinBackoff: 5 * time.Second,
		MaxBackoff: 5 * time.Minute,
		types:      make(map[string]Factory),
		sessions:   make(map[string]*session),
	}
}

// RegisterType 注册一种协议类型。
func (h *Hub) RegisterType(name string, factory Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.types[name] = factory
}

// Connect 创建网络并在后台运行，断线后按退避时间重连，直到被 Quit 或 ctx 取消。
func (h *Hub) Connect(ctx context.Context, tag string, cfg config.ServerConfig) (*Network, error) {
	h.mu.Lock()
	factory, ok := h.types[cfg.Type]
	_, exists := h.sessions[tag]
	h.mu.Unlock()
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown chat type: %s", cfg.Type))
	}
	if exists {
		return nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("server %s is already connected", tag))
	}

	ignores, err := LoadIgnoreList(ctx, h.db, tag)
	if err != nil {
		return nil, err
	}
	network := NewNetwork(tag, cfg, h.bus, h.dispatcher, NewRoster(h.db, tag), ignores)
	transport, err := factory(network)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, fmt.Sprintf("create transport for %s", tag))
	}
	network.Bind(transport)

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{network: network, cancel: cancel, done: make(chan struct{})}

	h.mu.Lock()
	if _, exists := h.sessions[tag]; exists {
		h.mu.Unlock()
		cancel()
		return nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("server %s is already connected", tag))
	}
	h.sessions[tag] = s
	h.mu.Unlock()

	go h.run(runCtx, tag, s)
	return network, nil
}

func (h *Hub) run(ctx context.Context, tag string, s *session) {
	defer close(s.done)
	defer h.forget(tag, s)

	backoff := h.MinBackoff
	for {
		started := time.Now()
		err := s.network.Transport().Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			h.log.Warn("连接中断", slog.String("server", tag), slog.Any("error", err))
		}
		s.network.OnDisconnect(ctx, "", "connection lost")

		if time.Since(started) > h.MaxBackoff {
			backoff = h.MinBackoff
		}
		h.log.Info("等待重连", slog.String("server", tag), slog.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > h.MaxBackoff {
			backoff = h.MaxBackoff
		}
	}
}

func (h *Hub) forget(tag string, s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[tag] == s {
		delete(h.sessions, tag)
	}
}

// Network 返回已连接的网络。
func (h *Hub) Network(tag string) (*Network, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[tag]
	if !ok {
		return nil, false
	}
	return s.network, true
}

// Networks 返回所有已连接网络的标签。
func (h *Hub) Networks() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	tags := make([]string, 0, len(h.sessions))
	for tag := range h.sessions {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// SendTo 向指定网络的目标发送文本。
func (h *Hub) SendTo(ctx context.Context, server, target, text string) error {
	network, ok := h.Network(server)
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("server %s is not connected", server))
	}
	return network.Transport().Send(ctx, target, text)
}

// Quit 断开一个网络并取消它的所有后台任务。
func (h *Hub) Quit(tag, reason string) error {
	h.mu.Lock()
	s, ok := h.sessions[tag]
	h.mu.Unlock()
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("server %s is not connected", tag))
	}
	err := s.network.Transport().Disconnect(reason)
	s.cancel()
	return err
}

// Close 断开所有网络并等待它们退出，或直到 ctx 到期。
func (h *Hub) Close(ctx context.Context, reason string) error {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.network.Transport().Disconnect(reason); err != nil {
			errs = append(errs, err)
		}
		s.cancel()
	}
	for _, s := range sessions {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(errs...)
}
