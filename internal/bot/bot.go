// Package bot 负责把各个组件组装成一个运行中的机器人进程。
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"OpenChat-Bot/internal/api"
	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/chat/discord"
	"OpenChat-Bot/internal/chat/irc"
	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/config"
	"OpenChat-Bot/internal/dispatch"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/modules/chatlog"
	"OpenChat-Bot/internal/modules/core"
	"OpenChat-Bot/internal/modules/countdown"
	"OpenChat-Bot/internal/modules/host"
	relaymod "OpenChat-Bot/internal/modules/relay"
	"OpenChat-Bot/internal/observability/alerting"
	"OpenChat-Bot/internal/personality"
	"OpenChat-Bot/internal/relay"
	"OpenChat-Bot/internal/storage"
	"OpenChat-Bot/internal/version"
	"OpenChat-Bot/pkg/logger"
	"OpenChat-Bot/pkg/plugin"
)

// AutoloadKey 是启动时自动加载的模块列表的配置路径。
const AutoloadKey = "autoload"

// Catalog 返回内置模块的目录。
func Catalog() *plugin.Catalog {
	c := plugin.NewCatalog()
	c.Register(core.Name, core.New)
	c.Register(chatlog.Name, chatlog.New)
	c.Register(relaymod.Name, relaymod.New)
	c.Register(countdown.Name, countdown.New)
	return c
}

// Bot 持有进程内唯一一份的共享组件。
type Bot struct {
	cfg        *config.Config
	store      *config.Store
	db         *storage.DB
	bus        *event.Bus
	registry   *command.Registry
	catalog    *personality.Catalog
	dispatcher *dispatch.Dispatcher
	hub        *chat.Hub
	broker     *relay.Broker
	manager    *plugin.Manager
	log        *slog.Logger

	closeOnce sync.Once
}

// New 读取配置并初始化所有组件，但不连接任何网络。
func New(ctx context.Context, path string) (*Bot, error) {
	cfg, doc, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	cascade := config.NewCascadeFrom(doc)
	for _, def := range []struct {
		path  string
		value any
	}{
		{dispatch.PrefixesKey, cfg.CommandPrefixes},
		{personality.Key, cfg.Personality},
		{AutoloadKey, []any{core.Name}},
	} {
		if err := cascade.Ensure(def.path, def.value); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	db, err := storage.Open(ctx, storage.Config{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	if err := chat.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	broker, err := relay.Open(ctx, cfg.Relay)
	if err != nil {
		db.Close()
		return nil, err
	}

	b := &Bot{
		cfg:      cfg,
		store:    config.NewStore(path, cascade),
		db:       db,
		bus:      event.NewBus(),
		registry: command.NewRegistry(cascade),
		catalog:  personality.New(cascade),
		broker:   broker,
		log:      logger.Named("bot"),
	}
	b.dispatcher = dispatch.New(b.registry, b.bus, cascade, b.catalog)
	b.hub = chat.NewHub(b.bus, db, b.dispatcher)
	b.hub.RegisterType(irc.Type, irc.Factory)
	b.hub.RegisterType(discord.Type, discord.Factory)

	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if cfg.Alerting.Server != "" && cfg.Alerting.Target != "" {
		notifiers = append(notifiers, &alerting.ChatNotifier{Sender: b.hub, Server: cfg.Alerting.Server, Target: cfg.Alerting.Target})
	}
	alerts := alerting.NewFanout(notifiers...)
	b.manager = plugin.NewManager(b.registry, b.bus, cascade,
		plugin.WithLoader(Catalog()),
		plugin.WithAlerts(alerts),
		plugin.WithResource(host.KeyRegistry, b.registry),
		plugin.WithResource(host.KeyHub, b.hub),
		plugin.WithResource(host.KeyBus, b.bus),
		plugin.WithResource(host.KeyStore, b.store),
		plugin.WithResource(host.KeyPersonality, b.catalog),
		plugin.WithResource(host.KeyBroker, broker),
		plugin.WithResource(host.KeyRelayTopics, cfg.Relay.Topics),
		plugin.WithResource(host.KeyDataDir, cfg.DataDir),
	)
	b.manager.Provide(host.KeyManager, b.manager)
	return b, nil
}

// Config 返回启动配置。
func (b *Bot) Config() *config.Config { return b.cfg }

// Manager 返回模块生命周期管理器。
func (b *Bot) Manager() *plugin.Manager { return b.manager }

// Hub 返回网络集合。
func (b *Bot) Hub() *chat.Hub { return b.hub }

// Run 加载自动加载的模块、连接所有配置的网络并启动管理接口，阻塞到 ctx 结束。
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info("启动", slog.String("version", version.String()))
	b.autoload(ctx)

	tags := make([]string, 0, len(b.cfg.Servers))
	for tag := range b.cfg.Servers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if _, err := b.hub.Connect(ctx, tag, b.cfg.Servers[tag]); err != nil {
			b.log.Error("连接网络失败", slog.String("server", tag), slog.Any("error", err))
		}
	}

	var err error
	if b.cfg.API.Address != "" {
		server := api.NewServer(b.cfg.API.Address, b.cfg.API.Token, b.manager, b.hub)
		err = server.Start(ctx)
	} else {
		<-ctx.Done()
		err = ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, b.Close())
}

// autoload 按配置顺序加载模块，单个模块失败不影响其余模块。
func (b *Bot) autoload(ctx context.Context) {
	for _, name := range b.store.Cascade().Strings(AutoloadKey, "", "") {
		if err := b.manager.Load(ctx, name); err != nil {
			b.log.Error("自动加载模块失败", slog.String("module", name), slog.Any("error", err))
			continue
		}
		b.log.Info("模块已加载", slog.String("module", name))
	}
}

// Close 断开所有网络、软卸载所有模块并释放资源，可重复调用。
func (b *Bot) Close() error {
	var err error
	b.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		if e := b.hub.Close(ctx, "Shutting down"); e != nil {
			errs = append(errs, e)
		}
		if e := b.manager.UnloadAll(ctx, true); e != nil {
			errs = append(errs, e)
		}
		if e := b.broker.Close(); e != nil {
			errs = append(errs, e)
		}
		if e := b.db.Close(); e != nil {
			errs = append(errs, e)
		}
		b.log.Info("已停止")
		_ = logger.Sync()
		err = errors.Join(errs...)
	})
	return err
}
