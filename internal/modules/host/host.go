// Package host 定义宿主程序通过 plugin.Manager 提供给模块的共享服务。
package host

import (
	"fmt"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/config"
	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/event"
	"OpenChat-Bot/internal/personality"
	"OpenChat-Bot/internal/relay"
	"OpenChat-Bot/pkg/plugin"
)

// 资源键。
const (
	KeyManager     = "manager"
	KeyRegistry    = "registry"
	KeyHub         = "hub"
	KeyBus         = "bus"
	KeyStore       = "store"
	KeyPersonality = "personality"
	KeyBroker      = "broker"
	KeyRelayTopics = "relay.topics"
	KeyDataDir     = "data_dir"
)

// Services 是从执行上下文中取出的共享服务，未提供的字段为 nil。
type Services struct {
	Manager     *plugin.Manager
	Registry    *command.Registry
	Hub         *chat.Hub
	Bus         *event.Bus
	Store       *config.Store
	Personality *personality.Catalog
	Broker      *relay.Broker
	RelayTopics []string
	// DataDir 是模块可写入文件的目录。
	DataDir string
}

// From 读取执行上下文中的全部共享服务。
func From(ctx *plugin.ExecutionContext) Services {
	var s Services
	s.Manager, _ = plugin.Resource[*plugin.Manager](ctx, KeyManager)
	s.Registry, _ = plugin.Resource[*command.Registry](ctx, KeyRegistry)
	s.Hub, _ = plugin.Resource[*chat.Hub](ctx, KeyHub)
	s.Bus, _ = plugin.Resource[*event.Bus](ctx, KeyBus)
	s.Store, _ = plugin.Resource[*config.Store](ctx, KeyStore)
	s.Personality, _ = plugin.Resource[*personality.Catalog](ctx, KeyPersonality)
	s.Broker, _ = plugin.Resource[*relay.Broker](ctx, KeyBroker)
	s.RelayTopics, _ = plugin.Resource[[]string](ctx, KeyRelayTopics)
	s.DataDir, _ = plugin.Resource[string](ctx, KeyDataDir)
	return s
}

// Cascade 返回运行期级联配置。
func (s Services) Cascade() *config.Cascade {
	if s.Store == nil {
		return nil
	}
	return s.Store.Cascade()
}

// Require 检查 keys 对应的服务都已提供。
func (s Services) Require(keys ...string) error {
	present := map[string]bool{
		KeyManager:     s.Manager != nil,
		KeyRegistry:    s.Registry != nil,
		KeyHub:         s.Hub != nil,
		KeyBus:         s.Bus != nil,
		KeyStore:       s.Store != nil,
		KeyPersonality: s.Personality != nil,
		KeyBroker:      s.Broker != nil,
		KeyRelayTopics: len(s.RelayTopics) > 0,
		KeyDataDir:     s.DataDir != "",
	}
	for _, key := range keys {
		if !present[key] {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("missing shared resource %q", key))
		}
	}
	return nil
}
