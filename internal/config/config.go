package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"OpenChat-Bot/pkg/logger"
)

// Config 描述了机器人在启动阶段需要的类型化配置，由配置文档解码得到。
// 运行期可修改的配置项统一通过 Cascade 读取。
type Config struct {
	Logging         logger.Config           `yaml:"logging"`
	Storage         StorageConfig           `yaml:"storage"`
	Relay           RelayConfig             `yaml:"relay"`
	API             APIConfig               `yaml:"api"`
	Alerting        AlertingConfig          `yaml:"alerting"`
	Servers         map[string]ServerConfig `yaml:"servers"`
	Autoload        []string                `yaml:"autoload"`
	CommandPrefixes []string                `yaml:"command_prefixes"`
	Personality     string                  `yaml:"personality"`
	DataDir         string                  `yaml:"data_dir"`
}

// StorageConfig 描述数据库连接，driver 取值 sqlite 或 mysql。
type StorageConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
}

// RelayConfig 控制跨进程事件中继使用的消息通道。
type RelayConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Topics   []string       `yaml:"topics"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Outbound string `yaml:"outbound"`
	Inbound  string `yaml:"inbound"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Outbound string `yaml:"outbound"`
	Inbound  string `yaml:"inbound"`
	Prefetch int    `yaml:"prefetch"`
}

// APIConfig 控制管理接口的监听地址，为空表示不启动。Token 非空时 /api/v1 下的接口需要 Bearer 认证。
type APIConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
}

// AlertingConfig 指定告警消息发送到哪个服务器的哪个目标。
type AlertingConfig struct {
	Server string `yaml:"server"`
	Target string `yaml:"target"`
}

// ServerConfig 描述一个聊天网络的连接参数。
type ServerConfig struct {
	Type              string   `yaml:"type"`
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	TLS               bool     `yaml:"tls"`
	TLSVerify         bool     `yaml:"tls_verify"`
	Nickname          string   `yaml:"nickname"`
	Username          string   `yaml:"username"`
	Realname          string   `yaml:"realname"`
	Password          string   `yaml:"password"`
	NickServPassword  string   `yaml:"nickserv_password"`
	Channels          []string `yaml:"channels"`
	Token             string   `yaml:"token"`
	Guild             string   `yaml:"guild"`
	RequireIdentified bool     `yaml:"require_identified"`
}

// Load 读取配置文件，返回类型化配置和原始配置文档。
func Load(path string) (*Config, map[string]any, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(doc)
	if err != nil {
		return nil, nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	return cfg, doc, nil
}

// Decode 把原始配置文档解码为类型化配置，不会补充默认值。
func Decode(doc map[string]any) (*Config, error) {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.DataDir == "" {
		c.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.DataDir) {
		c.DataDir = filepath.Join(baseDir, c.DataDir)
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = filepath.Join(c.DataDir, "openchat.db")
	}

	if c.Relay.Driver == "" {
		c.Relay.Driver = "memory"
	}
	if c.Relay.Redis.Outbound == "" {
		c.Relay.Redis.Outbound = "openchat:events"
	}
	if c.Relay.Redis.Inbound == "" {
		c.Relay.Redis.Inbound = "openchat:announce"
	}
	if c.Relay.RabbitMQ.Outbound == "" {
		c.Relay.RabbitMQ.Outbound = "openchat.events"
	}
	if c.Relay.RabbitMQ.Inbound == "" {
		c.Relay.RabbitMQ.Inbound = "openchat.announce"
	}
	if c.Relay.RabbitMQ.Prefetch <= 0 {
		c.Relay.RabbitMQ.Prefetch = 1
	}
	if len(c.Relay.Topics) == 0 {
		c.Relay.Topics = []string{"chat.message", "chat.join", "chat.part"}
	}

	if len(c.CommandPrefixes) == 0 {
		c.CommandPrefixes = []string{":"}
	}
	if c.Personality == "" {
		c.Personality = "default"
	}

	for name, server := range c.Servers {
		if server.Type == "" {
			server.Type = "irc"
		}
		if server.Type == "irc" && server.Port == 0 {
			if server.TLS {
				server.Port = 6697
			} else {
				server.Port = 6667
			}
		}
		if server.Nickname == "" {
			server.Nickname = "openchat"
		}
		if server.Username == "" {
			server.Username = server.Nickname
		}
		if server.Realname == "" {
			server.Realname = server.Nickname
		}
		c.Servers[name] = server
	}
}
