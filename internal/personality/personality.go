// Package personality 为机器人的回复文本提供"人格"替换：每种人格可以为原始消息注册替代文本，
// 当前人格由级联配置中 (服务器, 频道) 作用域下的 personality 项决定。
package personality

import (
	"fmt"
	"regexp"
	"sync"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/config"
)

// Key 是级联配置中人格名称的路径。
const Key = "personality"

// Args 是消息中 {name} 占位符的取值。
type Args map[string]any

var placeholder = regexp.MustCompile(`\{(/?[A-Za-z_][A-Za-z0-9_]*)\}`)

// Catalog 保存各人格的替代文本。
type Catalog struct {
	mu       sync.RWMutex
	cascade  *config.Cascade
	messages map[string]map[string]string
}

// New 创建人格目录。
func New(cascade *config.Cascade) *Catalog {
	if cascade == nil {
		cascade = config.NewCascade()
	}
	return &Catalog{cascade: cascade, messages: make(map[string]map[string]string)}
}

// Register 为 personality 注册一组 原文 -> 替代文本。
func (c *Catalog) Register(personality string, messages map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[personality]
	if !ok {
		m = make(map[string]string, len(messages))
		c.messages[personality] = m
	}
	for original, alt := range messages {
		m[original] = alt
	}
}

// Localize 按 (server, channel) 的当前人格替换 msg，并填充占位符与传输层格式代码。
func (c *Catalog) Localize(t chat.Transport, server, channel, msg string, args Args) string {
	name := c.cascade.String(Key, server, channel, "")
	if name != "" {
		c.mu.RLock()
		if alt, ok := c.messages[name][msg]; ok {
			msg = alt
		}
		c.mu.RUnlock()
	}
	var codes map[string]string
	if t != nil {
		codes = t.FormatCodes()
	}
	return Format(msg, codes, args)
}

// For 在一条入站消息的作用域内本地化文本。
func (c *Catalog) For(m *chat.Context, msg string, args Args) string {
	return c.Localize(m.Transport, m.Server, m.Scope(), msg, args)
}

// Format 替换 {name} 占位符：优先使用 args，其次使用格式代码，未知占位符原样保留。
func Format(msg string, codes map[string]string, args Args) string {
	return placeholder.ReplaceAllStringFunc(msg, func(match string) string {
		key := match[1 : len(match)-1]
		if v, ok := args[key]; ok {
			return fmt.Sprint(v)
		}
		if v, ok := codes[key]; ok {
			return v
		}
		if key == "b" || key == "/b" || key == "i" || key == "/i" || key == "u" || key == "/u" || key == "_" {
			return ""
		}
		return match
	})
}
