package command

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"OpenChat-Bot/internal/chat"
	"OpenChat-Bot/internal/config"
	xerrors "OpenChat-Bot/internal/errors"
)

const (
	CodeDuplicate xerrors.Code = "COMMAND_DUPLICATE"
	CodeUnknown   xerrors.Code = "COMMAND_UNKNOWN"
)

func init() {
	xerrors.Register(CodeDuplicate, xerrors.Attributes{
		Message:  "command already registered",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeUnknown, xerrors.Attributes{
		Message:  "command not registered",
		Severity: xerrors.SeverityWarning,
	})
}

// ModulesKey 是级联配置中保存模块启用状态的字典路径。
const ModulesKey = "modules"

// Request 是命令处理器收到的一次调用。
type Request struct {
	*chat.Context
	Module  string
	Command string
	// Groups 是模式匹配的分组，Groups[0] 为整体匹配。
	Groups []string
	// Named 是具名分组的值。
	Named map[string]string
}

// Arg 返回第 i 个捕获分组，不存在时返回空串。
func (r *Request) Arg(i int) string {
	if i < len(r.Groups) {
		return r.Groups[i]
	}
	return ""
}

// Reply 向消息的回复目标发送文本。
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Transport.Send(ctx, r.Target, text)
}

// Handler 执行命令。返回的错误由分发器统一处理。
type Handler func(ctx context.Context, req *Request) error

// Command 描述一条命令。Name 是处理器的标识，与模式、bare 和 fallback 一起决定唯一性。
type Command struct {
	Name          string
	Pattern       string
	Handler       Handler
	Bare          bool
	CaseSensitive bool
	Fallback      bool
	// Help 为 help 命令提供简短说明。
	Help string
}

// Registration 是一条已编译的命令注册。
type Registration struct {
	Module  string
	Command Command
	Regexp  *regexp.Regexp
}

// Match 在 text 开头尝试匹配，返回分组；不匹配时返回 nil。
func (r Registration) Match(text string) []string {
	return r.Regexp.FindStringSubmatch(text)
}

// Named 返回匹配结果中的具名分组。
func (r Registration) Named(groups []string) map[string]string {
	names := r.Regexp.SubexpNames()
	out := make(map[string]string)
	for i, name := range names {
		if name != "" && i < len(groups) {
			out[name] = groups[i]
		}
	}
	return out
}

// ModuleState 由生命周期管理器实现，报告模块是否已加载及其默认启用状态。
type ModuleState interface {
	ModuleStatus(name string) (loaded bool, enabledDefault bool)
}

// Registry 保存所有命令注册。
type Registry struct {
	mu      sync.RWMutex
	entries []Registration
	cascade *config.Cascade
	state   ModuleState
}

// NewRegistry 创建命令注册表，启用状态从 cascade 读取。
func NewRegistry(cascade *config.Cascade) *Registry {
	if cascade == nil {
		cascade = config.NewCascade()
	}
	return &Registry{cascade: cascade}
}

// SetModuleState 绑定模块状态来源。未绑定时所有模块视为已加载且默认启用。
func (r *Registry) SetModuleState(state ModuleState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
}

func key(module string, cmd Command) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%t\x00%t", module, cmd.Pattern, cmd.Name, cmd.Bare, cmd.Fallback)
}

// Compile 按命令的大小写设置编译模式，匹配锚定在文本开头。
func Compile(cmd Command) (*regexp.Regexp, error) {
	expr := "^(?:" + cmd.Pattern + ")"
	if !cmd.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
			fmt.Sprintf("invalid pattern %q for command %s", cmd.Pattern, cmd.Name))
	}
	return re, nil
}

// Register 编译并注册一条命令，重复注册返回 COMMAND_DUPLICATE。
func (r *Registry) Register(module string, cmd Command) error {
	if cmd.Handler == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("command %s has no handler", cmd.Name))
	}
	re, err := Compile(cmd)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(module, cmd)
	for _, entry := range r.entries {
		if key(entry.Module, entry.Command) == k {
			return xerrors.New(CodeDuplicate,
				fmt.Sprintf("command %s:%s (%q) already registered", module, cmd.Name, cmd.Pattern))
		}
	}
	r.entries = append(r.entries, Registration{Module: module, Command: cmd, Regexp: re})
	return nil
}

// Unregister 删除一条命令注册，未注册时返回 COMMAND_UNKNOWN。
func (r *Registry) Unregister(module string, cmd Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(module, cmd)
	for i, entry := range r.entries {
		if key(entry.Module, entry.Command) != k {
			continue
		}
		r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
		return nil
	}
	return xerrors.New(CodeUnknown,
		fmt.Sprintf("command %s:%s (%q) is not registered", module, cmd.Name, cmd.Pattern))
}

// Commands 返回模块已注册的命令，按注册顺序排列。
func (r *Registry) Commands(module string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Registration
	for _, entry := range r.entries {
		if module == "" || entry.Module == module {
			out = append(out, entry)
		}
	}
	return out
}

// Enabled 计算模块在 (server, channel) 下的有效启用状态：
// 频道覆盖优先，其次服务器覆盖，再次全局配置，最后使用模块默认值。
func (r *Registry) Enabled(module, server, channel string, enabledDefault bool) bool {
	overrides, err := r.cascade.Dict(ModulesKey, server, channel)
	if err != nil {
		return enabledDefault
	}
	if v, ok := overrides[module].(bool); ok {
		return v
	}
	return enabledDefault
}

// Resolve 返回在 (server, channel) 下可用的命令：非兜底命令按注册顺序在前，
// 兜底命令按模式长度降序在后。
func (r *Registry) Resolve(server, channel string) []Registration {
	r.mu.RLock()
	entries := append([]Registration(nil), r.entries...)
	state := r.state
	r.mu.RUnlock()

	enabled := make(map[string]bool)
	var primary, fallback []Registration
	for _, entry := range entries {
		on, seen := enabled[entry.Module]
		if !seen {
			loaded, def := true, true
			if state != nil {
				loaded, def = state.ModuleStatus(entry.Module)
			}
			on = loaded && r.Enabled(entry.Module, server, channel, def)
			enabled[entry.Module] = on
		}
		if !on {
			continue
		}
		if entry.Command.Fallback {
			fallback = append(fallback, entry)
		} else {
			primary = append(primary, entry)
		}
	}
	sort.SliceStable(fallback, func(i, j int) bool {
		return len(fallback[i].Command.Pattern) > len(fallback[j].Command.Pattern)
	})
	return append(primary, fallback...)
}

// Enable 在级联配置中将模块在对应作用域标记为启用，不修改注册表本身。
func (r *Registry) Enable(module, server, channel string) error {
	return r.cascade.SetItem(ModulesKey, module, true, server, channel)
}

// Disable 在级联配置中将模块在对应作用域标记为禁用。
func (r *Registry) Disable(module, server, channel string) error {
	return r.cascade.SetItem(ModulesKey, module, false, server, channel)
}
