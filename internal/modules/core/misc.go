package core

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"OpenChat-Bot/internal/command"
	"OpenChat-Bot/internal/personality"
	"OpenChat-Bot/internal/version"
)

func (m *Module) miscCommands() []command.Command {
	return []command.Command{
		{Name: "help", Pattern: `(?:help|commands)\??$`, Handler: m.help, Help: "help"},
		{Name: "version", Pattern: `(?:version|wh(?:at|o) are you)\??$`, Handler: m.version, Help: "version"},
		{Name: "source", Pattern: `(?:source|where (?:is|can I find) your source(?: code)?)\??$`, Handler: m.source, Help: "source"},
		{Name: "stats", Pattern: `(?:stats|how many resources are you using)\??$`, Handler: m.stats, Help: "stats"},
	}
}

// help 列出当前作用域内可用命令的说明。
func (m *Module) help(ctx context.Context, req *command.Request) error {
	seen := make(map[string]struct{})
	var lines []string
	for _, reg := range m.svc.Registry.Resolve(req.Server, req.Scope()) {
		if reg.Command.Help == "" {
			continue
		}
		line := reg.Module + ": " + reg.Command.Help
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		lines = append(lines, line)
	}
	sort.Strings(lines)
	return m.say(ctx, req, "Commands: {cmds}", personality.Args{"cmds": strings.Join(lines, "; ")})
}

func (m *Module) version(ctx context.Context, req *command.Request) error {
	return m.say(ctx, req, "This is {n} v{v}, ready to serve.", personality.Args{"n": version.Name, "v": version.Version})
}

func (m *Module) source(ctx context.Context, req *command.Request) error {
	return m.say(ctx, req, "My source is at {src}.", personality.Args{"src": version.Source})
}

func (m *Module) stats(ctx context.Context, req *command.Request) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return m.say(ctx, req, "I use: RAM: {ram}; Goroutines: {routines}; Networks: {networks}; Uptime: {uptime}", personality.Args{
		"ram":      humanBytes(mem.Sys),
		"routines": runtime.NumGoroutine(),
		"networks": len(m.svc.Hub.Networks()),
		"uptime":   time.Since(m.started).Truncate(time.Second).String(),
	})
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
