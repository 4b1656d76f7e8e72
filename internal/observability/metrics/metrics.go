// Package metrics keeps in-process counters and latency histograms for
// command dispatch, event hooks, relay traffic and the admin HTTP API, and
// renders them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Outcome labels.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomePanic = "panic"
)

type series struct {
	name   string
	help   string
	labels []string
}

var (
	commandsTotal  = series{"openchat_commands_total", "Total number of command handler invocations.", []string{"module", "command", "outcome"}}
	commandLatency = series{"openchat_command_duration_seconds", "Command handler duration in seconds.", []string{"module", "command"}}
	hooksTotal     = series{"openchat_hooks_total", "Total number of event hook invocations.", []string{"topic", "outcome"}}
	messagesTotal  = series{"openchat_messages_total", "Total number of inbound chat messages dispatched.", []string{"server", "addressed"}}
	relayTotal     = series{"openchat_relay_envelopes_total", "Total number of relay envelopes handled.", []string{"direction", "outcome"}}
	httpTotal      = series{"openchat_http_requests_total", "Total number of HTTP requests processed.", []string{"handler", "method", "code"}}
	httpLatency    = series{"openchat_http_request_duration_seconds", "HTTP request duration in seconds.", []string{"handler", "method"}}
)

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	buckets := []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

type collector struct {
	mu       sync.Mutex
	counters map[string]map[string]uint64
	hists    map[string]map[string]*histogram
}

var global = newCollector()

func newCollector() *collector {
	return &collector{
		counters: make(map[string]map[string]uint64),
		hists:    make(map[string]map[string]*histogram),
	}
}

// labelKey joins label values with a separator that cannot appear after escaping.
func labelKey(values ...string) string {
	return strings.Join(values, "\x00")
}

func (c *collector) inc(s series, values ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.counters[s.name]
	if m == nil {
		m = make(map[string]uint64)
		c.counters[s.name] = m
	}
	m[labelKey(values...)]++
}

func (c *collector) observe(s series, d time.Duration, values ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.hists[s.name]
	if m == nil {
		m = make(map[string]*histogram)
		c.hists[s.name] = m
	}
	key := labelKey(values...)
	h := m[key]
	if h == nil {
		h = newHistogram()
		m[key] = h
	}
	h.observe(d.Seconds())
}

func (c *collector) counter(s series, values ...string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[s.name][labelKey(values...)]
}

// ObserveCommand records one command handler invocation.
func ObserveCommand(module, command, outcome string, duration time.Duration) {
	global.inc(commandsTotal, module, command, outcome)
	global.observe(commandLatency, duration, module, command)
}

// ObserveHook records one event hook invocation.
func ObserveHook(topic, outcome string) {
	global.inc(hooksTotal, topic, outcome)
}

// ObserveMessage records one inbound chat message.
func ObserveMessage(server string, addressed bool) {
	global.inc(messagesTotal, server, strconv.FormatBool(addressed))
}

// ObserveRelay records one relay envelope; direction is "out" or "in".
func ObserveRelay(direction, outcome string) {
	global.inc(relayTotal, direction, outcome)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	global.inc(httpTotal, handler, method, strconv.Itoa(status))
	global.observe(httpLatency, duration, handler, method)
}

// CommandCount returns the number of recorded command invocations.
func CommandCount(module, command, outcome string) uint64 {
	return global.counter(commandsTotal, module, command, outcome)
}

// HookCount returns the number of recorded hook invocations.
func HookCount(topic, outcome string) uint64 {
	return global.counter(hooksTotal, topic, outcome)
}

// Reset drops every recorded value.
func Reset() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.counters = make(map[string]map[string]uint64)
	global.hists = make(map[string]map[string]*histogram)
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, global.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	for _, s := range []series{commandsTotal, hooksTotal, messagesTotal, relayTotal, httpTotal} {
		builder.WriteString(fmt.Sprintf("# HELP %s %s\n# TYPE %s counter\n", s.name, s.help, s.name))
		values := c.counters[s.name]
		for _, key := range sortedKeys(values) {
			builder.WriteString(fmt.Sprintf("%s{%s} %d\n", s.name, formatLabels(s.labels, key), values[key]))
		}
	}

	for _, s := range []series{commandLatency, httpLatency} {
		builder.WriteString(fmt.Sprintf("# HELP %s %s\n# TYPE %s histogram\n", s.name, s.help, s.name))
		hists := c.hists[s.name]
		for _, key := range sortedKeys(hists) {
			h := hists[key]
			labels := formatLabels(s.labels, key)
			for idx, bound := range h.buckets {
				builder.WriteString(fmt.Sprintf("%s_bucket{%s,le=\"%s\"} %d\n", s.name, labels, formatFloat(bound), h.counts[idx]))
			}
			builder.WriteString(fmt.Sprintf("%s_bucket{%s,le=\"+Inf\"} %d\n", s.name, labels, h.count))
			builder.WriteString(fmt.Sprintf("%s_sum{%s} %s\n", s.name, labels, formatFloat(h.sum)))
			builder.WriteString(fmt.Sprintf("%s_count{%s} %d\n", s.name, labels, h.count))
		}
	}

	return builder.String()
}

func formatLabels(names []string, key string) string {
	values := strings.Split(key, "\x00")
	parts := make([]string, 0, len(names))
	for i, name := range names {
		value := ""
		if i < len(values) {
			value = values[i]
		}
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", name, escape(value)))
	}
	return strings.Join(parts, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
