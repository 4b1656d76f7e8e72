package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	xerrors "OpenChat-Bot/internal/errors"
)

const (
	CodeConfigType     xerrors.Code = "CONFIG_TYPE"
	CodeConfigNotFound xerrors.Code = "CONFIG_NOT_FOUND"
)

// OverridesKey 是配置文档中保存服务器/频道覆盖层的保留键。
const OverridesKey = "_overrides"

var (
	// ErrNotFound 表示任何一层都没有定义该配置项。
	ErrNotFound = xerrors.New(CodeConfigNotFound, "configuration item not found")
	// ErrType 表示配置项的类型不支持所请求的操作。
	ErrType = xerrors.New(CodeConfigType, "configuration item has the wrong type")
)

func init() {
	xerrors.Register(CodeConfigType, xerrors.Attributes{
		Message:  "configuration item has the wrong type",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeConfigNotFound, xerrors.Attributes{
		Message:  "configuration item not found",
		Severity: xerrors.SeverityInfo,
	})
}

// Cascade 保存三层配置：全局层、服务器层和 (服务器, 频道) 层。
// 标量读取取最具体的一层，列表与字典读取则按从泛到细的顺序合并所有定义层。
type Cascade struct {
	mu       sync.RWMutex
	global   map[string]any
	servers  map[string]map[string]any
	channels map[string]map[string]map[string]any
}

// NewCascade 创建一个空的级联配置。
func NewCascade() *Cascade {
	c := &Cascade{}
	c.reset(nil)
	return c
}

// NewCascadeFrom 使用配置文档初始化级联配置，文档中的 _overrides 会被拆分到覆盖层。
func NewCascadeFrom(doc map[string]any) *Cascade {
	c := &Cascade{}
	c.reset(doc)
	return c
}

// Replace 用新的配置文档替换全部三层。
func (c *Cascade) Replace(doc map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset(doc)
}

func (c *Cascade) reset(doc map[string]any) {
	global, _ := normalize(doc).(map[string]any)
	if global == nil {
		global = map[string]any{}
	}
	c.global = global
	c.servers = map[string]map[string]any{}
	c.channels = map[string]map[string]map[string]any{}

	overrides, _ := global[OverridesKey].(map[string]any)
	delete(global, OverridesKey)
	if servers, ok := overrides["servers"].(map[string]any); ok {
		for server, layer := range servers {
			if m, ok := layer.(map[string]any); ok {
				c.servers[server] = m
			}
		}
	}
	if channels, ok := overrides["channels"].(map[string]any); ok {
		for server, chans := range channels {
			chanMap, ok := chans.(map[string]any)
			if !ok {
				continue
			}
			for channel, layer := range chanMap {
				if m, ok := layer.(map[string]any); ok {
					if c.channels[server] == nil {
						c.channels[server] = map[string]map[string]any{}
					}
					c.channels[server][channel] = m
				}
			}
		}
	}
}

// Snapshot 返回可以直接序列化保存的配置文档副本，覆盖层写回 _overrides。
func (c *Cascade) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc := cloneMap(c.global)
	servers := make(map[string]any, len(c.servers))
	for server, layer := range c.servers {
		servers[server] = cloneMap(layer)
	}
	channels := make(map[string]any, len(c.channels))
	for server, chans := range c.channels {
		m := make(map[string]any, len(chans))
		for channel, layer := range chans {
			m[channel] = cloneMap(layer)
		}
		channels[server] = m
	}
	doc[OverridesKey] = map[string]any{"servers": servers, "channels": channels}
	return doc
}

type definition struct {
	layer map[string]any
	value any
}

// defining 返回定义了 path 的所有层，顺序为全局、服务器、频道。
func (c *Cascade) defining(path []string, server, channel string) []definition {
	var defs []definition
	for _, layer := range c.scopeLayers(server, channel) {
		if v, ok := getByPath(layer, path); ok {
			defs = append(defs, definition{layer: layer, value: v})
		}
	}
	return defs
}

func (c *Cascade) scopeLayers(server, channel string) []map[string]any {
	layers := []map[string]any{c.global}
	if server == "" {
		return layers
	}
	if layer, ok := c.servers[server]; ok {
		layers = append(layers, layer)
	}
	if channel != "" {
		if layer, ok := c.channels[server][channel]; ok {
			layers = append(layers, layer)
		}
	}
	return layers
}

// layerFor 返回写操作所针对的层，不存在时自动创建。
func (c *Cascade) layerFor(server, channel string) map[string]any {
	if server == "" {
		return c.global
	}
	if channel == "" {
		layer, ok := c.servers[server]
		if !ok {
			layer = map[string]any{}
			c.servers[server] = layer
		}
		return layer
	}
	chans, ok := c.channels[server]
	if !ok {
		chans = map[string]map[string]any{}
		c.channels[server] = chans
	}
	layer, ok := chans[channel]
	if !ok {
		layer = map[string]any{}
		chans[channel] = layer
	}
	return layer
}

func (c *Cascade) allLayers() []map[string]any {
	layers := []map[string]any{c.global}
	servers := make([]string, 0, len(c.servers))
	for server := range c.servers {
		servers = append(servers, server)
	}
	sort.Strings(servers)
	for _, server := range servers {
		layers = append(layers, c.servers[server])
	}
	for _, server := range sortedKeys(c.channels) {
		for _, channel := range sortedKeys(c.channels[server]) {
			layers = append(layers, c.channels[server][channel])
		}
	}
	return layers
}

// Get 返回最具体的一层中 path 的值。
func (c *Cascade) Get(path, server, channel string) (any, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := c.defining(segments, server, channel)
	if len(defs) == 0 {
		return nil, notFound(path)
	}
	return cloneValue(defs[len(defs)-1].value), nil
}

// List 按全局、服务器、频道的顺序拼接所有定义层中的序列。
func (c *Cascade) List(path, server, channel string) ([]any, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := c.defining(segments, server, channel)
	if len(defs) == 0 {
		return nil, notFound(path)
	}
	var out []any
	for _, def := range defs {
		seq, ok := def.value.([]any)
		if !ok {
			return nil, typeError(path, def.value, "list")
		}
		for _, item := range seq {
			out = append(out, cloneValue(item))
		}
	}
	return out, nil
}

// Dict 浅合并所有定义层中的字典，越具体的层对同名键优先。
func (c *Cascade) Dict(path, server, channel string) (map[string]any, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	defs := c.defining(segments, server, channel)
	if len(defs) == 0 {
		return nil, notFound(path)
	}
	out := map[string]any{}
	for _, def := range defs {
		m, ok := def.value.(map[string]any)
		if !ok {
			return nil, typeError(path, def.value, "dict")
		}
		for k, v := range m {
			out[k] = cloneValue(v)
		}
	}
	return out, nil
}

// Set 只写入作用域对应的那一层（server 为空时写全局层）。
func (c *Cascade) Set(path string, value any, server, channel string) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	setByPath(c.layerFor(server, channel), segments, normalize(value))
	return nil
}

// Add 向作用域对应层中的序列追加一个值，序列不存在时自动创建。
func (c *Cascade) Add(path string, value any, server, channel string) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	layer := c.layerFor(server, channel)
	current, ok := getByPath(layer, segments)
	if !ok {
		setByPath(layer, segments, []any{normalize(value)})
		return nil
	}
	seq, ok := current.([]any)
	if !ok {
		return typeError(path, current, "list")
	}
	setByPath(layer, segments, append(seq, normalize(value)))
	return nil
}

// SetItem 设置作用域对应层中字典的一个键，字典不存在时自动创建。
func (c *Cascade) SetItem(path, key string, value any, server, channel string) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	layer := c.layerFor(server, channel)
	current, ok := getByPath(layer, segments)
	if !ok {
		setByPath(layer, segments, map[string]any{key: normalize(value)})
		return nil
	}
	m, ok := current.(map[string]any)
	if !ok {
		return typeError(path, current, "dict")
	}
	m[key] = normalize(value)
	return nil
}

// Delete 从作用域内所有定义了 path 的层中删除 key，而不仅仅是被寻址的那一层。
// 值的类型由最具体的一层决定：字典删除键，序列删除所有相等的元素，标量返回 CONFIG_TYPE。
func (c *Cascade) Delete(path string, key any, server, channel string) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	defs := c.defining(segments, server, channel)
	if len(defs) == 0 {
		return notFound(path)
	}
	switch top := defs[len(defs)-1].value.(type) {
	case map[string]any, []any:
		for _, def := range defs {
			removeFrom(def.layer, segments, key)
		}
		return nil
	default:
		return typeError(path, top, "list or dict")
	}
}

// Unset 只从作用域对应的那一层删除 path，使较泛一层的值重新生效。
func (c *Cascade) Unset(path, server, channel string) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var layer map[string]any
	switch {
	case server == "":
		layer = c.global
	case channel == "":
		layer = c.servers[server]
	default:
		layer = c.channels[server][channel]
	}
	if _, ok := getByPath(layer, segments); !ok {
		return notFound(path)
	}
	parent := layer
	if len(segments) > 1 {
		v, _ := getByPath(layer, segments[:len(segments)-1])
		parent = v.(map[string]any)
	}
	delete(parent, segments[len(segments)-1])
	return nil
}

// Ensure 仅当全局层完全没有 path 时写入默认值。
func (c *Cascade) Ensure(path string, def any) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := getByPath(c.global, segments); ok {
		return nil
	}
	setByPath(c.global, segments, normalize(def))
	return nil
}

// Purge 从所有作用域的所有层中删除 path 下的 key。
func (c *Cascade) Purge(path string, key any) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, layer := range c.allLayers() {
		removeFrom(layer, segments, key)
	}
	return nil
}

// String 返回字符串配置项，未定义或类型不符时返回 def。
func (c *Cascade) String(path, server, channel, def string) string {
	v, err := c.Get(path, server, channel)
	if err != nil || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Strings 以字符串切片形式返回合并后的列表配置项。
func (c *Cascade) Strings(path, server, channel string) []string {
	items, err := c.List(path, server, channel)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

func removeFrom(layer map[string]any, segments []string, key any) {
	current, ok := getByPath(layer, segments)
	if !ok {
		return
	}
	switch v := current.(type) {
	case map[string]any:
		delete(v, fmt.Sprint(key))
	case []any:
		kept := v[:0:0]
		for _, item := range v {
			if !looselyEqual(item, key) {
				kept = append(kept, item)
			}
		}
		setByPath(layer, segments, kept)
	}
}

func looselyEqual(item, key any) bool {
	if reflect.DeepEqual(item, key) {
		return true
	}
	if s, ok := key.(string); ok {
		return fmt.Sprint(item) == s
	}
	return false
}

func splitPath(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "configuration path cannot be empty")
	}
	return strings.Split(path, "."), nil
}

func getByPath(layer map[string]any, segments []string) (any, bool) {
	var current any = layer
	for _, segment := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setByPath 写入值，中间段不存在或不是字典时替换为新字典。
func setByPath(layer map[string]any, segments []string, value any) {
	current := layer
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[segment] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

func notFound(path string) error {
	return xerrors.New(CodeConfigNotFound, fmt.Sprintf("configuration item %s not found", path))
}

func typeError(path string, value any, want string) error {
	return xerrors.New(CodeConfigType, fmt.Sprintf("configuration item %s is a %s, not a %s", path, typeName(value), want))
}

func typeName(value any) string {
	switch value.(type) {
	case map[string]any:
		return "dict"
	case []any:
		return "list"
	case nil:
		return "null"
	default:
		return reflect.TypeOf(value).String()
	}
}

// normalize 将任意切片和字符串键字典转换为新的 []any 与 map[string]any，不修改入参。
func normalize(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	case []byte:
		return string(v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = normalize(iter.Value().Interface())
		}
		return out
	default:
		return value
	}
}

func cloneValue(val any) any {
	switch v := val.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
