package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "OpenChat-Bot/internal/errors"
	"OpenChat-Bot/internal/storage"
)

const (
	AdminsTable  = "_admins"
	IgnoresTable = "_ignores"
)

// EnsureSchema 创建管理员名册和忽略列表所需的表。
func EnsureSchema(ctx context.Context, db *storage.DB) error {
	for _, name := range []string{AdminsTable, IgnoresTable} {
		err := db.CreateTable(ctx, storage.Table{
			Name: name,
			Columns: []storage.Column{
				storage.ID(),
				{Name: "server", Type: storage.TypeString, NotNull: true, Index: true},
				{Name: "channel", Type: storage.TypeString, Index: name == AdminsTable},
				{Name: "nickname", Type: storage.TypeString, NotNull: true},
				{Name: "created_at", Type: storage.TypeDateTime},
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func nullable(channel string) any {
	if channel == "" {
		return nil
	}
	return channel
}

// Roster 是一个网络的管理员名册。channel 为空表示全网络管理员。
type Roster struct {
	db     *storage.DB
	server string
}

// NewRoster 创建 server 的管理员名册。
func NewRoster(db *storage.DB, server string) *Roster {
	return &Roster{db: db, server: server}
}

func (r *Roster) query(nick, channel string) *storage.Query {
	return r.db.From(AdminsTable).
		Where("server", r.server).
		And("channel", nullable(channel)).
		And("nickname", nick)
}

// Promote 把 nick 加入名册，已存在时返回 CONFLICT。
func (r *Roster) Promote(ctx context.Context, nick, channel string) error {
	exists, err := r.query(nick, channel).Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		if channel != "" {
			return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("%s is already an administrator for channel %s", nick, channel))
		}
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("%s is already an administrator", nick))
	}
	_, err = r.db.Insert(ctx, AdminsTable, storage.Row{
		"server":     r.server,
		"channel":    nullable(channel),
		"nickname":   nick,
		"created_at": time.Now(),
	})
	return err
}

// Demote 把 nick 移出名册，不存在时返回 NOT_FOUND。
func (r *Roster) Demote(ctx context.Context, nick, channel string) error {
	n, err := r.query(nick, channel).Delete(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		if channel != "" {
			return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("%s is not an administrator for channel %s", nick, channel))
		}
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("%s is not an administrator", nick))
	}
	return nil
}

// Admins 返回全网络管理员，以及 channel 非空时该频道的管理员，去重并排序。
func (r *Roster) Admins(ctx context.Context, channel string) ([]string, error) {
	rows, err := r.db.From(AdminsTable).Where("server", r.server).And("channel", nil).Get(ctx, "nickname")
	if err != nil {
		return nil, err
	}
	if channel != "" {
		more, err := r.db.From(AdminsTable).Where("server", r.server).And("channel", channel).Get(ctx, "nickname")
		if err != nil {
			return nil, err
		}
		rows = append(rows, more...)
	}
	seen := make(map[string]bool)
	var out []string
	for _, row := range rows {
		nick := row.String("nickname")
		if !seen[nick] {
			seen[nick] = true
			out = append(out, nick)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Contains 判断 nick 是否在 scope 内拥有管理员身份，昵称比较不区分大小写。
func (r *Roster) Contains(ctx context.Context, nick, scope string) (bool, error) {
	admins, err := r.Admins(ctx, scope)
	if err != nil {
		return false, err
	}
	for _, admin := range admins {
		if strings.EqualFold(admin, nick) {
			return true, nil
		}
	}
	return false, nil
}

type ignoreEntry struct {
	nick    string
	channel string
}

// IgnoreList 是一个网络的忽略列表，内存中缓存一份以便每条消息都能快速过滤。
type IgnoreList struct {
	mu      sync.RWMutex
	db      *storage.DB
	server  string
	entries map[ignoreEntry]struct{}
}

// LoadIgnoreList 从数据库读取 server 的忽略列表。
func LoadIgnoreList(ctx context.Context, db *storage.DB, server string) (*IgnoreList, error) {
	rows, err := db.From(IgnoresTable).Where("server", server).Get(ctx, "channel", "nickname")
	if err != nil {
		return nil, err
	}
	l := &IgnoreList{db: db, server: server, entries: make(map[ignoreEntry]struct{})}
	for _, row := range rows {
		l.entries[ignoreEntry{nick: strings.ToLower(row.String("nickname")), channel: row.String("channel")}] = struct{}{}
	}
	return l, nil
}

// Ignore 忽略 nick，channel 为空表示在整个网络忽略。
func (l *IgnoreList) Ignore(ctx context.Context, nick, channel string) error {
	entry := ignoreEntry{nick: strings.ToLower(nick), channel: channel}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[entry]; ok {
		if channel != "" {
			return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("already ignoring %s on channel %s", nick, channel))
		}
		return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("already ignoring %s", nick))
	}
	if _, err := l.db.Insert(ctx, IgnoresTable, storage.Row{
		"server":     l.server,
		"channel":    nullable(channel),
		"nickname":   entry.nick,
		"created_at": time.Now(),
	}); err != nil {
		return err
	}
	l.entries[entry] = struct{}{}
	return nil
}

// Unignore 取消忽略，未忽略时返回 NOT_FOUND。
func (l *IgnoreList) Unignore(ctx context.Context, nick, channel string) error {
	entry := ignoreEntry{nick: strings.ToLower(nick), channel: channel}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[entry]; !ok {
		if channel != "" {
			return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("not ignoring %s on channel %s", nick, channel))
		}
		return xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("not ignoring %s", nick))
	}
	if _, err := l.db.From(IgnoresTable).
		Where("server", l.server).
		And("channel", nullable(channel)).
		And("nickname", entry.nick).
		Delete(ctx); err != nil {
		return err
	}
	delete(l.entries, entry)
	return nil
}

// Ignored 判断 nick 是否在整个网络或 channel 内被忽略。
func (l *IgnoreList) Ignored(nick, channel string) bool {
	nick = strings.ToLower(nick)
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.entries[ignoreEntry{nick: nick}]; ok {
		return true
	}
	if channel == "" {
		return false
	}
	_, ok := l.entries[ignoreEntry{nick: nick, channel: channel}]
	return ok
}

// Rename 把 old 的所有忽略记录迁移到 new，返回是否存在需要迁移的记录。
func (l *IgnoreList) Rename(ctx context.Context, oldNick, newNick string) (bool, error) {
	l.mu.RLock()
	var channels []string
	for entry := range l.entries {
		if entry.nick == strings.ToLower(oldNick) {
			channels = append(channels, entry.channel)
		}
	}
	l.mu.RUnlock()

	for _, channel := range channels {
		if err := l.Unignore(ctx, oldNick, channel); err != nil {
			return true, err
		}
		if err := l.Ignore(ctx, newNick, channel); err != nil && !xerrors.HasCode(err, xerrors.CodeConflict) {
			return true, err
		}
	}
	return len(channels) > 0, nil
}

// Entries 返回忽略列表，全网络忽略的频道为空串。
func (l *IgnoreList) Entries() [][2]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([][2]string, 0, len(l.entries))
	for entry := range l.entries {
		out = append(out, [2]string{entry.nick, entry.channel})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] == out[j][0] {
			return out[i][1] < out[j][1]
		}
		return out[i][0] < out[j][0]
	})
	return out
}
