package relay

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"OpenChat-Bot/internal/chat"
	xerrors "OpenChat-Bot/internal/errors"
)

// Envelope 是投递到出站通道的一条聊天事件。
type Envelope struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Server     string    `json:"server"`
	Channel    string    `json:"channel,omitempty"`
	Nick       string    `json:"nick,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	NewNick    string    `json:"new_nick,omitempty"`
	Text       string    `json:"text,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Private    bool      `json:"private,omitempty"`
	Addressed  bool      `json:"addressed,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Announcement 是从入站通道收到、需要发往聊天网络的一条消息。
type Announcement struct {
	ID     string `json:"id,omitempty"`
	Server string `json:"server"`
	Target string `json:"target"`
	Text   string `json:"text"`
}

// FromPayload 把事件总线上的载荷转换为信封，不支持的载荷返回 false。
func FromPayload(topic string, payload any) (Envelope, bool) {
	env := Envelope{ID: uuid.NewString(), Topic: topic, OccurredAt: time.Now().UTC()}
	switch p := payload.(type) {
	case *chat.Context:
		env.Server = p.Server
		env.Channel = p.Channel
		env.Nick = p.Sender
		env.Text = p.Text
		env.Private = p.Private
		env.Addressed = p.Addressed
	case *chat.Event:
		env.Server = p.Server
		env.Channel = p.Channel
		env.Nick = p.Nick
		env.Actor = p.Actor
		env.NewNick = p.NewNick
		env.Text = p.Text
		env.Reason = p.Reason
		env.Private = p.Private
	default:
		return Envelope{}, false
	}
	return env, true
}

// Encode 把信封编码为 JSON。
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeAnnouncement 解析并校验一条公告。
func DecodeAnnouncement(body []byte) (Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(body, &a); err != nil {
		return Announcement{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "公告不是合法的 JSON")
	}
	if err := a.Validate(); err != nil {
		return Announcement{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return a, nil
}

// Validate 检查公告的必填字段。
func (a Announcement) Validate() error {
	var missing []string
	if a.Server == "" {
		missing = append(missing, "server")
	}
	if a.Target == "" {
		missing = append(missing, "target")
	}
	if strings.TrimSpace(a.Text) == "" {
		missing = append(missing, "text")
	}
	if len(missing) > 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "公告缺少字段: "+strings.Join(missing, ", "))
	}
	return nil
}

// Encode 把公告编码为 JSON。
func (a Announcement) Encode() ([]byte, error) {
	return json.Marshal(a)
}
