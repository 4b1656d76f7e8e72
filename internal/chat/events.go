package chat

// Event 是除 chat.message 以外各聊天主题的载荷；chat.message 的载荷是 *Context。
type Event struct {
	Server  string
	Channel string
	// Nick 是事件的主体，例如加入频道或被踢出的用户。
	Nick string
	// Actor 是触发事件的用户，例如踢人者、邀请者或修改主题的人。
	Actor     string
	NewNick   string
	Text      string
	Reason    string
	Private   bool
	Admin     bool
	Transport Transport
}
