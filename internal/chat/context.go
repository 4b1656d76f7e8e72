package chat

// Context 描述一条入站消息，在分发过程中创建，处理完即丢弃。
type Context struct {
	Server string
	// Target 是回复目标：频道消息为频道名，私聊为对方昵称。
	Target  string
	Channel string
	Sender  string
	Text    string
	// Stripped 是去掉昵称或命令前缀后的文本，仅在 Addressed 时有意义。
	Stripped  string
	Private   bool
	Addressed bool
	Admin     bool
	Transport Transport
}

// Scope 返回用于配置和权限判断的频道作用域，私聊时为空。
func (c *Context) Scope() string {
	if c.Private {
		return ""
	}
	return c.Channel
}
