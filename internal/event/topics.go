package event

// 聊天网络相关的事件主题，与适配器回调一一对应。
const (
	TopicConnect     = "chat.connect"
	TopicDisconnect  = "chat.disconnect"
	TopicJoin        = "chat.join"
	TopicPart        = "chat.part"
	TopicKick        = "chat.kick"
	TopicInvite      = "chat.invite"
	TopicNickChange  = "chat.nickchange"
	TopicTopicChange = "chat.topicchange"
	TopicNotice      = "chat.notice"
	TopicMessage     = "chat.message"
)

// 模块生命周期事件。
const (
	TopicModuleLoaded   = "module.loaded"
	TopicModuleUnloaded = "module.unloaded"
)
