package cnst

// Tracer names used across the services
const (
	// TraceChat is the tracer name for the conversation session manager
	TraceChat = "chatline/chat"
	// TraceToken is the tracer name for session token fetching
	TraceToken = "chatline/token"
)

// Span names
const (
	SpanConnectSession       = "chat.session.connect"
	SpanDisconnectSession    = "chat.session.disconnect"
	SpanRefreshConversations = "chat.channels.refresh"
	SpanOpenConversation     = "chat.active.open"
	SpanSendMessage          = "chat.active.send"
	SpanTokenFetch           = "token.fetch"
)

// Common attribute keys
const (
	AttrUserID       = "chat.user_id"
	AttrChannelID    = "chat.channel_id"
	AttrChannelCount = "chat.channel_count"
	AttrErrorKind    = "error.kind"
	AttrTokenType    = "token.type"
)
