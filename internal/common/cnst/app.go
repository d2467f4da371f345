package cnst

const (
	// AppName is the name of the application
	AppName = "chatline"
	// CommandName is the name of the root command
	CommandName = "chatline"
)

const (
	// TransportTypeMemory is the in-process real-time backend
	TransportTypeMemory = "memory"
	// TransportTypeRedis is the Redis-backed real-time backend
	TransportTypeRedis = "redis"
)

const (
	// TokenTypeHTTP fetches session tokens from a remote token endpoint
	TokenTypeHTTP = "http"
	// TokenTypeJWT mints session tokens locally with a shared secret
	TokenTypeJWT = "jwt"
)

const (
	RedisClusterTypeSingle   = "single"
	RedisClusterTypeSentinel = "sentinel"
	RedisClusterTypeCluster  = "cluster"
)

// ChannelTypeMessaging is the channel type queried for one-to-one conversations
const ChannelTypeMessaging = "messaging"
