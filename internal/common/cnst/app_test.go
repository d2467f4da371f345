package cnst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppConstants(t *testing.T) {
	assert.Equal(t, "chatline", AppName)
	assert.Equal(t, "chatline", CommandName)
}

func TestTypeConstants(t *testing.T) {
	assert.Equal(t, "memory", TransportTypeMemory)
	assert.Equal(t, "redis", TransportTypeRedis)
	assert.Equal(t, "http", TokenTypeHTTP)
	assert.Equal(t, "jwt", TokenTypeJWT)
	assert.Equal(t, "messaging", ChannelTypeMessaging)
}
