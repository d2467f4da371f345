package memory

import (
	"context"

	"github.com/amoylab/chatline/internal/transport"
)

type admin struct{ b *Backend }

var _ transport.Admin = admin{}

// Admin exposes the backend's direct write operations as a transport.Admin.
func (b *Backend) Admin() transport.Admin {
	return admin{b: b}
}

func (a admin) CreateChannel(_ context.Context, id string, creator transport.User, members ...transport.User) (transport.ChannelState, error) {
	return a.b.CreateChannel(id, creator, members...)
}

func (a admin) Post(_ context.Context, channelID string, msg transport.Message) (transport.Message, error) {
	return a.b.Post(channelID, msg)
}

func (a admin) MarkRead(_ context.Context, channelID, userID string) error {
	return a.b.MarkRead(channelID, userID)
}
