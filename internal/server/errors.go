package server

import (
	"errors"

	"github.com/amoylab/chatline/internal/chat"
	"github.com/amoylab/chatline/internal/i18n"
	"github.com/amoylab/chatline/internal/transport"
)

var kindErrors = map[chat.Kind]*i18n.ErrorWithCode{
	chat.KindMissingCredential: i18n.ErrMissingCredential,
	chat.KindConnection:        i18n.ErrConnection,
	chat.KindQuery:             i18n.ErrQuery,
	chat.KindNotFound:          i18n.ErrConversationNotFound,
	chat.KindSend:              i18n.ErrSend,
}

// httpError maps a manager or admin error onto its localized HTTP error.
// Manager kinds win over the transport errors they wrap. params fill the
// message template.
func httpError(err error, params map[string]interface{}) error {
	target := classify(err)
	if target == nil {
		return err
	}
	for k, v := range params {
		target = target.WithParam(k, v)
	}
	return target
}

func classify(err error) *i18n.ErrorWithCode {
	switch {
	case errors.Is(err, chat.ErrInvalidIdentity):
		return i18n.ErrInvalidIdentity
	case errors.Is(err, chat.ErrSessionBusy):
		return i18n.ErrSessionBusy
	case errors.Is(err, chat.ErrNotConnected):
		return i18n.ErrNotConnected
	}
	if target, ok := kindErrors[chat.KindOf(err)]; ok {
		return target
	}
	switch {
	case errors.Is(err, transport.ErrChannelExists):
		return i18n.ErrChannelExists
	case errors.Is(err, transport.ErrChannelNotFound):
		return i18n.ErrConversationNotFound
	case errors.Is(err, transport.ErrNotMember):
		return i18n.ErrNotMember
	case errors.Is(err, transport.ErrEmptyMessage):
		return i18n.ErrEmptyMessage
	}
	return nil
}
