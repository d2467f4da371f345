package i18n

// Common errors
var (
	ErrBadRequest     = NewErrorWithCode("ErrorBadRequest", ErrorBadRequest)
	ErrInternalServer = NewErrorWithCode("ErrorInternalServer", ErrorInternalServer)
)

// Session errors
var (
	ErrInvalidIdentity   = NewErrorWithCode("ErrorInvalidIdentity", ErrorBadRequest)
	ErrSessionBusy       = NewErrorWithCode("ErrorSessionBusy", ErrorConflict)
	ErrNotConnected      = NewErrorWithCode("ErrorNotConnected", ErrorConflict)
	ErrMissingCredential = NewErrorWithCode("ErrorMissingCredential", ErrorUnauthorized)
	ErrConnection        = NewErrorWithCode("ErrorConnection", ErrorBadGateway)
)

// Conversation errors
var (
	ErrQuery                = NewErrorWithCode("ErrorQuery", ErrorBadGateway)
	ErrConversationNotFound = NewErrorWithCode("ErrorConversationNotFound", ErrorNotFound)
	ErrSend                 = NewErrorWithCode("ErrorSend", ErrorBadGateway)
)

// Admin errors
var (
	ErrChannelExists = NewErrorWithCode("ErrorChannelExists", ErrorConflict)
	ErrNotMember     = NewErrorWithCode("ErrorNotMember", ErrorForbidden)
	ErrEmptyMessage  = NewErrorWithCode("ErrorEmptyMessage", ErrorBadRequest)
)
