package cnst

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrUnknownTransportType, ErrUnknownTokenType))
	assert.EqualError(t, ErrMissingTokenEndpoint, "token endpoint is required")
}
