package apperrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("controller: %w", ErrConversationNotFound)

	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain")))
	assert.False(t, IsValidation(nil))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(ErrEmptyContent))
	assert.True(t, Terminal(ErrConversationNotFound))
	assert.False(t, Terminal(ErrAckTimeout))
	assert.False(t, Terminal(fmt.Errorf("dial tcp: refused")))
}

func TestHTTPStatusRoundTrip(t *testing.T) {
	for _, code := range []Code{CodeValidation, CodeNotFound, CodeUnauthenticated, CodeRateLimited, CodeConflict} {
		err := FromStatus(HTTPStatus(code), "x")
		assert.Equal(t, code, CodeOf(err), code)
	}
	assert.Equal(t, CodeTransport, CodeOf(FromStatus(http.StatusBadGateway, "x")))
	assert.Equal(t, CodeTransport, CodeOf(FromStatus(http.StatusInternalServerError, "x")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Transport("send failed", fmt.Errorf("socket closed"))
	assert.Equal(t, "send failed: socket closed", err.Error())
}
