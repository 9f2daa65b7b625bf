package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromKeepsWrappedError(t *testing.T) {
	err := fmt.Errorf("checkout: %w", Conflict("The tickets are sold out"))

	ae := From(err)
	require.NotNil(t, ae)
	assert.Equal(t, http.StatusConflict, ae.StatusCode)
	assert.Equal(t, "The tickets are sold out", ae.Message)
	assert.True(t, Is(err, http.StatusConflict))
	assert.False(t, Is(err, http.StatusNotFound))
}

func TestFromUnknownErrorIsInternal(t *testing.T) {
	cause := errors.New("connection reset")

	ae := From(cause)
	assert.Equal(t, http.StatusInternalServerError, ae.StatusCode)
	assert.Equal(t, InternalMessage, ae.Message)
	assert.ErrorIs(t, ae, cause)
}

func TestFromNil(t *testing.T) {
	assert.Nil(t, From(nil))
}

func TestBody(t *testing.T) {
	body := Forbidden("You do not own this shop").Body()
	assert.Equal(t, http.StatusForbidden, body.Error.StatusCode)
	assert.Equal(t, "You do not own this shop", body.Error.Message)
}
