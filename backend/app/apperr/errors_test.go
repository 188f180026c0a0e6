package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Validation("machineId", "required")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("device", "dev-1")))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(Transport("post", "10.0.0.2", errors.New("refused"))))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestWrappedErrorsKeepTheirKind(t *testing.T) {
	err := fmt.Errorf("deliver: %w", NotFound("device", "dev-9"))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))

	cause := errors.New("timeout")
	terr := Transport("post", "http://10.0.0.2:3000", cause)
	assert.ErrorIs(t, terr, cause)
	assert.Contains(t, terr.Error(), "10.0.0.2")
}
