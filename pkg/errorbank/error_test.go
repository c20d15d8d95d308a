package errorbank

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestAppError_IsMatchesByCode(t *testing.T) {
	sentinel := Conflict("order is no longer active", WithCode("order_inactive"))
	derived := sentinel.Wrap(WithDetail("order_id", int64(7)))

	assert.True(t, errors.Is(derived, sentinel))
	assert.True(t, errors.Is(fmt.Errorf("deliver: %w", derived), sentinel))
	assert.False(t, errors.Is(derived, Conflict("other", WithCode("order_limit"))))
	assert.Equal(t, int64(7), derived.Details()["order_id"])
	assert.Nil(t, sentinel.Details())
}

func TestAppError_DefaultCodeIsKind(t *testing.T) {
	err := NotFound("missing")
	assert.Equal(t, "not_found", err.Code())
}

func TestAppError_StatusAndGRPC(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
		code   codes.Code
	}{
		{BadRequest("x"), http.StatusBadRequest, codes.InvalidArgument},
		{Conflict("x"), http.StatusConflict, codes.AlreadyExists},
		{Forbidden("x"), http.StatusForbidden, codes.PermissionDenied},
		{NotFound("x"), http.StatusNotFound, codes.NotFound},
		{Unprocessable("x"), http.StatusUnprocessableEntity, codes.FailedPrecondition},
		{Unavailable("x"), http.StatusServiceUnavailable, codes.Unavailable},
		{Internal("x"), http.StatusInternalServerError, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Kind()), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode())
			assert.Equal(t, tt.code, tt.err.GRPCCode())
		})
	}
}

func TestFrom_WrapsPlainErrors(t *testing.T) {
	cause := errors.New("disk full")
	appErr := From(cause)
	assert.Equal(t, KindInternal, appErr.Kind())
	assert.ErrorIs(t, appErr, cause)
	assert.Nil(t, From(nil))
}
