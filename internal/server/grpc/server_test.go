package grpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Additional-Code/bazaar/pkg/errorbank"
)

func TestToStatus(t *testing.T) {
	err := toStatus(errorbank.Forbidden("nope", errorbank.WithCode("unauthorized")))
	st, ok := status.FromError(err)
	assert.True(t, ok)
	assert.Equal(t, codes.PermissionDenied, st.Code())
	assert.Equal(t, "nope", st.Message())

	already := status.Error(codes.NotFound, "gone")
	assert.Equal(t, already, toStatus(already))
}
