package errors

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDoesNotMutateShared(t *testing.T) {
	e := ErrRateLimited.WithRetryAfter(3 * time.Second).WithField("message")

	assert.Equal(t, time.Duration(0), ErrRateLimited.RetryAfter)
	assert.Empty(t, ErrRateLimited.Field)
	assert.Equal(t, 3*time.Second, e.RetryAfter)
	assert.Equal(t, "message", e.Field)
	assert.True(t, Is(e, ErrRateLimited))
}

func TestFrom(t *testing.T) {
	wrapped := fmt.Errorf("join lobby: %w", ErrRoomFull)
	e := From(wrapped)
	require.NotNil(t, e)
	assert.Equal(t, KindConflict, e.Kind)
	assert.Equal(t, "room_full", e.Reason)

	raw := From(io.EOF)
	assert.Equal(t, KindInternal, raw.Kind)
	assert.True(t, Is(raw, io.EOF))
	assert.Nil(t, From(nil))
}

func TestKind(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
		facing bool
	}{
		{KindUnauthenticated, 401, true},
		{KindUnauthorized, 403, true},
		{KindInvalidInput, 400, true},
		{KindRateLimited, 429, true},
		{KindNotFound, 404, true},
		{KindConflict, 409, true},
		{KindInternal, 500, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.kind.HTTPStatus())
			assert.Equal(t, tt.facing, tt.kind.ClientFacing())
		})
	}
}
