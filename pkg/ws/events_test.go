package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/huddle/pkg/errors"
	"github.com/tokmz/huddle/pkg/ratelimit"
	"github.com/tokmz/huddle/pkg/validator"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		event  string
		data   string
		want   Event
		reason string
		field  string
	}{
		{"join", "join_room", `{"room_id":"lobby"}`, &JoinRoom{RoomID: "lobby"}, "", ""},
		{"message", "send_message", `{"room_id":"lobby","message":"hi"}`, &SendMessage{RoomID: "lobby", Message: "hi"}, "", ""},
		{"no data", "ping", ``, &Ping{}, "", ""},
		{"null data", "get_counter", `null`, &GetCounter{}, "", ""},
		{"presence", "get_presence", `{"user_id":"bob"}`, &GetPresence{UserID: "bob"}, "", ""},
		{"create", "create_room", `{"room_id":"ops","permission":"restricted","allowed_roles":["admin"],"max_members":5}`,
			&CreateRoom{RoomID: "ops", Permission: "restricted", AllowedRoles: []string{"admin"}, MaxMembers: 5}, "", ""},
		{"empty name", "", `{}`, nil, "empty", "event"},
		{"unknown", "fly", `{}`, nil, "unsupported_event", "event"},
		{"bad data", "join_room", `{"room_id":5}`, nil, "malformed_json", "data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.event, []byte(tt.data))
			if tt.reason != "" {
				require.Error(t, err)
				e := errors.From(err)
				assert.Equal(t, tt.reason, e.Reason)
				assert.Equal(t, tt.field, e.Field)
				assert.Equal(t, errors.KindInvalidInput, e.Kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
			assert.Equal(t, EventKind(tt.event), ev.Kind())
		})
	}
}

func TestUpdatePermissionsOptionalFields(t *testing.T) {
	ev, err := Decode("update_permissions", []byte(`{"room_id":"ops","max_members":10}`))
	require.NoError(t, err)
	u := ev.(*UpdatePermissions)
	assert.Nil(t, u.Permission)
	require.NotNil(t, u.MaxMembers)
	assert.Equal(t, 10, *u.MaxMembers)
}

func TestEventCheck(t *testing.T) {
	v := validator.Default()
	restricted := "restricted"
	unknown := "secret"

	tests := []struct {
		name   string
		ev     Event
		reason string
	}{
		{"valid join", &JoinRoom{RoomID: "lobby"}, ""},
		{"empty room", &JoinRoom{}, "empty"},
		{"bad room charset", &LeaveRoom{RoomID: "a b"}, "bad_charset"},
		{"global message", &SendMessage{Message: "hi"}, ""},
		{"bad permission", &CreateRoom{RoomID: "x", Permission: "secret"}, "invalid_input"},
		{"update valid", &UpdatePermissions{RoomID: "x", Permission: &restricted, AllowedRoles: []string{"admin"}}, ""},
		{"update bad permission", &UpdatePermissions{RoomID: "x", Permission: &unknown}, "invalid_input"},
		{"presence in room", &GetPresence{UserID: "bob", RoomID: "lobby"}, ""},
		{"ping", &Ping{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.check(v)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.reason, errors.From(err).Reason)
		})
	}
}

func TestRateClass(t *testing.T) {
	assert.Equal(t, ratelimit.ActionJoin, rateClass(&JoinRoom{}))
	assert.Equal(t, ratelimit.ActionMessage, rateClass(&SendMessage{}))
	assert.Equal(t, ratelimit.ActionMessage, rateClass(&PressButton{}))
}

func TestErrorPayloadHidesInternal(t *testing.T) {
	p := errorPayload(errors.ErrInternal.WithMessage("redis exploded"))
	assert.Equal(t, errors.KindInternal, p.Kind)
	assert.Equal(t, "internal error", p.Message)

	p = errorPayload(errors.ErrRateLimited.WithRetryAfter(1500 * time.Millisecond))
	assert.Equal(t, errors.KindRateLimited, p.Kind)
	assert.Equal(t, int64(1500), p.RetryAfterMs)

	p = errorPayload(assert.AnError)
	assert.Equal(t, "internal", p.Reason)
}
