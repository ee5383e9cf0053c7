package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/huddle/pkg/errors"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxTextLength = 10
	cfg.MaxJSONDepth = 3
	cfg.MaxArrayLength = 4
	cfg.MaxObjectProps = 3
	cfg.MaxJSONSize = 256
	cfg.MaxBinarySize = 8
	v, err := New(cfg)
	require.NoError(t, err)
	return v
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return errors.From(err).Reason
}

func TestText(t *testing.T) {
	v := newTestValidator(t)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"at ceiling", strings.Repeat("a", 10), ""},
		{"multibyte at ceiling", strings.Repeat("字", 10), ""},
		{"one over", strings.Repeat("a", 11), "too_long"},
		{"empty", "", "empty"},
		{"invalid utf8", "\xff\xfe", "invalid_utf8"},
		{"control char", "hi\x07", "bad_charset"},
		{"newline ok", "a\nb", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Text("message", tt.in)
			assert.Equal(t, tt.want, reason(err))
			if err != nil {
				e := errors.From(err)
				assert.Equal(t, errors.KindInvalidInput, e.Kind)
				assert.Equal(t, "message", e.Field)
			}
		})
	}
}

func TestJSON(t *testing.T) {
	v := newTestValidator(t)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"scalar", `42`, ""},
		{"depth at max", `{"a":{"b":{"c":1}}}`, ""},
		{"depth one over", `{"a":{"b":{"c":{"d":1}}}}`, "too_deep"},
		{"array depth one over", `[[[[1]]]]`, "too_deep"},
		{"array at max length", `[1,2,3,4]`, ""},
		{"array too long", `[1,2,3,4,5]`, "too_many_items"},
		{"object too many props", `{"a":1,"b":2,"c":3,"d":4}`, "too_many_items"},
		{"nested array too long", `{"a":[1,2,3,4,5]}`, "too_many_items"},
		{"malformed", `{"a":`, "malformed_json"},
		{"too large", `"` + strings.Repeat("x", 300) + `"`, "too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reason(v.JSON("data", []byte(tt.in))))
		})
	}
}

func TestBinary(t *testing.T) {
	v := newTestValidator(t)
	assert.NoError(t, v.Binary("frame", make([]byte, 8)))
	assert.Equal(t, "too_large", reason(v.Binary("frame", make([]byte, 9))))
	assert.Equal(t, "empty", reason(v.Binary("frame", nil)))
}

func TestRoomID(t *testing.T) {
	v := Default()
	tests := []struct {
		in   string
		want string
	}{
		{"lobby", ""},
		{"button_counter_room", ""},
		{"team-42", ""},
		{strings.Repeat("r", 50), ""},
		{strings.Repeat("r", 51), "too_long"},
		{"", "empty"},
		{"no spaces", "bad_charset"},
		{"../etc", "bad_charset"},
		{"<script>", "bad_charset"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, reason(v.RoomID(tt.in)))
		})
	}
}

func TestUsername(t *testing.T) {
	v := Default()
	assert.NoError(t, v.Username("alice.smith"))
	assert.Equal(t, "bad_charset", reason(v.Username("alice smith")))
	assert.Equal(t, "too_long", reason(v.Username(strings.Repeat("a", 51))))
}

func TestRoles(t *testing.T) {
	v := Default()
	assert.NoError(t, v.Roles("allowed_roles", []string{"admin", "member"}))
	assert.Equal(t, "bad_charset", reason(v.Roles("allowed_roles", []string{"adm in"})))
	assert.Equal(t, "bad_charset", reason(v.Roles("allowed_roles", []string{""})))
}

func TestSanitize(t *testing.T) {
	v := Default()
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"<b>bold</b>", "bold"},
		{`<script>alert(1)</script>hi`, "hi"},
		{`<img src=x onerror="alert(1)">`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, v.Sanitize(tt.in), tt.in)
	}
}

func TestBadPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RoomIDPattern = "("
	_, err := New(cfg)
	assert.Error(t, err)
}
