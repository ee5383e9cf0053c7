package orm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"missing dsn", Config{Type: SQLite}, true},
		{"unknown type", Config{Type: "oracle", DSN: "x"}, true},
		{"empty replicas", Config{Type: MySQL, DSN: "x", Replicas: &ReplicaConfig{}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOpenSQLite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DSN = "file:orm_open?mode=memory&cache=shared"
	cfg.Tracing = true

	db, err := Open(cfg, nil)
	require.NoError(t, err)
	defer Close(db)

	var n int
	require.NoError(t, db.Raw("SELECT 1").Scan(&n).Error)
	assert.Equal(t, 1, n)
}
