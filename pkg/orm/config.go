package orm

import (
	"fmt"
	"time"
)

// DBType 数据库类型
type DBType string

const (
	MySQL      DBType = "mysql"
	PostgreSQL DBType = "postgres"
	SQLite     DBType = "sqlite"
	SQLServer  DBType = "sqlserver"
)

// Config 数据库配置
type Config struct {
	Type DBType `mapstructure:"type"` // mysql, postgres, sqlite, sqlserver
	DSN  string `mapstructure:"dsn"`

	// 连接池
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	PrepareStmt   bool          `mapstructure:"prepare_stmt"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"` // 慢查询阈值
	TablePrefix   string        `mapstructure:"table_prefix"`

	// AutoMigrate 启动时同步表结构
	AutoMigrate bool `mapstructure:"auto_migrate"`

	// Tracing 为每条语句创建 span
	Tracing bool `mapstructure:"tracing"`

	// Replicas 只读副本，非空时启用读写分离
	Replicas *ReplicaConfig `mapstructure:"replicas"`
}

// ReplicaConfig 读写分离配置
type ReplicaConfig struct {
	DSNs   []string `mapstructure:"dsns"`
	Policy string   `mapstructure:"policy"` // random, round_robin

	MaxIdleConns int `mapstructure:"max_idle_conns"`
	MaxOpenConns int `mapstructure:"max_open_conns"`
}

// DefaultConfig 返回默认配置（SQLite 内存库）
func DefaultConfig() Config {
	return Config{
		Type:            SQLite,
		DSN:             "file::memory:?cache=shared",
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		PrepareStmt:     true,
		SlowThreshold:   200 * time.Millisecond,
		AutoMigrate:     true,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("orm: dsn is required")
	}
	switch c.Type {
	case MySQL, PostgreSQL, SQLite, SQLServer:
	default:
		return fmt.Errorf("orm: unsupported database type %q", c.Type)
	}
	if c.Replicas != nil && len(c.Replicas.DSNs) == 0 {
		return fmt.Errorf("orm: replicas configured without dsns")
	}
	return nil
}
