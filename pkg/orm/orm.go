// Package orm 打开 GORM 数据库连接
package orm

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
	"gorm.io/plugin/dbresolver"

	"github.com/tokmz/huddle/pkg/logger"
)

// Open 打开数据库并配置连接池、读写分离和追踪
func Open(cfg Config, log logger.Logger) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	dialector, err := dialect(cfg.Type, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt:    cfg.PrepareStmt,
		Logger:         newGormLogger(log.Named("orm"), cfg.SlowThreshold),
		NamingStrategy: schema.NamingStrategy{TablePrefix: cfg.TablePrefix},
	})
	if err != nil {
		return nil, fmt.Errorf("orm: connect %s: %w", cfg.Type, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("orm: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if cfg.Replicas != nil {
		if err := useReplicas(db, cfg); err != nil {
			return nil, fmt.Errorf("orm: replicas: %w", err)
		}
	}
	if cfg.Tracing {
		if err := db.Use(NewTracingPlugin()); err != nil {
			return nil, fmt.Errorf("orm: tracing: %w", err)
		}
	}
	return db, nil
}

// Close 关闭底层连接池
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dialect(t DBType, dsn string) (gorm.Dialector, error) {
	switch t {
	case MySQL:
		return mysql.Open(dsn), nil
	case PostgreSQL:
		return postgres.Open(dsn), nil
	case SQLite:
		return sqlite.Open(dsn), nil
	case SQLServer:
		return sqlserver.Open(dsn), nil
	default:
		return nil, fmt.Errorf("orm: unsupported database type %q", t)
	}
}

func useReplicas(db *gorm.DB, cfg Config) error {
	replicas := make([]gorm.Dialector, 0, len(cfg.Replicas.DSNs))
	for _, dsn := range cfg.Replicas.DSNs {
		d, err := dialect(cfg.Type, dsn)
		if err != nil {
			return err
		}
		replicas = append(replicas, d)
	}

	var policy dbresolver.Policy = dbresolver.RandomPolicy{}
	if cfg.Replicas.Policy == "round_robin" {
		policy = dbresolver.RoundRobinPolicy()
	}

	resolver := dbresolver.Register(dbresolver.Config{Replicas: replicas, Policy: policy})
	if cfg.Replicas.MaxIdleConns > 0 {
		resolver.SetMaxIdleConns(cfg.Replicas.MaxIdleConns)
	}
	if cfg.Replicas.MaxOpenConns > 0 {
		resolver.SetMaxOpenConns(cfg.Replicas.MaxOpenConns)
	}
	return db.Use(resolver)
}
