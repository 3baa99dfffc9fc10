package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tendersync/internal/config"
)

// DB bundles the gorm handle with the underlying pool so lifecycle calls
// do not have to unwrap it again.
type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB
}

func Open(cfg config.DBConfig) (*DB, error) {
	gdb, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pool, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap pool: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{Gorm: gdb, SQL: pool}, nil
}

func (d *DB) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}

// Ping backs the readiness endpoint.
func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.SQL == nil {
		return errors.New("db not open")
	}
	return d.SQL.PingContext(ctx)
}

// SetTimezone pins the session timezone so timestamp columns come back in
// a known zone regardless of server config. SET TIME ZONE does not take
// bind parameters; the value comes from config, not request input.
func (d *DB) SetTimezone(tz string) error {
	if tz == "" {
		return nil
	}
	_, err := d.SQL.Exec("SET TIME ZONE '" + tz + "'")
	return err
}
