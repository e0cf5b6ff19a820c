package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"autoshop-api/internal/config"
)

type DB struct {
	Gorm *gorm.DB
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	switch cfg.Engine {
	case config.EnginePostgres:
		return openPostgres(ctx, cfg)
	case config.EngineMySQL:
		return openSQL(ctx, mysql.Open(mysqlDSN(cfg)), cfg)
	case config.EngineMSSQL:
		return openSQL(ctx, sqlserver.Open(mssqlDSN(cfg)), cfg)
	case config.EngineSQLite:
		return OpenSQLite(cfg.Name)
	case config.EngineOracle:
		return nil, fmt.Errorf("database engine %q is not supported by this build", cfg.Engine)
	default:
		return nil, fmt.Errorf("unknown database engine %q", cfg.Engine)
	}
}

// OpenSQLite opens a file or in-memory sqlite database. In-memory databases are
// pinned to a single connection so every query sees the same schema.
func OpenSQLite(dsn string) (*DB, error) {
	if !strings.Contains(dsn, "_foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_foreign_keys=1"
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		sqlDB.SetMaxOpenConns(1)
	}

	return &DB{Gorm: gdb}, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = postgresDSN(cfg)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), gormConfig())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm on pool: %w", err)
	}

	slog.Info("database connected", "engine", cfg.Engine, "max_conns", cfg.MaxConns, "min_conns", cfg.MinConns)
	return &DB{Gorm: gdb, pool: pool}, nil
}

func openSQL(ctx context.Context, dialector gorm.Dialector, cfg config.DatabaseConfig) (*DB, error) {
	gdb, err := gorm.Open(dialector, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Engine, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("%s handle: %w", cfg.Engine, err)
	}

	sqlDB.SetMaxOpenConns(int(cfg.MaxConns))
	sqlDB.SetMaxIdleConns(int(cfg.MinConns))
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("database connected", "engine", cfg.Engine, "max_conns", cfg.MaxConns)
	return &DB{Gorm: gdb}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func postgresDSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func mysqlDSN(cfg config.DatabaseConfig) string {
	mcfg := mysqldriver.NewConfig()
	mcfg.User = cfg.User
	mcfg.Passwd = cfg.Password
	mcfg.Net = "tcp"
	mcfg.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mcfg.DBName = cfg.Name
	mcfg.ParseTime = true
	mcfg.Loc = time.UTC
	mcfg.Collation = "utf8mb4_unicode_ci"
	return mcfg.FormatDSN()
}

func mssqlDSN(cfg config.DatabaseConfig) string {
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		RawQuery: url.Values{"database": {cfg.Name}}.Encode(),
	}
	return u.String()
}

func (db *DB) Close() {
	if db == nil {
		return
	}
	if db.Gorm != nil {
		if sqlDB, err := db.Gorm.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *DB) Health(ctx context.Context) error {
	sqlDB, err := db.SQL()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (db *DB) SQL() (*sql.DB, error) {
	if db == nil || db.Gorm == nil {
		return nil, fmt.Errorf("database is not initialized")
	}
	return db.Gorm.DB()
}
