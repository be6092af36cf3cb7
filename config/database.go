package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

// SetDB installs an already opened handle. Used by tests and one-off scripts.
func SetDB(conn *gorm.DB) {
	db = conn
}

func init() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
}

// DatabaseDriver returns the configured driver name (postgres unless DB_DRIVER=mysql).
func DatabaseDriver() string {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("DB_DRIVER")), DriverMySQL) {
		return DriverMySQL
	}
	return DriverPostgres
}

func openDialector() gorm.Dialector {
	if DatabaseDriver() == DriverMySQL {
		return mysql.Open(mysqlDSN())
	}
	return postgres.New(postgres.Config{
		DSN: postgresDSN(),
		// Supabase's pooler (pgbouncer, transaction mode) rejects prepared statements.
		PreferSimpleProtocol: envBoolDefault("DB_PREFER_SIMPLE_PROTOCOL", true),
	})
}

func postgresDSN() string {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v
	}
	sslMode := strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	if sslMode == "" {
		sslMode = "require"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD")),
		Host:     fmt.Sprintf("%s:%s", os.Getenv("DB_HOST"), os.Getenv("DB_PORT")),
		Path:     "/" + os.Getenv("DB_NAME"),
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

func mysqlDSN() string {
	dbHost := os.Getenv("DB_HOST")
	network := "tcp"
	address := fmt.Sprintf("%s:%s", dbHost, os.Getenv("DB_PORT"))

	// Cloud SQL: DB_HOST=/cloudsql/<CONNECTION_NAME> connects over the proxy's unix socket.
	if strings.HasPrefix(dbHost, "/cloudsql/") {
		network = "unix"
		address = dbHost
	}

	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true&charset=utf8mb4",
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		network,
		address,
		os.Getenv("DB_NAME"),
	)
}

// tunePool applies DB_MAX_OPEN_CONNS (20), DB_MAX_IDLE_CONNS (10),
// DB_CONN_MAX_LIFETIME_SECONDS (300) and DB_CONN_MAX_IDLE_TIME_SECONDS (60).
func tunePool(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if n := intFromEnv("DB_MAX_OPEN_CONNS", 20); n > 0 {
		sqlDB.SetMaxOpenConns(n)
	}
	if n := intFromEnv("DB_MAX_IDLE_CONNS", 10); n >= 0 {
		sqlDB.SetMaxIdleConns(n)
	}
	if secs := intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300); secs > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(secs) * time.Second)
	}
	if secs := intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60); secs > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(secs) * time.Second)
	}
	return nil
}

// ConnectDatabaseWithRetry blocks until the database accepts a connection, then installs it.
// Call it after the HTTP server is listening.
func ConnectDatabaseWithRetry() {
	entry := GetLogger().WithField("driver", DatabaseDriver())

	for attempt := 1; ; attempt++ {
		conn, err := gorm.Open(openDialector(), initConfig())
		if err == nil {
			if err := tunePool(conn); err != nil {
				entry.WithError(err).Warn("db pool settings not applied")
			}
			if err := conn.Use(otelgorm.NewPlugin()); err != nil {
				entry.WithError(err).Warn("otelgorm plugin not installed")
			}
			SetDB(conn)
			entry.WithField("attempt", attempt).Info("connected to database")
			return
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		entry.WithFields(logrus.Fields{"attempt": attempt, "retry_in": sleep.String()}).
			WithError(err).Warn("database not reachable")
		time.Sleep(sleep)
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

// EnvBool exposes the boolean env parser to other packages.
func EnvBool(key string, def bool) bool {
	return envBoolDefault(key, def)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// NewGormConfig is shared with the SQLite handles opened in tests.
func NewGormConfig() *gorm.Config {
	return initConfig()
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
		// Surface driver-specific uniqueness violations as gorm.ErrDuplicatedKey.
		TranslateError: true,
	}
}

func initLog() logger.Interface {
	level := logger.Error
	if envBoolDefault("GORM_DEBUG", false) {
		level = logger.Info
	}
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:                  false,
			LogLevel:                  level,
			SlowThreshold:             time.Second,
			IgnoreRecordNotFoundError: true,
		},
	)
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
