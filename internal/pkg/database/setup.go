package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/config"
)

// Open connects to the configured database, retrying while it comes up.
// Errors are translated so unique violations surface as gorm.ErrDuplicatedKey.
func Open(cfg config.DB, dev bool) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	level := logger.Warn
	if dev {
		level = logger.Info
	}
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
	}

	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}
	var db *gorm.DB
	for i := 0; i < retries; i++ {
		db, err = gorm.Open(dialector, gormCfg)
		if err == nil {
			break
		}
		log.Warnf("[Database] Failed to connect to %s (try %d/%d): %v", cfg.Driver, i+1, retries, err)
		if i < retries-1 {
			time.Sleep(cfg.RetryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(models.All()...); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		log.Infof("[Database] Schema auto-migrated")
	}

	log.Infof("[Database] Connected to %s at %s", cfg.Driver, cfg.Host)
	return db, nil
}

// Dialector returns the GORM dialector for the configured driver.
func Dialector(cfg config.DB) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "mysql", "":
		return mysql.New(mysql.Config{
			DSN:                       MySQLDSN(cfg),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), nil
	case "postgres":
		return postgres.New(postgres.Config{DSN: PostgresDSN(cfg)}), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// MySQLDSN builds "user:pass@tcp(host:port)/name?...".
func MySQLDSN(cfg config.DB) string {
	port := cfg.Port
	if port == "" {
		port = "3306"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, port, cfg.Name)
}

// PostgresDSN builds a key=value connection string.
func PostgresDSN(cfg config.DB) string {
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, port, cfg.SSLMode)
}

// MigrateURL returns the golang-migrate database URL for cfg.
func MigrateURL(cfg config.DB) (string, error) {
	switch cfg.Driver {
	case "mysql", "":
		return "mysql://" + MySQLDSN(cfg) + "&multiStatements=true", nil
	case "postgres":
		port := cfg.Port
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			cfg.User, cfg.Password, cfg.Host, port, cfg.Name, cfg.SSLMode), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
