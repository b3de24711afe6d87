package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dsemenov/market/internal/models"
)

type Config struct {
	DB_HOST     string
	DB_PORT     string
	DB_USER     string
	DB_PASSWORD string
	DB_NAME     string

	ES_URL      string
	ES_USER     string
	ES_PASSWORD string

	JWT_SECRET    string
	KAFKA_ADDRESS string

	SMTP_HOST string
	SMTP_PORT string
	SMTP_USER string
	SMTP_PASS string
	MAIL_FROM string

	PAYMENT_URL string
	PAYMENT_KEY string
	CURRENCY    string

	APP_URL   string
	LOG_LEVEL string

	// RevealNonexistentAccounts makes requestReset fail visibly for unknown
	// emails. Leaks account existence; off unless explicitly enabled.
	RevealNonexistentAccounts bool
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	config := &Config{
		DB_HOST:     os.Getenv("DB_HOST"),
		DB_PORT:     os.Getenv("DB_PORT"),
		DB_USER:     os.Getenv("DB_USER"),
		DB_PASSWORD: os.Getenv("DB_PASSWORD"),
		DB_NAME:     os.Getenv("DB_NAME"),

		ES_URL:      os.Getenv("ES_URL"),
		ES_USER:     os.Getenv("ES_USER"),
		ES_PASSWORD: os.Getenv("ES_PASSWORD"),

		JWT_SECRET:    os.Getenv("JWT_SECRET"),
		KAFKA_ADDRESS: os.Getenv("KAFKA_ADDRESS"),

		SMTP_HOST: os.Getenv("SMTP_HOST"),
		SMTP_PORT: os.Getenv("SMTP_PORT"),
		SMTP_USER: os.Getenv("SMTP_USER"),
		SMTP_PASS: os.Getenv("SMTP_PASS"),
		MAIL_FROM: os.Getenv("MAIL_FROM"),

		PAYMENT_URL: os.Getenv("PAYMENT_URL"),
		PAYMENT_KEY: os.Getenv("PAYMENT_KEY"),
		CURRENCY:    os.Getenv("CURRENCY"),

		APP_URL:   os.Getenv("APP_URL"),
		LOG_LEVEL: os.Getenv("LOG_LEVEL"),

		RevealNonexistentAccounts: os.Getenv("RESET_REVEAL_ACCOUNTS") == "true",
	}

	if config.CURRENCY == "" {
		config.CURRENCY = "USD"
	}

	return config, nil
}

func InitDB(ctx context.Context, cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DB_USER, cfg.DB_PASSWORD, cfg.DB_HOST, cfg.DB_PORT, cfg.DB_NAME,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Item{},
		&models.CartItem{},
		&models.Order{},
		&models.OrderLineItem{},
		&models.PendingReconciliation{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}
