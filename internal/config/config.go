package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	Port     string
	Store    string
	DBConn   string
	LogLevel string

	JWTSecret      string
	CallbackSecret string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	RedisAddr         string
	KafkaBrokers      []string
	KafkaRevenueTopic string
	KafkaGroupID      string

	InterestCron string
	SweepCron    string

	DefaultGraceDays int
	DefaultedLoanCap int64
	SharePrice       int64

	Score ScoreWeights
}

// ScoreWeights configures the credit score. Weights are fractions of the 850-point scale.
type ScoreWeights struct {
	Savings             decimal.Decimal
	Tenure              decimal.Decimal
	Repayment           decimal.Decimal
	SavingsCeiling      int64
	TenureCeilingMonths int
	DefaultPenalty      int
}

// DefaultScoreWeights returns the stock weighting.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Savings:             decimal.RequireFromString("0.35"),
		Tenure:              decimal.RequireFromString("0.25"),
		Repayment:           decimal.RequireFromString("0.40"),
		SavingsCeiling:      10_000_000,
		TenureCeilingMonths: 60,
		DefaultPenalty:      300,
	}
}

// NewConfig loads configuration from environment variables, reading .env first when present
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	var errs []string
	intVar := func(key string, def int) int {
		v, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be an integer", key))
		}
		return v
	}
	int64Var := func(key string, def int64) int64 {
		v, err := strconv.ParseInt(getEnv(key, strconv.FormatInt(def, 10)), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be an integer", key))
		}
		return v
	}
	decVar := func(key string, def decimal.Decimal) decimal.Decimal {
		v, err := decimal.NewFromString(getEnv(key, def.String()))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be a decimal", key))
		}
		return v
	}

	defaults := DefaultScoreWeights()
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Store:             getEnv("STORE", "postgres"),
		DBConn:            getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=sacco sslmode=disable"),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:         getEnv("JWT_SECRET", "secret"),
		CallbackSecret:    getEnv("CALLBACK_SECRET", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getEnv("SMTP_PORT", "587"),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
		SenderEmail:       getEnv("SENDER_EMAIL", "no-reply@sacco.local"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		KafkaBrokers:      splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaRevenueTopic: getEnv("KAFKA_REVENUE_TOPIC", "revenue-events"),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "sacco-ledger"),
		InterestCron:      getEnv("INTEREST_CRON", "0 1 1 * *"),
		SweepCron:         getEnv("SWEEP_CRON", "0 2 * * *"),
		DefaultGraceDays:  intVar("DEFAULT_GRACE_DAYS", 30),
		DefaultedLoanCap:  int64Var("DEFAULTED_LOAN_CAP", 0),
		SharePrice:        int64Var("SHARE_PRICE", 10_000),
		Score: ScoreWeights{
			Savings:             decVar("SCORE_SAVINGS_WEIGHT", defaults.Savings),
			Tenure:              decVar("SCORE_TENURE_WEIGHT", defaults.Tenure),
			Repayment:           decVar("SCORE_REPAYMENT_WEIGHT", defaults.Repayment),
			SavingsCeiling:      int64Var("SCORE_SAVINGS_CEILING", defaults.SavingsCeiling),
			TenureCeilingMonths: intVar("SCORE_TENURE_CEILING_MONTHS", defaults.TenureCeilingMonths),
			DefaultPenalty:      intVar("SCORE_DEFAULT_PENALTY", defaults.DefaultPenalty),
		},
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}

	if cfg.Store != "postgres" && cfg.Store != "memory" {
		return nil, fmt.Errorf("STORE must be postgres or memory, got %q", cfg.Store)
	}
	if cfg.Store == "postgres" && cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.CallbackSecret == "" {
		return nil, fmt.Errorf("CALLBACK_SECRET is required")
	}
	if cfg.SharePrice <= 0 {
		return nil, fmt.Errorf("SHARE_PRICE must be positive")
	}
	if cfg.DefaultGraceDays <= 0 {
		return nil, fmt.Errorf("DEFAULT_GRACE_DAYS must be positive")
	}
	if cfg.Score.SavingsCeiling <= 0 || cfg.Score.TenureCeilingMonths <= 0 {
		return nil, fmt.Errorf("credit score ceilings must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
