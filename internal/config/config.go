package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит все настройки приложения
type Config struct {
	Telegram TelegramConfig
	Database DatabaseConfig
	HTTP     HTTPConfig
	Feed     FeedConfig
	Pricing  PricingConfig
	Wallet   WalletConfig
	Monitor  MonitorConfig
	Policy   PolicyConfig

	LogLevel  string
	LogPretty bool
	Language  string
}

type TelegramConfig struct {
	Enabled  bool
	BotToken string
	ChatID    int64
	AdminIDs  string
	Whitelist string
}

type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type HTTPConfig struct {
	Port           int
	AllowedOrigins []string
}

// FeedConfig источник позиций (Helius-backed position service)
type FeedConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// PricingConfig исторические цены: CoinGecko основной, price-history сервис запасной
type PricingConfig struct {
	CoinGeckoURL    string
	CoinGeckoAPIKey string
	HistoryURL      string
	CacheTTL        time.Duration
}

// WalletConfig мост к внешнему кошельку, ключи здесь не хранятся
type WalletConfig struct {
	SignerURL string
	Timeout   time.Duration
}

type MonitorConfig struct {
	Interval       time.Duration
	QueueTTL       time.Duration
	DisplayWindow  time.Duration
	SnoozeDuration time.Duration
	SwapTargetMode string
}

type PolicyConfig struct {
	Path    string
	Profile string
}

// Load загружает конфигурацию из .env файла
func Load() (*Config, error) {
	// Загружаем .env файл (если есть)
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	chatID, err := strconv.ParseInt(getEnv("TELEGRAM_CHAT_ID", "0"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	telegramEnabled, err := strconv.ParseBool(getEnv("TELEGRAM_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_ENABLED: %w", err)
	}

	dbEnabled, err := strconv.ParseBool(getEnv("DB_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_ENABLED: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	maxOpenConns, err := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}

	maxIdleConns, err := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(getEnv("DB_CONN_MAX_LIFETIME", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	httpPort, err := strconv.Atoi(getEnv("HTTP_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_PORT: %w", err)
	}

	feedTimeout, err := time.ParseDuration(getEnv("FEED_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid FEED_TIMEOUT: %w", err)
	}

	feedRetries, err := strconv.Atoi(getEnv("FEED_MAX_RETRIES", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid FEED_MAX_RETRIES: %w", err)
	}

	priceCacheTTL, err := time.ParseDuration(getEnv("PRICE_CACHE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_CACHE_TTL: %w", err)
	}

	signerTimeout, err := time.ParseDuration(getEnv("WALLET_SIGNER_TIMEOUT", "2m"))
	if err != nil {
		return nil, fmt.Errorf("invalid WALLET_SIGNER_TIMEOUT: %w", err)
	}

	monitorInterval, err := time.ParseDuration(getEnv("MONITOR_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid MONITOR_INTERVAL: %w", err)
	}

	queueTTL, err := time.ParseDuration(getEnv("QUEUE_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_TTL: %w", err)
	}

	displayWindow, err := time.ParseDuration(getEnv("ALERT_DISPLAY_WINDOW", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid ALERT_DISPLAY_WINDOW: %w", err)
	}

	snooze, err := time.ParseDuration(getEnv("ALERT_SNOOZE", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid ALERT_SNOOZE: %w", err)
	}

	logPretty, err := strconv.ParseBool(getEnv("LOG_PRETTY", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_PRETTY: %w", err)
	}

	config := &Config{
		Telegram: TelegramConfig{
			Enabled:   telegramEnabled,
			BotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:    chatID,
			AdminIDs:  getEnv("TELEGRAM_ADMIN_IDS", ""),
			Whitelist: getEnv("TELEGRAM_WHITELIST", ""),
		},
		Database: DatabaseConfig{
			Enabled:         dbEnabled,
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "defairy"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpenConns,
			MaxIdleConns:    maxIdleConns,
			ConnMaxLifetime: connMaxLifetime,
		},
		HTTP: HTTPConfig{
			Port:           httpPort,
			AllowedOrigins: splitList(getEnv("HTTP_ALLOWED_ORIGINS", "*")),
		},
		Feed: FeedConfig{
			BaseURL:    getEnv("POSITION_FEED_URL", "http://localhost:3000/api/positions"),
			APIKey:     getEnv("HELIUS_API_KEY", ""),
			Timeout:    feedTimeout,
			MaxRetries: feedRetries,
		},
		Pricing: PricingConfig{
			CoinGeckoURL:    getEnv("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
			CoinGeckoAPIKey: getEnv("COINGECKO_API_KEY", ""),
			HistoryURL:      getEnv("PRICE_HISTORY_URL", ""),
			CacheTTL:        priceCacheTTL,
		},
		Wallet: WalletConfig{
			SignerURL: getEnv("WALLET_SIGNER_URL", ""),
			Timeout:   signerTimeout,
		},
		Monitor: MonitorConfig{
			Interval:       monitorInterval,
			QueueTTL:       queueTTL,
			DisplayWindow:  displayWindow,
			SnoozeDuration: snooze,
			SwapTargetMode: getEnv("SWAP_TARGET_MODE", "usd"),
		},
		Policy: PolicyConfig{
			Path:    getEnv("POLICY_PATH", "configs/policy.yaml"),
			Profile: getEnv("POLICY_PROFILE", "moderate"),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: logPretty,
		Language:  getEnv("LANGUAGE", "en"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate проверяет обязательные поля конфигурации
func (c *Config) Validate() error {
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_ENABLED=true")
	}
	if c.Database.Enabled && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required when DB_ENABLED=true")
	}
	if c.Feed.BaseURL == "" {
		return fmt.Errorf("POSITION_FEED_URL is required")
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("MONITOR_INTERVAL must be positive")
	}
	switch c.Monitor.SwapTargetMode {
	case "usd", "legacy":
	default:
		return fmt.Errorf("SWAP_TARGET_MODE must be usd or legacy, got %q", c.Monitor.SwapTargetMode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
