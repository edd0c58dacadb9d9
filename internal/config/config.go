package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort     string
	Environment string

	// Gateway (session bridge to the game server)
	GatewayURL     string
	GatewayToken   string
	CommandsPerMin int
	CommandPrefix  string
	StartDelay     time.Duration
	CloseDelay     time.Duration
	HumanDelayMin  time.Duration
	HumanDelayMax  time.Duration
	OpenTimeout    time.Duration
	ChangeTimeout  time.Duration
	ConfirmTimeout time.Duration

	// Tracking
	TrackInterval    time.Duration
	SchedulerTick    time.Duration
	AutoTrack        bool
	DefaultProduct   string
	MinMatchingSlots int
	MaxTrackedPages  int

	// Full sweep
	SweepOpenTimeout    time.Duration
	SweepStallTimeout   time.Duration
	SweepRequestTimeout time.Duration
	SweepPageDelay      time.Duration

	// Trading
	TradingEnabled  bool
	MarginThreshold float64
	MarketStaleAge  time.Duration
	ExpiryGrace     time.Duration
	SelfName        string

	// Alerts & history
	HistoryWindow   time.Duration
	AlertCooldown   time.Duration
	AlertWebhookURL string

	// Storage
	DataDir string
}

func Load() (*Config, error) {
	// Ignore missing .env; vars may be set directly by the environment.
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:     getEnv("ORDERS_API_PORT", "3010"),
		Environment: getEnv("ENVIRONMENT", "development"),

		GatewayURL:     getEnv("GATEWAY_URL", "ws://127.0.0.1:3020/session"),
		GatewayToken:   getEnv("GATEWAY_TOKEN", ""),
		CommandsPerMin: getIntEnv("GATEWAY_COMMANDS_PER_MIN", 60),
		CommandPrefix:  getEnv("ORDERS_CMD_PREFIX", "/orders"),
		StartDelay:     getDurationEnv("ORDERS_START_DELAY", 7*time.Second),
		CloseDelay:     getDurationEnv("ORDERS_CLOSE_DELAY", 800*time.Millisecond),
		HumanDelayMin:  getDurationEnv("ORDERS_HUMAN_DELAY_MIN", 300*time.Millisecond),
		HumanDelayMax:  getDurationEnv("ORDERS_HUMAN_DELAY_MAX", 900*time.Millisecond),
		OpenTimeout:    getDurationEnv("ORDERS_OPEN_TIMEOUT", 15*time.Second),
		ChangeTimeout:  getDurationEnv("ORDERS_CHANGE_TIMEOUT", 6*time.Second),
		ConfirmTimeout: getDurationEnv("ORDERS_CONFIRM_TIMEOUT", 8*time.Second),

		TrackInterval:    getDurationEnv("ORDERS_INTERVAL", time.Minute),
		SchedulerTick:    getDurationEnv("ORDERS_SCHEDULER_TICK", time.Second),
		AutoTrack:        getBoolEnv("ORDERS_AUTOTRACK", true),
		DefaultProduct:   getEnv("ORDERS_PRODUCT", "repeater"),
		MinMatchingSlots: getIntEnv("ORDERS_MIN_MATCHING_SLOTS", 5),
		MaxTrackedPages:  getIntEnv("ORDERS_MAX_TRACKED_PAGES", 5),

		SweepOpenTimeout:    getDurationEnv("ORDERS_SEARCH_ALL_OPEN_TIMEOUT", time.Minute),
		SweepStallTimeout:   getDurationEnv("ORDERS_SEARCH_ALL_STALL_TIMEOUT", time.Minute),
		SweepRequestTimeout: getDurationEnv("ORDERS_SEARCH_ALL_REQUEST_TIMEOUT", 10*time.Minute),
		SweepPageDelay:      getDurationEnv("ORDERS_SEARCH_ALL_PAGE_DELAY", 25*time.Second),

		TradingEnabled:  getBoolEnv("TRADING_ENABLED", false),
		MarginThreshold: getFloatEnv("TRADING_MARGIN_THRESHOLD", 0.15),
		MarketStaleAge:  getDurationEnv("TRADING_MARKET_STALE_AGE", 6*time.Hour),
		ExpiryGrace:     getDurationEnv("TRADING_EXPIRY_GRACE", 10*time.Minute),
		SelfName:        getEnv("TRADING_SELF_NAME", ""),

		HistoryWindow:   getDurationEnv("ALERTS_HISTORY_WINDOW", 24*time.Hour),
		AlertCooldown:   getDurationEnv("ALERTS_COOLDOWN", 5*time.Minute),
		AlertWebhookURL: getEnv("ALERTS_WEBHOOK_URL", ""),

		DataDir: getEnv("DATA_DIR", "data"),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
