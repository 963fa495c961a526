package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// HTTP
	Port int

	// Database
	DBPath string

	// Payment provider
	PaymentSecret      string
	PaymentProviderURL string
	PaymentAPIKey      string
	AllowDevBypass     bool

	// Settlement chain
	RPCURL             string
	OperatorPrivateKey string
	USDCAddress        string
	USDCDecimals       int
	VaultAddress       string
	AllowMockSettle    bool

	// Receipt storage (0G)
	StorageURL     string
	StorageAPIKey  string
	AllowLocalCIDs bool

	// Ops alerts
	BotToken  string
	OpsChatID int64

	// Reconciliation sweeper
	SweepIntervalSeconds int
}

func Load() *Config {
	cfg := &Config{
		// HTTP
		Port: getEnvInt("PORT", 3001),

		// Database
		DBPath: getEnv("DB_PATH", "./ramp.db"),

		// Payment provider
		PaymentSecret:      getEnv("PAYMENT_SECRET", ""),
		PaymentProviderURL: strings.TrimSuffix(getEnv("PAYMENT_PROVIDER_URL", ""), "/"),
		PaymentAPIKey:      getEnv("PAYMENT_API_KEY", ""),
		AllowDevBypass:     getEnvBool("PAYMENT_ALLOW_DEV_BYPASS", false),

		// Settlement chain
		RPCURL:             getEnv("OG_RPC_URL", ""),
		OperatorPrivateKey: getEnv("OPERATOR_PRIVATE_KEY", ""),
		USDCAddress:        getEnv("USDC_ADDRESS", ""),
		USDCDecimals:       getEnvInt("USDC_DECIMALS", 6),
		VaultAddress:       getEnv("RAMP_VAULT_ADDRESS", ""),
		AllowMockSettle:    getEnvBool("ALLOW_MOCK_SETTLEMENT", false),

		// Receipt storage
		StorageURL:     strings.TrimSuffix(getEnv("OG_STORAGE_URL", ""), "/"),
		StorageAPIKey:  getEnv("OG_STORAGE_API_KEY", ""),
		AllowLocalCIDs: getEnvBool("ALLOW_LOCAL_RECEIPTS", false),

		// Ops alerts
		BotToken:  getEnv("BOT_TOKEN", ""),
		OpsChatID: getEnvInt64("OPS_CHAT_ID", 0),

		// Reconciliation sweeper
		SweepIntervalSeconds: getEnvInt("SWEEP_INTERVAL_SECONDS", 300),
	}

	// A non-positive interval would break the sweeper's ticker.
	if cfg.SweepIntervalSeconds <= 0 {
		cfg.SweepIntervalSeconds = 300
	}

	return cfg
}

// ChainConfigured reports whether all settings required for real
// on-chain settlement are present.
func (c *Config) ChainConfigured() bool {
	return c.RPCURL != "" && c.OperatorPrivateKey != "" && c.USDCAddress != ""
}

// StorageConfigured reports whether the receipt storage endpoint is usable.
func (c *Config) StorageConfigured() bool {
	return c.StorageURL != "" && c.StorageAPIKey != ""
}

// AlertsConfigured reports whether operator alerts can be delivered.
func (c *Config) AlertsConfigured() bool {
	return c.BotToken != "" && c.OpsChatID != 0
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
