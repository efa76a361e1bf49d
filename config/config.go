package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds every tunable named in the spec's enumerated configuration
// section (§6), with the defaults given there.
type Config struct {
	// Nozzle identity and transport
	NozzleID   string
	TankID     int
	SerialPath string
	SerialBaud int

	// Timeouts and retry budgets (spec §4.4, §6)
	UARTResponseTimeout    time.Duration
	RFIDRetryInterval      time.Duration
	RFIDTotalBudget        time.Duration
	DRFSubmitTimeout       time.Duration
	NozzleHeartbeatBudget  time.Duration
	AppCommBudgetActive    time.Duration
	AppInformTimeout       time.Duration
	MeterReadTimeout       time.Duration
	MeterStabilityN        int
	MeterStabilityDuration time.Duration
	PersistStepLiters      float64
	MaxRFIDRetries         int
	TickInterval           time.Duration

	// Interrupted-state retry budget. The source computes this from a
	// unit-confused constant (spec §9 Open Questions); here it is derived
	// explicitly from a named outer ceiling instead.
	MaxInterruptDuration time.Duration

	// Fleet directory
	DirectoryURL      string
	DirectoryUser     string
	DirectoryPassword string

	// Operator surface
	OperatorSharedSecret string
	OperatorAddr         string
	UploadDir            string

	// Alerting (internal/notify). WebhookURL and TelegramBotToken are
	// both optional; when neither is set, alerts fall back to the
	// process log.
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string

	// Infrastructure
	RedisAddr   string
	SQLitePath  string
	MetricsAddr string
}

// Load reads configuration from environment variables with sensible
// defaults, following the teacher's mustEnv/getEnv split: values with no
// safe default are required, everything else falls back.
func Load() *Config {
	return &Config{
		NozzleID:   getEnv("NOZZLE_ID", "0076"),
		TankID:     mustEnvInt("TANK_ID"),
		SerialPath: getEnv("SERIAL_PATH", "/dev/ttyUSB0"),
		SerialBaud: getEnvInt("SERIAL_BAUD", 460800),

		UARTResponseTimeout:    getEnvMillis("UART_RESPONSE_TIMEOUT_MS", 5000),
		RFIDRetryInterval:      getEnvMillis("RFID_RETRY_INTERVAL_MS", 5000),
		RFIDTotalBudget:        getEnvMillis("RFID_TOTAL_BUDGET_MS", 180000),
		DRFSubmitTimeout:       getEnvMillis("DRF_SUBMIT_TIMEOUT_MS", 120000),
		NozzleHeartbeatBudget:  getEnvMillis("NOZZLE_HEARTBEAT_BUDGET_MS", 40000),
		AppCommBudgetActive:    getEnvMillis("APP_COMM_BUDGET_MS", 600000),
		AppInformTimeout:       getEnvMillis("APP_INFORM_TIMEOUT_MS", 10000),
		MeterReadTimeout:       getEnvMillis("METER_READ_TIMEOUT_MS", 5000),
		MeterStabilityN:        getEnvInt("METER_STABILITY_N", 2),
		MeterStabilityDuration: getEnvMillis("METER_STABILITY_DURATION_MS", 5000),
		PersistStepLiters:      getEnvFloat("PERSIST_STEP_LITERS", 1.0),
		MaxRFIDRetries:         getEnvInt("MAX_RFID_RETRIES", 100),
		TickInterval:           getEnvMillis("TICK_INTERVAL_MS", 1000),
		MaxInterruptDuration:   getEnvMillis("MAX_INTERRUPT_DURATION_MS", 180000),

		DirectoryURL:      mustEnv("FLEET_DIRECTORY_URL"),
		DirectoryUser:     mustEnv("FLEET_DIRECTORY_USER"),
		DirectoryPassword: mustEnv("FLEET_DIRECTORY_PASSWORD"),

		OperatorSharedSecret: mustEnv("OPERATOR_SHARED_SECRET"),
		OperatorAddr:         getEnv("OPERATOR_ADDR", ":8080"),
		UploadDir:            getEnv("UPLOAD_DIR", "uploads"),

		WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("ALERT_TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("ALERT_TELEGRAM_CHAT_ID", ""),

		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		SQLitePath:  getEnv("SQLITE_PATH", "data/refill.db"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9100"),
	}
}

// InterruptRetryBudget returns how many 5s rfid_get attempts fit within
// MaxInterruptDuration — the spec's fix for the source's off-by-unit bug.
func (c *Config) InterruptRetryBudget() int {
	if c.RFIDRetryInterval <= 0 {
		return 0
	}
	return int(c.MaxInterruptDuration / c.RFIDRetryInterval)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func mustEnvInt(key string) int {
	v := mustEnv(key)
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("[config] env var %s must be an integer: %v", key, err)
	}
	return n
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s=%q, using default %f", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvMillis(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMs)) * time.Millisecond
}
