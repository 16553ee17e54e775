package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	AppPort       string
	DBDSN         string
	JWTSecret     string
	JWTExpiresMin int

	// Platform fee retained on release, in percent of the escrow amount.
	FeePercentage decimal.Decimal

	// Payment gateway selection: mock | stripe | chapa
	GatewayProvider    string
	GatewaySuccessRate float64
	GatewayLatency     time.Duration
	GatewayTimeout     time.Duration

	RedisAddr     string
	RedisPassword string
	OTPTTL        time.Duration
}

func Load() Config {
	expires, _ := strconv.Atoi(get("JWT_EXPIRES_MIN", "10080"))

	fee, err := parseFeePercentage(os.Getenv("PLATFORM_FEE_PERCENTAGE"))
	if err != nil {
		panic("invalid PLATFORM_FEE_PERCENTAGE: " + err.Error())
	}

	rate, _ := strconv.ParseFloat(get("GATEWAY_SUCCESS_RATE", "0.9"), 64)
	latencyMs, _ := strconv.Atoi(get("GATEWAY_LATENCY_MS", "1000"))
	timeoutSec, _ := strconv.Atoi(get("GATEWAY_TIMEOUT_SEC", "15"))
	otpTTLMin, _ := strconv.Atoi(get("OTP_TTL_MIN", "10"))

	return Config{
		AppPort:            get("APP_PORT", "8080"),
		DBDSN:              must("DB_DSN"),
		JWTSecret:          must("JWT_SECRET"),
		JWTExpiresMin:      expires,
		FeePercentage:      fee,
		GatewayProvider:    get("PAYMENT_GATEWAY", "mock"),
		GatewaySuccessRate: rate,
		GatewayLatency:     time.Duration(latencyMs) * time.Millisecond,
		GatewayTimeout:     time.Duration(timeoutSec) * time.Second,
		RedisAddr:          get("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      get("REDIS_PASSWORD", ""),
		OTPTTL:             time.Duration(otpTTLMin) * time.Minute,
	}
}

// parseFeePercentage treats an unset value as 0% but rejects garbage outright:
// silently coercing a typo to 0 would make every release fee-free.
func parseFeePercentage(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func get(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func must(k string) string {
	v := os.Getenv(k)
	if v == "" {
		panic("missing env: " + k)
	}
	return v
}
