package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string

	BotToken    string
	BotUsername string
	AdminIDs    []int64

	// CryptoPay gateway credentials. The API key signs outbound requests and
	// inbound webhook bodies; the webhook secret is a path segment of the
	// callback URL so stray POSTs are dropped before any parsing.
	CryptoPayURL       string
	CryptoPayMerchant  string
	CryptoPayAPIKey    string
	WebhookSecret      string
	AllowedGatewayIPs  []string

	// PublicBaseURL is where the gateway reaches us for callbacks.
	PublicBaseURL string
	HTTPAddr      string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "boostup_bot"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		BotUsername: getEnv("BOT_USERNAME", ""),
		AdminIDs:    parseIDList(getEnv("ADMIN_IDS", "")),

		CryptoPayURL:      getEnv("CRYPTOPAY_API_URL", "https://api.cryptopay.example/v1"),
		CryptoPayMerchant: getEnv("CRYPTOPAY_MERCHANT_ID", ""),
		CryptoPayAPIKey:   getEnv("CRYPTOPAY_API_KEY", ""),
		WebhookSecret:     getEnv("CRYPTOPAY_WEBHOOK_SECRET", ""),
		AllowedGatewayIPs: parseList(getEnv("CRYPTOPAY_ALLOWED_CIDR", "")),

		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDList(raw string) []int64 {
	var ids []int64
	for _, part := range parseList(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			log.Printf("Skipping invalid admin id %q: %v", part, err)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
