package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort        string
	AppEnv         string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	BINProviderURL     string
	BINProviderAPIKey  string
	BINProviderTimeout time.Duration
	BINFrontCacheTTL   time.Duration

	// Known BIN reference table: read from S3 when the bucket is set, otherwise from the local file.
	KnownBINsBucket string
	KnownBINsKey    string
	KnownBINsFile   string

	SNSRegion            string
	ConfirmationTopicARN string

	RequestTTL    time.Duration
	SweepInterval time.Duration
	AgentAPIKey   string

	AllowedOrigins []string // CORS allowed origins
	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users                 string
	ChannelBindings       string
	BINCache              string
	LookupHistory         string
	PendingRegistrations  string
	PendingPasswordResets string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:                 getEnv("DYNAMO_TABLE_USERS", "users"),
			ChannelBindings:       getEnv("DYNAMO_TABLE_CHANNEL_BINDINGS", "channel_bindings"),
			BINCache:              getEnv("DYNAMO_TABLE_BIN_CACHE", "bin_cache"),
			LookupHistory:         getEnv("DYNAMO_TABLE_LOOKUP_HISTORY", "lookup_history"),
			PendingRegistrations:  getEnv("DYNAMO_TABLE_PENDING_REGISTRATIONS", "pending_registrations"),
			PendingPasswordResets: getEnv("DYNAMO_TABLE_PENDING_PASSWORD_RESETS", "pending_password_resets"),
		},
		JWTPrivateKeyPath:    getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:     getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:            time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
		BINProviderURL:       getEnv("BIN_PROVIDER_URL", "https://api.bincheck.io/v2/bin"),
		BINProviderAPIKey:    getEnv("BIN_PROVIDER_API_KEY", ""),
		BINProviderTimeout:   getEnvDuration("BIN_PROVIDER_TIMEOUT", 10*time.Second),
		BINFrontCacheTTL:     getEnvDuration("BIN_FRONT_CACHE_TTL", 15*time.Minute),
		KnownBINsBucket:      getEnv("KNOWN_BINS_BUCKET", ""),
		KnownBINsKey:         getEnv("KNOWN_BINS_KEY", "reference/known_bins.json"),
		KnownBINsFile:        getEnv("KNOWN_BINS_FILE", "./known_bins.json"),
		SNSRegion:            getEnv("SNS_REGION", "us-east-1"),
		ConfirmationTopicARN: getEnv("CONFIRMATION_TOPIC_ARN", ""),
		RequestTTL:           getEnvDuration("REQUEST_TTL", 10*time.Minute),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", time.Hour),
		AgentAPIKey:          getEnv("AGENT_API_KEY", ""),
		AllowedOrigins:       strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustProxyHeaders:    getEnvBool("TRUST_PROXY_HEADERS", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "10m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
