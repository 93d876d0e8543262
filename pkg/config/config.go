package config

import (
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for one zonemarket process.
type Config struct {
	ServiceName string
	Env         string // "dev", "uat", "prod"
	LogLevel    string
	Port        int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int

	// Hosted REST backend (PostgREST dialect).
	BackendURL      string
	BackendTimeout  time.Duration
	BackendRetryMax int
	BackendRPS      int
	BackendBurst    int
	PlayersTable    string // overloaded player/market table
	PlayerColumn    string
	SystemTable     string // system rows such as the food signals
	SystemColumn    string
	MarketRow       string // sentinel identifier holding zone counts
	FoodRow         string // sentinel identifier holding food signals
	StartingDollars float64
	LeaderboardSize int

	StoreBackend      string // "rest" or "postgres"
	DatabaseURL       string
	PGMaxConns        int
	PGMinConns        int
	PGMaxConnLifetime time.Duration

	// Credentials: "file" reads the game's SupabaseConfig.json, "aws" uses Secrets Manager.
	CredentialsSource string
	CredentialsPath   string
	CredentialsKey    string
	AWSRegion         string
	AWSSecretName     string
	SecretCacheTTL    time.Duration

	// Pricing.
	ZonesFile    string
	Zones        []string
	BaseRate     float64
	GrowthFactor float64
	CountPolicy  string // "per_zone" or "last_entered"

	FlushInterval       time.Duration
	FoodPollInterval    time.Duration
	LeaderboardInterval time.Duration

	PoopSchedulerEnabled bool
	PoopMinInterval      time.Duration
	PoopMaxInterval      time.Duration

	// Optional infrastructure; empty address disables the component.
	RedisAddr     string
	RedisDB       int
	RedisPass     string
	CacheTTL      time.Duration
	NATSURL       string
	EventsSubject string
	EventsStream  string
	AMQPURL       string
	EngineQueue   string
}

// Load reads configuration from the environment and a .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName: GetEnv("SERVICE_NAME", "zonemarket"),
		Env:         GetEnv("ENV", "dev"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		Port:        GetEnvInt("PORT", 9020),

		HTTPReadTimeout:  GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    GetEnvInt("HTTP_BODY_LIMIT", 64*1024),

		BackendURL:        GetEnv("BACKEND_URL", "https://maxpibvwwratozsmdvyd.supabase.co"),
		BackendTimeout:    GetEnvDuration("BACKEND_TIMEOUT", 10*time.Second),
		BackendRetryMax:   GetEnvInt("BACKEND_RETRY_MAX", 2),
		BackendRPS:        GetEnvInt("BACKEND_RPS", 10),
		BackendBurst:      GetEnvInt("BACKEND_BURST", 20),
		PlayersTable:      GetEnv("PLAYERS_TABLE", "AiPoopers"),
		PlayerColumn:      GetEnv("PLAYER_COLUMN", "Player"),
		SystemTable:       GetEnv("SYSTEM_TABLE", "AiPoopersSystem"),
		SystemColumn:      GetEnv("SYSTEM_COLUMN", "Field"),
		MarketRow:         GetEnv("MARKET_ROW", "Market"),
		FoodRow:           GetEnv("FOOD_ROW", "Food"),
		StartingDollars:   GetEnvFloat("STARTING_DOLLARS", 100),
		LeaderboardSize:   GetEnvInt("LEADERBOARD_SIZE", 10),
		StoreBackend:      GetEnv("STORE_BACKEND", "rest"),
		DatabaseURL:       GetEnv("DATABASE_URL", ""),
		PGMaxConns:        GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:        GetEnvInt("PG_MIN_CONNS", 1),
		PGMaxConnLifetime: GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),

		CredentialsSource: GetEnv("CREDENTIALS_SOURCE", "file"),
		CredentialsPath:   GetEnv("CREDENTIALS_PATH", "Assets/Config/SupabaseConfig.json"),
		CredentialsKey:    GetEnv("CREDENTIALS_KEY", "ANON_KEY"),
		AWSRegion:         GetEnv("AWS_REGION", "us-east-2"),
		AWSSecretName:     GetEnv("AWS_SECRET_NAME", "zonemarket/backend"),
		SecretCacheTTL:    GetEnvDuration("SECRET_CACHE_TTL", 1*time.Hour),

		ZonesFile:    GetEnv("ZONES_FILE", ""),
		Zones:        GetEnvList("ZONES", []string{"Blue", "Purple", "Yellow", "Green"}),
		BaseRate:     GetEnvFloat("BASE_RATE", 20),
		GrowthFactor: GetEnvFloat("GROWTH_FACTOR", 1.1),
		CountPolicy:  GetEnv("COUNT_POLICY", "per_zone"),

		FlushInterval:       GetEnvDuration("FLUSH_INTERVAL", 2*time.Second),
		FoodPollInterval:    GetEnvDuration("FOOD_POLL_INTERVAL", 1*time.Second),
		LeaderboardInterval: GetEnvDuration("LEADERBOARD_INTERVAL", 5*time.Second),

		PoopSchedulerEnabled: GetEnvBool("POOP_SCHEDULER_ENABLED", false),
		PoopMinInterval:      GetEnvDuration("POOP_MIN_INTERVAL", 5*time.Second),
		PoopMaxInterval:      GetEnvDuration("POOP_MAX_INTERVAL", 15*time.Second),

		RedisAddr:     GetEnv("REDIS_ADDR", ""),
		RedisDB:       GetEnvInt("REDIS_DB", 0),
		RedisPass:     GetEnv("REDIS_PASS", ""),
		CacheTTL:      GetEnvDuration("CACHE_TTL", 10*time.Minute),
		NATSURL:       GetEnv("NATS_URL", ""),
		EventsSubject: GetEnv("EVENTS_SUBJECT", "evt.zonemarket"),
		EventsStream:  GetEnv("EVENTS_STREAM", "ZONEMARKET_EVENTS"),
		AMQPURL:       GetEnv("AMQP_URL", ""),
		EngineQueue:   GetEnv("ENGINE_QUEUE", "engine.events"),
	}
}
