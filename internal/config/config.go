// ==============================================
// Configuration for the realtime relay and client core
// Env-driven, no config files
// ==============================================

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ==============================================
// Main Configuration Structure
// ==============================================

type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	WebRTC   WebRTCConfig
	Client   ClientConfig
	Call     CallConfig
}

// ==============================================
// Application Configuration
// ==============================================

type AppConfig struct {
	Name        string
	Version     string
	Environment string
	Port        string
	Debug       bool
}

// ==============================================
// Server Configuration
// ==============================================

type ServerConfig struct {
	HTTP      HTTPConfig
	WebSocket WebSocketConfig
	Polling   PollingConfig
	CORS      CORSConfig
}

type HTTPConfig struct {
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	SendBufferSize  int
}

// PollingConfig drives the long-poll fallback transport
type PollingConfig struct {
	Wait       time.Duration // how long a GET is held open without frames
	SessionTTL time.Duration // idle time after which a polling session is dropped
	MaxBatch   int
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// ==============================================
// Database Configuration
// ==============================================

type DatabaseConfig struct {
	Driver  string // mongo or memory
	MongoDB MongoConfig
	Redis   RedisConfig
}

type MongoConfig struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	MinPoolSize            uint64
	MaxConnIdleTime        time.Duration
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	HeartbeatInterval      time.Duration
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Password string
	DB       int
	PoolSize int
	Prefix   string
}

// ==============================================
// Security Configuration
// ==============================================

type SecurityConfig struct {
	JWT JWTConfig
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// ==============================================
// WebRTC Configuration
// ==============================================

type WebRTCConfig struct {
	STUNServers   []string
	TURNServers   []string
	TURNSecret    string
	CredentialTTL time.Duration
}

// ==============================================
// Client Core Configuration
// ==============================================

type ClientConfig struct {
	ServerURL            string
	Transports           []string // tried in order: websocket, polling
	Reconnection         bool
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	AttemptTimeout       time.Duration
	EnsureTimeout        time.Duration
	ProbePath            string
	RequestTimeout       time.Duration
}

type CallConfig struct {
	STUNServers     []string
	SetupTimeout    time.Duration // outbound call unanswered
	FallbackTimeout time.Duration // still negotiating, assume active
}

// ==============================================
// Configuration Loading Functions
// ==============================================

func Load() *Config {
	cfg := &Config{
		App:      loadAppConfig(),
		Server:   loadServerConfig(),
		Database: loadDatabaseConfig(),
		Security: loadSecurityConfig(),
		WebRTC:   loadWebRTCConfig(),
		Client:   loadClientConfig(),
		Call:     loadCallConfig(),
	}
	cfg.ApplyEnvironmentOverrides()
	return cfg
}

func loadAppConfig() AppConfig {
	return AppConfig{
		Name:        getEnv("APP_NAME", "socialchat-relay"),
		Version:     getEnv("APP_VERSION", "1.0.0"),
		Environment: getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		Debug:       getEnvAsBool("DEBUG", false),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		HTTP: HTTPConfig{
			Host:         getEnv("HTTP_HOST", "0.0.0.0"),
			ReadTimeout:  getEnvAsDuration("HTTP_READ_TIMEOUT", "30s"),
			WriteTimeout: getEnvAsDuration("HTTP_WRITE_TIMEOUT", "40s"),
			IdleTimeout:  getEnvAsDuration("HTTP_IDLE_TIMEOUT", "60s"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER", 1024),
			PingPeriod:      getEnvAsDuration("WS_PING_PERIOD", "25s"),
			PongWait:        getEnvAsDuration("WS_PONG_WAIT", "30s"),
			WriteWait:       getEnvAsDuration("WS_WRITE_WAIT", "10s"),
			MaxMessageSize:  getEnvAsInt64("WS_MAX_MESSAGE_SIZE", 1<<20),
			SendBufferSize:  getEnvAsInt("WS_SEND_BUFFER", 256),
		},
		Polling: PollingConfig{
			Wait:       getEnvAsDuration("POLL_WAIT", "25s"),
			SessionTTL: getEnvAsDuration("POLL_SESSION_TTL", "60s"),
			MaxBatch:   getEnvAsInt("POLL_MAX_BATCH", 64),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getEnvAsSlice("CORS_ORIGINS", "http://localhost:3000"),
			AllowCredentials: getEnvAsBool("CORS_CREDENTIALS", true),
		},
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: getEnv("STORE_DRIVER", "mongo"),
		MongoDB: MongoConfig{
			URI:                    getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:               getEnv("MONGODB_DATABASE", "socialchat"),
			MaxPoolSize:            getEnvAsUint64("MONGODB_MAX_POOL_SIZE", 100),
			MinPoolSize:            getEnvAsUint64("MONGODB_MIN_POOL_SIZE", 5),
			MaxConnIdleTime:        getEnvAsDuration("MONGODB_MAX_IDLE_TIME", "30m"),
			ConnectTimeout:         getEnvAsDuration("MONGODB_CONNECT_TIMEOUT", "10s"),
			ServerSelectionTimeout: getEnvAsDuration("MONGODB_SERVER_SELECTION_TIMEOUT", "5s"),
			HeartbeatInterval:      getEnvAsDuration("MONGODB_HEARTBEAT_INTERVAL", "10s"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
			Prefix:   getEnv("REDIS_PREFIX", "socialchat:"),
		},
	}
}

func loadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		JWT: JWTConfig{
			Secret:   getEnv("JWT_SECRET", ""),
			Issuer:   getEnv("JWT_ISSUER", ""),
			Audience: getEnv("JWT_AUDIENCE", ""),
		},
	}
}

func loadWebRTCConfig() WebRTCConfig {
	return WebRTCConfig{
		STUNServers:   getEnvAsSlice("STUN_SERVERS", strings.Join(DefaultSTUNServers, ",")),
		TURNServers:   getEnvAsSlice("TURN_SERVERS", ""),
		TURNSecret:    getEnv("TURN_SECRET", ""),
		CredentialTTL: getEnvAsDuration("TURN_CREDENTIAL_TTL", "24h"),
	}
}

func loadClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:            getEnv("CHAT_SERVER_URL", "http://localhost:8080"),
		Transports:           getEnvAsSlice("CHAT_TRANSPORTS", "websocket,polling"),
		Reconnection:         getEnvAsBool("CHAT_RECONNECTION", true),
		ReconnectionAttempts: getEnvAsInt("CHAT_RECONNECTION_ATTEMPTS", 5),
		ReconnectionDelay:    getEnvAsDuration("CHAT_RECONNECTION_DELAY", "1s"),
		ReconnectionDelayMax: getEnvAsDuration("CHAT_RECONNECTION_DELAY_MAX", "5s"),
		AttemptTimeout:       getEnvAsDuration("CHAT_ATTEMPT_TIMEOUT", "10s"),
		EnsureTimeout:        getEnvAsDuration("CHAT_ENSURE_TIMEOUT", "5s"),
		ProbePath:            getEnv("CHAT_PROBE_PATH", "/health"),
		RequestTimeout:       getEnvAsDuration("CHAT_REQUEST_TIMEOUT", "15s"),
	}
}

func loadCallConfig() CallConfig {
	return CallConfig{
		STUNServers:     getEnvAsSlice("CALL_STUN_SERVERS", strings.Join(DefaultSTUNServers, ",")),
		SetupTimeout:    getEnvAsDuration("CALL_SETUP_TIMEOUT", "30s"),
		FallbackTimeout: getEnvAsDuration("CALL_FALLBACK_TIMEOUT", "10s"),
	}
}

// DefaultSTUNServers are the public STUN servers used when none are configured
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun.cloudflare.com:3478",
}

// DefaultClientConfig returns the client defaults without reading the environment
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ServerURL:            "http://localhost:8080",
		Transports:           []string{"websocket", "polling"},
		Reconnection:         true,
		ReconnectionAttempts: 5,
		ReconnectionDelay:    time.Second,
		ReconnectionDelayMax: 5 * time.Second,
		AttemptTimeout:       10 * time.Second,
		EnsureTimeout:        5 * time.Second,
		ProbePath:            "/health",
		RequestTimeout:       15 * time.Second,
	}
}

// DefaultCallConfig returns the call defaults without reading the environment
func DefaultCallConfig() CallConfig {
	return CallConfig{
		STUNServers:     append([]string(nil), DefaultSTUNServers...),
		SetupTimeout:    30 * time.Second,
		FallbackTimeout: 10 * time.Second,
	}
}

// ==============================================
// Helper Functions
// ==============================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsSlice(key string, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ==============================================
// Configuration Validation
// ==============================================

func (c *Config) Validate() error {
	if c.Security.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.Database.Driver {
	case "mongo", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Database.Driver)
	}
	if c.Client.ReconnectionAttempts < 0 {
		return fmt.Errorf("CHAT_RECONNECTION_ATTEMPTS must not be negative")
	}
	for _, t := range c.Client.Transports {
		if t != "websocket" && t != "polling" {
			return fmt.Errorf("unknown transport %q", t)
		}
	}
	if c.Call.FallbackTimeout <= 0 || c.Call.SetupTimeout <= 0 {
		return fmt.Errorf("call timeouts must be positive")
	}
	return nil
}

// ==============================================
// Environment-specific Configuration
// ==============================================

func (c *Config) ApplyEnvironmentOverrides() {
	switch c.App.Environment {
	case "development":
		c.applyDevelopmentOverrides()
	case "test":
		c.applyTestOverrides()
	case "production":
		c.applyProductionOverrides()
	}
}

func (c *Config) applyDevelopmentOverrides() {
	c.App.Debug = true
	c.Server.CORS.AllowedOrigins = append(c.Server.CORS.AllowedOrigins, "http://localhost:3001")
}

func (c *Config) applyTestOverrides() {
	c.Database.Driver = "memory"
	c.Database.Redis.Enabled = false
}

func (c *Config) applyProductionOverrides() {
	c.App.Debug = false
	c.Database.Driver = "mongo"
}
