package config

import "time"

// Config holds runtime configuration for the drydock pipeline engine.
type Config struct {
	Environment string
	LogLevel    string
	MetricsAddr string

	// Source control.
	Workdir    string
	GitTimeout time.Duration

	// Image building.
	DockerHost   string
	Registry     string
	BuildTimeout time.Duration

	// Remote execution.
	SSHUser        string
	SSHKeyPath     string
	SSHPort        int
	CommandTimeout time.Duration

	// Security gate.
	ScanPolicy string

	// Rolling deployment.
	WarmUp            time.Duration
	HealthDuration    time.Duration
	HealthInterval    time.Duration
	PassRateThreshold float64

	// Event sink.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	EventChannel  string

	// Persistence.
	DatabaseURL string
}

// Load constructs a Config from environment variables with the engine's
// documented defaults.
func Load() Config {
	return Config{
		Environment: GetString("APP_ENV", "development"),
		LogLevel:    GetString("LOG_LEVEL", "info"),
		MetricsAddr: GetString("METRICS_ADDR", ":9090"),

		Workdir:    GetString("DRYDOCK_WORKDIR", "/tmp/drydock"),
		GitTimeout: GetSeconds("GIT_TIMEOUT_SECONDS", 60),

		DockerHost:   GetString("DOCKER_HOST", ""),
		Registry:     GetString("DOCKER_REGISTRY", "drydock"),
		BuildTimeout: GetSeconds("BUILD_TIMEOUT_SECONDS", 900),

		SSHUser:        GetString("SSH_USER", "deploy"),
		SSHKeyPath:     GetString("SSH_KEY_PATH", ""),
		SSHPort:        GetInt("SSH_PORT", 22),
		CommandTimeout: GetSeconds("COMMAND_TIMEOUT_SECONDS", 30),

		ScanPolicy: GetString("SCAN_POLICY", "strict"),

		WarmUp:            GetSeconds("DEPLOY_WARMUP_SECONDS", 15),
		HealthDuration:    GetSeconds("HEALTH_WINDOW_SECONDS", 120),
		HealthInterval:    GetSeconds("HEALTH_INTERVAL_SECONDS", 10),
		PassRateThreshold: GetFloat("HEALTH_PASS_RATE", 0.70),

		RedisAddr:     GetString("REDIS_ADDR", ""),
		RedisPassword: GetString("REDIS_PASSWORD", ""),
		RedisDB:       GetInt("REDIS_DB", 0),
		EventChannel:  GetString("EVENT_CHANNEL", "drydock:pipeline"),

		DatabaseURL: GetString("DATABASE_URL", ""),
	}
}
