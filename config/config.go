package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis (cross-instance entity guard)
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`
	// When false the in-process guard is used; fine for a single instance
	RedisGuardEnabled bool `env:"REDIS_GUARD_ENABLED" env-default:"false"`

	// Kafka Producer (collaboration event mirror)
	KafkaBrokers        []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic    string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"collab-events"`
	KafkaBatchSize      int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout   int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks   int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression    string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`
	KafkaProducerEnabled bool    `env:"KAFKA_PRODUCER_ENABLED" env-default:"true"`

	// WebSocket settings
	WSReadBufferSize    int           `env:"WS_READ_BUFFER_SIZE" env-default:"4096"`
	WSWriteBufferSize   int           `env:"WS_WRITE_BUFFER_SIZE" env-default:"4096"`
	WSSendBufferSize    int           `env:"WS_SEND_BUFFER_SIZE" env-default:"256"`
	WSMaxMessageSize    int64         `env:"WS_MAX_MESSAGE_SIZE" env-default:"65536"`
	WSPingInterval      time.Duration `env:"WS_PING_INTERVAL" env-default:"30s"`
	WSPongTimeout       time.Duration `env:"WS_PONG_TIMEOUT" env-default:"60s"`
	WSWriteTimeout      time.Duration `env:"WS_WRITE_TIMEOUT" env-default:"10s"`

	// Collaboration settings
	// Default TTL for entity locks when the client does not request one
	LockDefaultTTL time.Duration `env:"LOCK_DEFAULT_TTL" env-default:"30m"`
	// How often the sweeper looks for expired locks and idle sessions
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" env-default:"1m"`
	// Enable/disable the background sweeper
	SweepEnabled bool `env:"SWEEP_ENABLED" env-default:"true"`
	// Sessions with no active participants for this long are ended
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" env-default:"30m"`
	// Presence entries older than this are marked offline
	PresenceStaleTimeout time.Duration `env:"PRESENCE_STALE_TIMEOUT" env-default:"2m"`

	// Tracing settings
	// Enable OTLP tracing export (set to true to send traces to collector)
	OTLPEnabled bool `env:"OTLP_ENABLED" env-default:"false"`
	// OTLP collector endpoint
	OTLPEndpoint string `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	// OTLP protocol (grpc or http)
	OTLPProtocol string `env:"OTLP_PROTOCOL" env-default:"grpc"`
	// Disable TLS for OTLP (for local development)
	OTLPInsecure bool `env:"OTLP_INSECURE" env-default:"true"`
}
