package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	BasePath    string   `yaml:"base_path"`
	BaseURL     string   `yaml:"base_url"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type S3 struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

type LiveKit struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type Auth struct {
	JWTSecret            string        `yaml:"jwt_secret"`
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl"`
	MemberTokenTTL       time.Duration `yaml:"member_token_ttl"`
	InitialAdminUser     string        `yaml:"initial_admin_user"`
	InitialAdminPassword string        `yaml:"initial_admin_password"`
}

type Rooms struct {
	IDRandomLength      int           `yaml:"id_random_length"`
	MinAutoDeletionLead time.Duration `yaml:"min_auto_deletion_lead"`
	ExpirationGCCron    string        `yaml:"expiration_gc_cron"`
	StatusGCCron        string        `yaml:"status_gc_cron"`
}

type Recordings struct {
	StartTimeout     time.Duration `yaml:"start_timeout"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
	OrphanGCInterval time.Duration `yaml:"orphan_gc_interval"`
}

type Webhooks struct {
	DedupTTL time.Duration `yaml:"dedup_ttl"`
	LRUSize  int           `yaml:"lru_size"`
}

type Config struct {
	ReplicaID  string     `yaml:"replica_id"`
	LogLevel   string     `yaml:"log_level"`
	DevMode    bool       `yaml:"dev_mode"`
	Server     Server     `yaml:"server"`
	Redis      Redis      `yaml:"redis"`
	NATS       NATS       `yaml:"nats"`
	S3         S3         `yaml:"s3"`
	LiveKit    LiveKit    `yaml:"livekit"`
	Auth       Auth       `yaml:"auth"`
	Rooms      Rooms      `yaml:"rooms"`
	Recordings Recordings `yaml:"recordings"`
	Webhooks   Webhooks   `yaml:"webhooks"`
}

// Load reads the optional YAML file named by MEET_CONFIG (or the given path),
// applies environment overrides, then defaults and validates. A missing file
// is not an error; missing secrets are.
func Load(path string) (*Config, error) {
	// .env is a development convenience; ignore absence.
	_ = godotenv.Load()

	cfg := &Config{}

	if path == "" {
		path = os.Getenv("MEET_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envString(&c.ReplicaID, "MEET_REPLICA_ID")
	envString(&c.LogLevel, "MEET_LOG_LEVEL")
	envBool(&c.DevMode, "MEET_DEV_MODE")

	envString(&c.Server.Host, "MEET_HOST")
	envInt(&c.Server.Port, "MEET_PORT")
	envString(&c.Server.BasePath, "MEET_BASE_PATH")
	envString(&c.Server.BaseURL, "MEET_BASE_URL")

	envString(&c.Redis.Addr, "REDIS_ADDR")
	envString(&c.Redis.Password, "REDIS_PASSWORD")
	envInt(&c.Redis.DB, "REDIS_DB")

	envString(&c.NATS.URL, "NATS_URL")

	envString(&c.S3.Region, "S3_REGION")
	envString(&c.S3.Endpoint, "S3_ENDPOINT")
	envString(&c.S3.AccessKeyID, "S3_ACCESS_KEY_ID")
	envString(&c.S3.SecretAccessKey, "S3_SECRET_ACCESS_KEY")
	envString(&c.S3.Bucket, "S3_BUCKET")
	envBool(&c.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	envString(&c.LiveKit.URL, "LIVEKIT_URL")
	envString(&c.LiveKit.APIKey, "LIVEKIT_API_KEY")
	envString(&c.LiveKit.APISecret, "LIVEKIT_API_SECRET")

	envString(&c.Auth.JWTSecret, "JWT_SIGNING_KEY")
	envString(&c.Auth.InitialAdminUser, "MEET_INITIAL_ADMIN_USER")
	envString(&c.Auth.InitialAdminPassword, "MEET_INITIAL_ADMIN_PASSWORD")
}

func (c *Config) applyDefaults() {
	if c.ReplicaID == "" {
		host, _ := os.Hostname()
		c.ReplicaID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 6080
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "meet.events"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.MemberTokenTTL == 0 {
		c.Auth.MemberTokenTTL = 6 * time.Hour
	}
	if c.Auth.InitialAdminUser == "" {
		c.Auth.InitialAdminUser = "admin"
	}
	if c.Rooms.IDRandomLength == 0 {
		c.Rooms.IDRandomLength = 6
	}
	if c.Rooms.MinAutoDeletionLead == 0 {
		c.Rooms.MinAutoDeletionLead = time.Hour
	}
	if c.Rooms.ExpirationGCCron == "" {
		c.Rooms.ExpirationGCCron = "* * * * *"
	}
	if c.Rooms.StatusGCCron == "" {
		c.Rooms.StatusGCCron = "* * * * *"
	}
	if c.Recordings.StartTimeout == 0 {
		c.Recordings.StartTimeout = 30 * time.Second
	}
	if c.Recordings.LockTTL == 0 {
		c.Recordings.LockTTL = 5 * time.Minute
	}
	if c.Recordings.OrphanGCInterval == 0 {
		c.Recordings.OrphanGCInterval = 2 * time.Minute
	}
	if c.Webhooks.DedupTTL == 0 {
		c.Webhooks.DedupTTL = 30 * time.Second
	}
	if c.Webhooks.LRUSize == 0 {
		c.Webhooks.LRUSize = 4096
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("config: JWT_SIGNING_KEY is required")
	}
	if c.LiveKit.URL == "" || c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "" {
		return errors.New("config: LIVEKIT_URL, LIVEKIT_API_KEY and LIVEKIT_API_SECRET are required")
	}
	if c.S3.Bucket == "" {
		return errors.New("config: S3_BUCKET is required")
	}
	if c.Rooms.IDRandomLength < 4 || c.Rooms.IDRandomLength > 32 {
		return fmt.Errorf("config: rooms.id_random_length %d out of range [4,32]", c.Rooms.IDRandomLength)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
