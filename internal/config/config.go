package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxTeamMembers         = 6
	DefaultEmailInviteExpiry      = 7 * 24 * time.Hour
	DefaultReferralRewardCredits  = 50
	DefaultStartingCredits        = 10
	DefaultLowBalanceThreshold    = 5
	DefaultSweepCron              = "0 3 * * *"
	DefaultAuditLogRetentionDays  = 90
	defaultEmailInviteExpiryHours = 7 * 24
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	JWT       JWTConfig       `yaml:"jwt"`
	Redis     RedisConfig     `yaml:"redis"`
	Team      TeamConfig      `yaml:"team"`
	Credits   CreditsConfig   `yaml:"credits"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Email     EmailConfig     `yaml:"email"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	Mode      string `yaml:"mode"` // debug, release, test
	PublicURL string `yaml:"public_url"`
	// AllowedOrigins lists browser origins for CORS. Empty allows any origin
	// without credentials.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string `yaml:"driver"` // sqlite, mysql, postgres
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
	SlowQueryMs     int    `yaml:"slow_query_ms"`
}

// JWTConfig holds the verification settings for identity-provider tokens.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// RedisConfig for optional async effect delivery
type RedisConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	Password    string `yaml:"password"`
	DB          int    `yaml:"db"`
	Concurrency int    `yaml:"concurrency"`
	MaxRetry    int    `yaml:"max_retry"`
}

// TeamConfig bounds project membership.
type TeamConfig struct {
	MaxMembers             int `yaml:"max_members"`
	EmailInviteExpiryHours int `yaml:"email_invite_expiry_hours"`
}

// EmailInviteExpiry returns how long an email invitation stays acceptable.
func (t *TeamConfig) EmailInviteExpiry() time.Duration {
	if t.EmailInviteExpiryHours <= 0 {
		return DefaultEmailInviteExpiry
	}
	return time.Duration(t.EmailInviteExpiryHours) * time.Hour
}

// Limit returns the effective membership cap.
func (t *TeamConfig) Limit() int {
	if t.MaxMembers <= 0 {
		return DefaultMaxTeamMembers
	}
	return t.MaxMembers
}

type CreditsConfig struct {
	StartingGrant       int64 `yaml:"starting_grant"`
	ReferralReward      int64 `yaml:"referral_reward"`
	LowBalanceThreshold int64 `yaml:"low_balance_threshold"`
}

type SchedulerConfig struct {
	Enabled               bool   `yaml:"enabled"`
	SweepCron             string `yaml:"sweep_cron"`
	AuditLogRetentionDays int    `yaml:"audit_log_retention_days"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	UseTLS   bool   `yaml:"use_tls"`
}

// WebhookConfig guards the payment webhook route.
type WebhookConfig struct {
	Secret       string  `yaml:"secret"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	Burst        int     `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      "8080",
			Mode:      "debug",
			PublicURL: "http://localhost:8080",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "starter-kit.db",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30,
			SlowQueryMs:     200,
		},
		JWT: JWTConfig{
			Secret: "starter-kit-secret-key-change-in-production",
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			DB:          0,
			Concurrency: 4,
			MaxRetry:    5,
		},
		Team: TeamConfig{
			MaxMembers:             DefaultMaxTeamMembers,
			EmailInviteExpiryHours: defaultEmailInviteExpiryHours,
		},
		Credits: CreditsConfig{
			StartingGrant:       DefaultStartingCredits,
			ReferralReward:      DefaultReferralRewardCredits,
			LowBalanceThreshold: DefaultLowBalanceThreshold,
		},
		Scheduler: SchedulerConfig{
			Enabled:               true,
			SweepCron:             DefaultSweepCron,
			AuditLogRetentionDays: DefaultAuditLogRetentionDays,
		},
		Email: EmailConfig{
			Port: 587,
		},
		Webhook: WebhookConfig{
			RateLimitRPS: 10,
			Burst:        20,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if publicURL := os.Getenv("PUBLIC_URL"); publicURL != "" {
		c.Server.PublicURL = strings.TrimSuffix(publicURL, "/")
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.AllowedOrigins = append(c.Server.AllowedOrigins, o)
			}
		}
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Database.MaxOpenConns = n
		}
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if issuer := os.Getenv("JWT_ISSUER"); issuer != "" {
		c.JWT.Issuer = issuer
	}
	if v := os.Getenv("MAX_TEAM_MEMBERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Team.MaxMembers = n
		}
	}
	if v := os.Getenv("REFERRAL_REWARD_CREDITS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Credits.ReferralReward = n
		}
	}
	if v := os.Getenv("STARTING_CREDITS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			c.Credits.StartingGrant = n
		}
	}
	if cron := os.Getenv("SWEEP_CRON"); cron != "" {
		c.Scheduler.SweepCron = cron
	}
	if secret := os.Getenv("PAYMENT_WEBHOOK_SECRET"); secret != "" {
		c.Webhook.Secret = secret
	}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		c.Email.Enabled = true
		c.Email.Host = host
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		c.Email.Username = user
	}
	if pass := os.Getenv("SMTP_PASSWORD"); pass != "" {
		c.Email.Password = pass
	}
	if from := os.Getenv("SMTP_FROM"); from != "" {
		c.Email.From = from
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
