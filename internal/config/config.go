package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	LogLevel      string `mapstructure:"log_level"`
	Server        struct {
		Address         string        `mapstructure:"address"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Store struct {
		// Backend is one of file, memory, postgres, redis.
		Backend string `mapstructure:"backend"`
		Dir     string `mapstructure:"dir"`
	} `mapstructure:"store"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`
	Oracle struct {
		URL              string        `mapstructure:"url"`
		GenerateTimeout  time.Duration `mapstructure:"generate_timeout"`
		VerifyTimeout    time.Duration `mapstructure:"verify_timeout"`
		StepSize         int           `mapstructure:"step_size"`
		HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	} `mapstructure:"oracle"`
	Wallet struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"wallet"`
	Transfer struct {
		URL                string                       `mapstructure:"url"`
		APIKey             string                       `mapstructure:"api_key"`
		Timeout            time.Duration                `mapstructure:"timeout"`
		StatusDelay        time.Duration                `mapstructure:"status_delay"`
		StatusPollAttempts int                          `mapstructure:"status_poll_attempts"`
		Recipients         map[string]map[string]string `mapstructure:"recipients"`
	} `mapstructure:"transfer"`
	Executor struct {
		StepDelay time.Duration `mapstructure:"step_delay"`
	} `mapstructure:"executor"`
	NATS struct {
		Enabled       bool   `mapstructure:"enabled"`
		URL           string `mapstructure:"url"`
		SubjectPrefix string `mapstructure:"subject_prefix"`
	} `mapstructure:"nats"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// IsDev reports whether the service runs in the development environment.
func (c *Config) IsDev() bool {
	return strings.ToUpper(c.Environment) == "DEV"
}

// LoadConfig loads the configuration from a file and the environment. When
// path is empty config.yaml is looked up in . and ./config; a missing file
// is not an error and leaves the defaults in place.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	config.Store.Backend = strings.ToLower(strings.TrimSpace(config.Store.Backend))

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "DEV")
	v.SetDefault("dev_mode_bypass", true)
	v.SetDefault("log_level", "INFO")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.dir", "./data/workflows")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "workflow")
	v.SetDefault("oracle.url", "ws://localhost:8001/ws")
	v.SetDefault("oracle.generate_timeout", 10*time.Minute)
	v.SetDefault("oracle.verify_timeout", 2*time.Minute)
	v.SetDefault("oracle.step_size", 50)
	v.SetDefault("oracle.handshake_timeout", 10*time.Second)
	v.SetDefault("wallet.timeout", 5*time.Minute)
	v.SetDefault("transfer.url", "http://localhost:3003")
	v.SetDefault("transfer.timeout", 30*time.Second)
	v.SetDefault("transfer.status_delay", 5*time.Second)
	v.SetDefault("transfer.status_poll_attempts", 1)
	v.SetDefault("executor.step_delay", 3*time.Second)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "workflows")
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	iss := strings.TrimSpace(input)
	return strings.TrimRight(iss, "/")
}
