package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	IMAP    IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Fetch   FetchConfig   `mapstructure:"fetch" yaml:"fetch"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`
}

type IMAPConfig struct {
	Host               string        `mapstructure:"host" yaml:"host"`
	Port               int           `mapstructure:"port" yaml:"port"`
	TLS                bool          `mapstructure:"tls" yaml:"tls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Driver             string        `mapstructure:"driver" yaml:"driver"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type AuthConfig struct {
	Username         string `mapstructure:"username" yaml:"username"`
	Password         string `mapstructure:"password" yaml:"password"`
	PasswordEncoding string `mapstructure:"password_encoding" yaml:"password_encoding"`
	PasswordSource   string `mapstructure:"-" yaml:"-"`
}

type FetchConfig struct {
	Mailbox     string `mapstructure:"mailbox" yaml:"mailbox"`
	MaxMessages int    `mapstructure:"max_messages" yaml:"max_messages"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	JWTSecret      string   `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// ArchiveConfig points at an S3 compatible bucket that receives a copy of
// every raw message. Archiving is off unless Bucket is set.
type ArchiveConfig struct {
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint"`
	Region          string `mapstructure:"region" yaml:"region"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

func (a ArchiveConfig) Enabled() bool {
	return strings.TrimSpace(a.Bucket) != ""
}

const (
	DriverNative  = "native"
	DriverLibrary = "library"

	EncodingPlain  = "plain"
	EncodingBase64 = "base64"
)

func DefaultConfig() Config {
	return Config{
		IMAP: IMAPConfig{
			Port:    993,
			TLS:     true,
			Driver:  DriverNative,
			Timeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			PasswordEncoding: EncodingPlain,
		},
		Fetch: FetchConfig{
			Mailbox:     "INBOX",
			MaxMessages: 20,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			Prefix: "raw",
			UseSSL: true,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func Save(cfg Config) (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}

	return path, nil
}

func Redact(cfg Config) Config {
	masked := cfg
	if masked.Auth.Password != "" {
		masked.Auth.Password = "****"
	}
	if masked.Store.DSN != "" && strings.Contains(masked.Store.DSN, "@") {
		masked.Store.DSN = "****"
	}
	if masked.Server.JWTSecret != "" {
		masked.Server.JWTSecret = "****"
	}
	if masked.Archive.SecretAccessKey != "" {
		masked.Archive.SecretAccessKey = "****"
	}
	return masked
}

func setDefaults(v *viper.Viper, cfg Config) {
	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("imap.host", cfg.IMAP.Host)
	v.SetDefault("imap.port", cfg.IMAP.Port)
	v.SetDefault("imap.tls", cfg.IMAP.TLS)
	v.SetDefault("imap.insecure_skip_verify", cfg.IMAP.InsecureSkipVerify)
	v.SetDefault("imap.driver", cfg.IMAP.Driver)
	v.SetDefault("imap.timeout", cfg.IMAP.Timeout)

	v.SetDefault("auth.username", cfg.Auth.Username)
	v.SetDefault("auth.password", cfg.Auth.Password)
	v.SetDefault("auth.password_encoding", cfg.Auth.PasswordEncoding)

	v.SetDefault("fetch.mailbox", cfg.Fetch.Mailbox)
	v.SetDefault("fetch.max_messages", cfg.Fetch.MaxMessages)

	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.dsn", cfg.Store.DSN)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.jwt_secret", cfg.Server.JWTSecret)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)

	v.SetDefault("archive.endpoint", cfg.Archive.Endpoint)
	v.SetDefault("archive.region", cfg.Archive.Region)
	v.SetDefault("archive.bucket", cfg.Archive.Bucket)
	v.SetDefault("archive.prefix", cfg.Archive.Prefix)
	v.SetDefault("archive.access_key_id", cfg.Archive.AccessKeyID)
	v.SetDefault("archive.secret_access_key", cfg.Archive.SecretAccessKey)
	v.SetDefault("archive.use_ssl", cfg.Archive.UseSSL)
}

func Validate(cfg Config) error {
	if err := ValidateIMAP(cfg); err != nil {
		return err
	}
	if err := ValidateArchive(cfg); err != nil {
		return err
	}
	return ValidateStore(cfg)
}

func ValidateArchive(cfg Config) error {
	if !cfg.Archive.Enabled() {
		return nil
	}
	if cfg.Archive.Endpoint == "" {
		return fmt.Errorf("archive.endpoint is required when archive.bucket is set")
	}
	if cfg.Archive.AccessKeyID == "" || cfg.Archive.SecretAccessKey == "" {
		return fmt.Errorf("archive credentials are required when archive.bucket is set")
	}
	return nil
}

func ValidateIMAP(cfg Config) error {
	if cfg.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if cfg.IMAP.Port <= 0 || cfg.IMAP.Port > 65535 {
		return fmt.Errorf("imap.port %d is out of range", cfg.IMAP.Port)
	}
	switch cfg.IMAP.Driver {
	case "", DriverNative, DriverLibrary:
	default:
		return fmt.Errorf("imap.driver must be %q or %q, got %q", DriverNative, DriverLibrary, cfg.IMAP.Driver)
	}
	if cfg.Auth.Username == "" {
		return fmt.Errorf("auth.username is required")
	}
	if cfg.Auth.Password == "" {
		return fmt.Errorf("auth.password is required")
	}
	switch cfg.Auth.PasswordEncoding {
	case "", EncodingPlain, EncodingBase64:
	default:
		return fmt.Errorf("auth.password_encoding must be %q or %q", EncodingPlain, EncodingBase64)
	}
	return nil
}

func ValidateStore(cfg Config) error {
	switch cfg.Store.Driver {
	case "sqlite":
	case "pgx", "postgres":
		if cfg.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", cfg.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or pgx, got %q", cfg.Store.Driver)
	}
	return nil
}
