package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config クライアント・バックエンド共通の設定
// YAMLファイルの値を環境変数で上書きする
type Config struct {
	Client   ClientConfig `yaml:"client"`
	Server   ServerConfig `yaml:"server"`
	Redis    RedisConfig  `yaml:"redis"`
	LogLevel string       `yaml:"log_level"`
}

// ClientConfig farmsync の設定
type ClientConfig struct {
	APIURL      string        `yaml:"api_url"`
	Debounce    time.Duration `yaml:"debounce"`
	CacheDriver string        `yaml:"cache_driver"` // memory | sqlite | redis
	CachePath   string        `yaml:"cache_path"`
}

// ServerConfig farmd の設定
type ServerConfig struct {
	Port                 string `yaml:"port"`
	StorageDriver        string `yaml:"storage_driver"` // memory | postgres | supabase | firestore
	DatabaseURL          string `yaml:"database_url"`
	SupabaseURL          string `yaml:"supabase_url"`
	SupabaseAnonKey      string `yaml:"supabase_anon_key"`
	FirestoreProjectID   string `yaml:"firestore_project_id"`
	FirestoreCredentials string `yaml:"firestore_credentials"`
	AuthToken            string `yaml:"auth_token"`
	AuthEmail            string `yaml:"auth_email"`
	AuthPassword         string `yaml:"auth_password"`
}

// RedisConfig Redisキャッシュの接続先
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr host:port
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// DefaultConfig 設定ファイルも環境変数もない場合の値
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			APIURL:      "http://localhost:8080",
			Debounce:    800 * time.Millisecond,
			CacheDriver: "sqlite",
			CachePath:   "agromind-cache.db",
		},
		Server: ServerConfig{
			Port:          "8080",
			StorageDriver: "memory",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		LogLevel: "info",
	}
}

// Load path のYAMLを読み込み、環境変数で上書きする
// path が空か存在しない場合は既定値から始める
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	setString(&c.Client.APIURL, "AGROMIND_API_URL")
	setString(&c.Client.CacheDriver, "AGROMIND_CACHE_DRIVER")
	setString(&c.Client.CachePath, "AGROMIND_CACHE_PATH")
	if v := os.Getenv("AGROMIND_DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("AGROMIND_DEBOUNCE の形式が不正です: %w", err)
		}
		c.Client.Debounce = d
	}

	setString(&c.Server.Port, "PORT")
	setString(&c.Server.StorageDriver, "STORAGE_DRIVER")
	setString(&c.Server.DatabaseURL, "DATABASE_URL")
	setString(&c.Server.SupabaseURL, "SUPABASE_URL")
	setString(&c.Server.SupabaseAnonKey, "SUPABASE_ANON_KEY")
	setString(&c.Server.FirestoreProjectID, "FIRESTORE_PROJECT_ID")
	setString(&c.Server.FirestoreCredentials, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&c.Server.AuthToken, "AUTH_TOKEN")
	setString(&c.Server.AuthEmail, "AUTH_EMAIL")
	setString(&c.Server.AuthPassword, "AUTH_PASSWORD")

	setString(&c.Redis.Host, "REDIS_HOST")
	setString(&c.Redis.Port, "REDIS_PORT")
	setString(&c.Redis.Password, "REDIS_PASS")
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB の形式が不正です: %w", err)
		}
		c.Redis.DB = db
	}

	setString(&c.LogLevel, "LOG_LEVEL")
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
