// Package config はアプリケーション設定を読み込む。
//
// 優先順位は 環境変数(PMOJI_*) > 設定ファイル(YAML) > デフォルト値。
// 例: server.port は PMOJI_SERVER_PORT で上書きできる。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix は環境変数のプレフィックス。
const envPrefix = "PMOJI"

// Config はアプリケーション全体の設定。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Port はリッスンポート。
	Port string `mapstructure:"port"`
	// CORSOrigins は許可するオリジン。"*" で全て許可する。
	CORSOrigins []string `mapstructure:"cors_origins"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig はSQLiteの設定。
type DatabaseConfig struct {
	// Path はデータベースファイルのパス。":memory:" でインメモリ。
	Path string `mapstructure:"path"`
}

// AuthConfig はJWTの設定。
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// RedisConfig はリアルタイム配信のRedisブリッジ設定。
// Addr が空の場合はプロセス内配信のみ行う。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	// Level は debug / info / warn / error。
	Level string `mapstructure:"level"`
	// Format は auto / json / text。auto は端末ならtext、それ以外はjson。
	Format string `mapstructure:"format"`
}

// AdminConfig は起動時に作成するスーパー管理者の情報。
// Email が空の場合は作成しない。
type AdminConfig struct {
	Name     string `mapstructure:"name"`
	Email    string `mapstructure:"email"`
	Phone    string `mapstructure:"phone"`
	Password string `mapstructure:"password"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.path", "pmoji.db")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "pmoji:notifications")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("admin.name", "")
	v.SetDefault("admin.email", "")
	v.SetDefault("admin.phone", "")
	v.SetDefault("admin.password", "")
}

// Load は設定を読み込む。pathが空の場合は設定ファイルを読まない。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate は必須項目と値の範囲を検証する。
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret が設定されていません"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl は正の値である必要があります"))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port が設定されていません"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path が設定されていません"))
	}
	switch c.Log.Format {
	case "auto", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format が不正です: %q", c.Log.Format))
	}
	if c.Admin.Email != "" && c.Admin.Password == "" {
		errs = append(errs, errors.New("admin.email を指定する場合は admin.password も必要です"))
	}
	return errors.Join(errs...)
}
