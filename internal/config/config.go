package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	DashboardTTLSeconds    int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	BcryptCost             int
	BarcodeDir             string
	LoginAttemptsPerMinute int
	MaxImportBytes         int64
	SeedAdminPassword      string
	SeedCashierPassword    string
}

// Load reads the process environment, optionally overlaid by a .env file in
// the working directory. Secrets have no defaults.
func Load() Config {
	return LoadFrom(".env")
}

func LoadFrom(envFile string) Config {
	v := viper.New()
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				log.Printf("[config] WARNING: failed to read %s: %v", envFile, err)
			}
		}
	}

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DASHBOARD_TTL_SECONDS", 15)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("BCRYPT_COST", bcrypt.DefaultCost)
	v.SetDefault("LOGIN_ATTEMPTS_PER_MINUTE", 5)
	v.SetDefault("MAX_IMPORT_BYTES", 10<<20)

	cfg := Config{
		Port:                   v.GetString("PORT"),
		AllowedOrigin:          v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:              strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		DashboardTTLSeconds:    positiveOr(v.GetInt("DASHBOARD_TTL_SECONDS"), 15),
		AuthSecret:             strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:  positiveOr(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		BcryptCost:             v.GetInt("BCRYPT_COST"),
		BarcodeDir:             strings.TrimSpace(v.GetString("BARCODE_DIR")),
		LoginAttemptsPerMinute: positiveOr(v.GetInt("LOGIN_ATTEMPTS_PER_MINUTE"), 5),
		MaxImportBytes:         v.GetInt64("MAX_IMPORT_BYTES"),
		SeedAdminPassword:      v.GetString("SEED_ADMIN_PASSWORD"),
		SeedCashierPassword:    v.GetString("SEED_CASHIER_PASSWORD"),
	}
	if cfg.MaxImportBytes < 1 {
		cfg.MaxImportBytes = 10 << 20
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) DashboardTTL() time.Duration {
	return time.Duration(c.DashboardTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func positiveOr(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}
