// internal/config/config.go
//
// 本檔負責載入服務設定。優先順序：預設值 < YAML 檔 < 環境變數。
// 核心（bank）不讀取任何設定，只透過建構參數接收容量與單筆上限。

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultPath 為未指定 -config 時嘗試讀取的檔案。
const DefaultPath = "configs/config.yaml"

// Config 為完整服務設定。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// ServerConfig 的 CORSOrigins 只在非開發環境生效；開發環境一律允許所有來源。
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Environment string   `yaml:"environment"`
	CORSOrigins []string `yaml:"corsOrigins"`
}

// LedgerConfig 對應 bank.Ledger 的建構選項。
// MaxTransactionAmount 為空字串代表不限制。
type LedgerConfig struct {
	MaxAccounts          int    `yaml:"maxAccounts"`
	MaxTransactionAmount string `yaml:"maxTransactionAmount"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// RateLimitConfig 為每個來源位址的 token bucket；RPS <= 0 代表關閉。
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Default 回傳預設設定。
func Default() Config {
	return Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8000, Environment: "development"},
		Ledger:    LedgerConfig{MaxAccounts: 1000, MaxTransactionAmount: "10000"},
		Log:       LogConfig{Level: "info"},
		RateLimit: RateLimitConfig{RPS: 0, Burst: 20},
	}
}

// Load 讀取設定。path 為空時嘗試 DefaultPath，檔案不存在則只套用預設值與環境變數；
// 明確指定的 path 讀取失敗則回傳錯誤。
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv 套用環境變數覆寫（名稱沿用部署平台慣例，例如 PORT）。
// lookup 通常為 os.LookupEnv，測試時可替換。
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := get("PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = n
	}
	if v, ok := get("ENVIRONMENT"); ok {
		cfg.Server.Environment = v
	}
	if v, ok := get("RENDER_EXTERNAL_URL"); ok {
		cfg.Server.CORSOrigins = []string{v}
	}
	if v, ok := get("CORS_ORIGINS"); ok {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v, ok := get("MAX_ACCOUNTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_ACCOUNTS: %w", err)
		}
		cfg.Ledger.MaxAccounts = n
	}
	if v, ok := lookup("MAX_TRANSACTION_AMOUNT"); ok {
		// 明確設為空字串可關閉上限
		cfg.Ledger.MaxTransactionAmount = strings.TrimSpace(v)
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := get("RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RPS = f
	}
	if v, ok := get("RATE_LIMIT_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimit.Burst = n
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate 檢查設定是否可用。
func (c Config) Validate() error {
	if c.Ledger.MaxAccounts <= 0 {
		return fmt.Errorf("maxAccounts must be > 0, got %d", c.Ledger.MaxAccounts)
	}
	if _, _, err := c.Ledger.MaxAmount(); err != nil {
		return err
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Server.Port)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rateLimit.burst must be > 0 when rps is set")
	}
	return nil
}

// MaxAmount 解析單筆上限；ok=false 代表未設定。
func (c LedgerConfig) MaxAmount() (limit decimal.Decimal, ok bool, err error) {
	raw := strings.TrimSpace(c.MaxTransactionAmount)
	if raw == "" {
		return decimal.Decimal{}, false, nil
	}
	limit, err = decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("maxTransactionAmount: %w", err)
	}
	if !limit.IsPositive() {
		return decimal.Decimal{}, false, fmt.Errorf("maxTransactionAmount must be > 0, got %s", limit)
	}
	return limit, true, nil
}

// SlogLevel 將文字層級轉成 slog.Level。
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(c.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// Addr 回傳 http.Server 監聽位址。
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Debug 代表開發環境。
func (c ServerConfig) Debug() bool {
	return c.Environment == "development"
}

// AllowedOrigins 回傳 CORS 允許的來源：開發環境或未設定時為 "*"。
func (c ServerConfig) AllowedOrigins() []string {
	if c.Debug() || len(c.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return c.CORSOrigins
}
