package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/certifychain/server/internal/log"
)

const (
	BackendPostgres = "postgres"
	BackendFile     = "file"
)

// Config holds the application configuration
type Config struct {
	StorageBackend      string
	DatabaseURL         string
	DataDir             string
	Port                string
	JWTSecret           string
	JWTExpiresIn        time.Duration
	AppName             string
	NonceTTL            time.Duration
	AssignTokenOnCreate bool
	StatsLocation       *time.Location
	BcryptCost          int
	LogLevel            string
	LogFormat           string
	// TrustedProxies are the networks whose X-Forwarded-For headers are honored.
	TrustedProxies []netip.Prefix
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		StorageBackend: BackendPostgres,
		DataDir:        "./data",
		Port:           "8080",
		JWTExpiresIn:   7 * 24 * time.Hour,
		AppName:        "CertifyChain",
		NonceTTL:       15 * time.Minute,
		StatsLocation:  time.UTC,
		BcryptCost:     bcrypt.DefaultCost,
		LogLevel:       "info",
		LogFormat:      "text",
	}

	if backend := strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_BACKEND"))); backend != "" {
		if backend != BackendPostgres && backend != BackendFile {
			return nil, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendFile, backend)
		}
		cfg.StorageBackend = backend
	}

	// DATABASE_URL is only required for the postgres backend
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.StorageBackend == BackendPostgres {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required for the postgres backend")
		}
		if u, err := url.Parse(cfg.DatabaseURL); err == nil {
			log.Logger("config").Infof("DB connect: host=%s db=%s user=%s",
				orDefault(u.Hostname(), "localhost"), strings.TrimPrefix(u.Path, "/"), orDefault(u.User.Username(), "(none)"))
		}
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	// Load JWT_SECRET (required)
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	if v := os.Getenv("JWT_EXPIRES_IN"); v != "" {
		d, err := ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid JWT_EXPIRES_IN %q", v)
		}
		cfg.JWTExpiresIn = d
	}

	if name := strings.TrimSpace(os.Getenv("APP_NAME")); name != "" {
		cfg.AppName = name
	}

	if v := os.Getenv("NONCE_TTL"); v != "" {
		d, err := ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid NONCE_TTL %q", v)
		}
		cfg.NonceTTL = d
	}

	// Token ids are allocated locally by default only for the file backend;
	// with postgres they normally arrive from chain confirmation.
	cfg.AssignTokenOnCreate = cfg.StorageBackend == BackendFile
	if v := os.Getenv("ASSIGN_TOKEN_ON_CREATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ASSIGN_TOKEN_ON_CREATE %q", v)
		}
		cfg.AssignTokenOnCreate = b
	}

	if tz := os.Getenv("STATS_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid STATS_TIMEZONE %q: %w", tz, err)
		}
		cfg.StatsLocation = loc
	}

	if v := os.Getenv("BCRYPT_COST"); v != "" {
		cost, err := strconv.Atoi(v)
		if err != nil || cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return nil, fmt.Errorf("invalid BCRYPT_COST %q", v)
		}
		cfg.BcryptCost = cost
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		proxies, err := ParseTrustedProxies(v)
		if err != nil {
			return nil, err
		}
		cfg.TrustedProxies = proxies
	}

	return cfg, nil
}

// ParseTrustedProxies reads a comma-separated list of IP addresses and CIDR
// ranges, e.g. "10.0.0.0/8, 127.0.0.1".
func ParseTrustedProxies(list string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", item, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUSTED_PROXIES entry %q: %w", item, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// ParseDuration accepts Go durations plus a "d" (day) suffix, e.g. "7d".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
