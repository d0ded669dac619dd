// Package config loads server settings from defaults, optional json5 files,
// and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// Config holds every runtime setting.
type Config struct {
	CORSOrigin       string
	HTTPCacheDir     string
	HTTPCacheTTL     time.Duration
	UpstreamTimeout  time.Duration
	UpstreamRPS      float64
	Port             int
	CacheMaxEntries  int
	Retries          uint
	BrowserCookies   bool
	CloudflareBypass bool
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:            3001,
		UpstreamTimeout: 20 * time.Second,
		HTTPCacheTTL:    5 * time.Minute,
		Retries:         1,
		CORSOrigin:      "*",
	}
}

// Addr returns the listen address for Port.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// fileConfig is the on-disk shape. Durations are strings such as "20s".
type fileConfig struct {
	Port             int     `json:"port"`
	UpstreamTimeout  string  `json:"upstream_timeout"`
	HTTPCacheDir     string  `json:"http_cache_dir"`
	HTTPCacheTTL     string  `json:"http_cache_ttl"`
	BrowserCookies   bool    `json:"browser_cookies"`
	CloudflareBypass bool    `json:"cloudflare_bypass"`
	UpstreamRPS      float64 `json:"upstream_rps"`
	Retries          uint    `json:"retries"`
	CacheMaxEntries  int     `json:"cache_max_entries"`
	CORSOrigin       string  `json:"cors_origin"`
}

// Load builds a Config. When path is non-empty the file and its
// "<name>.local.<ext>" sibling are merged over the defaults, with the local
// file winning; at least one of them must exist. Environment variables are
// applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fc, err := readFiles(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := cfg.applyFile(fc); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFiles(name string) (fileConfig, error) {
	var out fileConfig
	found := false

	data, err := os.ReadFile(name)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return out, err
	}
	if len(data) > 0 {
		if err := json5.Unmarshal(data, &out); err != nil {
			return out, err
		}
		found = true
	}

	localName := localPath(name)
	data, err = os.ReadFile(localName)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return out, err
	}
	if len(data) > 0 {
		var override fileConfig
		if err := json5.Unmarshal(data, &override); err != nil {
			return out, err
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, err
		}
		slog.Info("merging config with local overrides", "local", localName)
		found = true
	}

	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// localPath maps "dir/config.json5" to "dir/config.local.json5".
func localPath(name string) string {
	dir, base := filepath.Split(name)
	ext := filepath.Ext(base)
	if ext == "" {
		return filepath.Join(dir, base+".local")
	}
	return filepath.Join(dir, strings.TrimSuffix(base, ext)+".local"+ext)
}

func (c *Config) applyFile(fc fileConfig) error {
	if fc.UpstreamTimeout != "" {
		d, err := time.ParseDuration(fc.UpstreamTimeout)
		if err != nil {
			return fmt.Errorf("upstream_timeout: %w", err)
		}
		c.UpstreamTimeout = d
	}
	if fc.HTTPCacheTTL != "" {
		d, err := time.ParseDuration(fc.HTTPCacheTTL)
		if err != nil {
			return fmt.Errorf("http_cache_ttl: %w", err)
		}
		c.HTTPCacheTTL = d
	}
	over := Config{
		Port:             fc.Port,
		HTTPCacheDir:     fc.HTTPCacheDir,
		BrowserCookies:   fc.BrowserCookies,
		CloudflareBypass: fc.CloudflareBypass,
		UpstreamRPS:      fc.UpstreamRPS,
		Retries:          fc.Retries,
		CacheMaxEntries:  fc.CacheMaxEntries,
		CORSOrigin:       fc.CORSOrigin,
	}
	return mergo.Merge(c, over, mergo.WithOverride)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	fail := func(name, v string, err error) {
		errs = append(errs, fmt.Errorf("%s=%q: %w", name, v, err))
	}

	if v, ok := get("PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			fail("PORT", v, errors.New("not a valid port"))
		} else {
			c.Port = n
		}
	}
	if v, ok := get("PLATZI_UPSTREAM_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err != nil {
			fail("PLATZI_UPSTREAM_TIMEOUT", v, err)
		} else {
			c.UpstreamTimeout = d
		}
	}
	if v, ok := get("PLATZI_HTTP_CACHE_DIR"); ok {
		c.HTTPCacheDir = v
	}
	if v, ok := get("PLATZI_HTTP_CACHE_TTL"); ok {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			fail("PLATZI_HTTP_CACHE_TTL", v, errors.New("not a positive duration"))
		} else {
			c.HTTPCacheTTL = d
		}
	}
	if v, ok := get("PLATZI_BROWSER_COOKIES"); ok {
		if b, err := strconv.ParseBool(v); err != nil {
			fail("PLATZI_BROWSER_COOKIES", v, err)
		} else {
			c.BrowserCookies = b
		}
	}
	if v, ok := get("PLATZI_CLOUDFLARE_BYPASS"); ok {
		if b, err := strconv.ParseBool(v); err != nil {
			fail("PLATZI_CLOUDFLARE_BYPASS", v, err)
		} else {
			c.CloudflareBypass = b
		}
	}
	if v, ok := get("PLATZI_UPSTREAM_RPS"); ok {
		if f, err := strconv.ParseFloat(v, 64); err != nil || f < 0 {
			fail("PLATZI_UPSTREAM_RPS", v, errors.New("not a non-negative number"))
		} else {
			c.UpstreamRPS = f
		}
	}
	if v, ok := get("PLATZI_CACHE_MAX_ENTRIES"); ok {
		if n, err := strconv.Atoi(v); err != nil || n < 0 {
			fail("PLATZI_CACHE_MAX_ENTRIES", v, errors.New("not a non-negative integer"))
		} else {
			c.CacheMaxEntries = n
		}
	}
	if v, ok := get("PLATZI_RETRIES"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err != nil || n == 0 {
			fail("PLATZI_RETRIES", v, errors.New("not a positive integer"))
		} else {
			c.Retries = uint(n)
		}
	}
	if v, ok := get("PLATZI_CORS_ORIGIN"); ok {
		c.CORSOrigin = v
	}
	return errors.Join(errs...)
}
