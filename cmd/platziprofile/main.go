// Command platziprofile serves and fetches aggregated Platzi student profiles.
//
// Usage:
//
//	platziprofile serve                 # HTTP API on $PORT (default 3001)
//	platziprofile fetch ada             # print a profile as JSON
//	platziprofile fetch ada --table     # print the course list as a table
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/platziprofile/pkg/aggregator"
	"github.com/codeGROOVE-dev/platziprofile/pkg/config"
	"github.com/codeGROOVE-dev/platziprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/platziprofile/pkg/platzi"
	"github.com/codeGROOVE-dev/platziprofile/pkg/profilecache"
)

var (
	configPath     string
	debug          bool
	logFormat      string
	browserCookies bool
	cloudflare     bool
)

var rootCmd = &cobra.Command{
	Use:           "platziprofile",
	Short:         "platziprofile aggregates public Platzi student profiles and diplomas.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to a json5 config file (a .local sibling overrides it)")
	pf.BoolVarP(&debug, "debug", "v", false, "enable debug logging")
	pf.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	pf.BoolVar(&browserCookies, "browser-cookies", false, "read platzi.com session cookies from local browsers")
	pf.BoolVar(&cloudflare, "cloudflare-bypass", false, "use Cloudflare-friendly TLS settings upstream")

	rootCmd.AddCommand(serveCmd, fetchCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1) //nolint:gocritic // exitAfterDefer is acceptable in main
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// loadConfig reads the config and applies flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("browser-cookies") {
		cfg.BrowserCookies = browserCookies
	}
	if flags.Changed("cloudflare-bypass") {
		cfg.CloudflareBypass = cloudflare
	}
	return cfg, nil
}

// newService wires the upstream client, caches, and aggregator from cfg.
func newService(ctx context.Context, cfg *config.Config, httpCache httpcache.Cacher, logger *slog.Logger) (*aggregator.Service, error) {
	opts := []platzi.Option{
		platzi.WithLogger(logger),
		platzi.WithTimeout(cfg.UpstreamTimeout),
		platzi.WithRateLimit(cfg.UpstreamRPS),
		platzi.WithAttempts(cfg.Retries),
	}
	if httpCache != nil {
		opts = append(opts, platzi.WithHTTPCache(httpCache))
	}
	if cfg.BrowserCookies {
		opts = append(opts, platzi.WithBrowserCookies())
	}
	if cfg.CloudflareBypass {
		opts = append(opts, platzi.WithCloudflareBypass())
	}

	client, err := platzi.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("platzi client: %w", err)
	}

	cache := profilecache.New(
		profilecache.WithMaxEntries(cfg.CacheMaxEntries),
		profilecache.WithLogger(logger),
	)
	return aggregator.New(client, aggregator.WithCache(cache), aggregator.WithLogger(logger)), nil
}

// openHTTPCache returns a disk-backed upstream response cache, or nil when
// it cannot be opened. The caller must close a non-nil cache.
func openHTTPCache(dir string, ttl time.Duration, logger *slog.Logger) *httpcache.Cache {
	var (
		c   *httpcache.Cache
		err error
	)
	if dir == "" {
		c, err = httpcache.New(ttl)
	} else {
		c, err = httpcache.NewWithPath(ttl, dir)
	}
	if err != nil {
		logger.Warn("failed to initialize HTTP cache, continuing without cache", "error", err)
		return nil
	}
	logger.Debug("HTTP cache initialized", "ttl", ttl.String(), "dir", dir)
	return c
}

func closeHTTPCache(c *httpcache.Cache, logger *slog.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("failed to close cache", "error", err)
	}
}
