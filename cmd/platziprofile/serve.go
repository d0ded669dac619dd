package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/platziprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/platziprofile/pkg/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the profile API and image proxy over HTTP.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Port = servePort
		}

		// Profiles are already cached in memory; a disk cache of raw upstream
		// responses is only used when a directory is configured. Its TTL should
		// not exceed the profile TTL or stale pages outlive cached profiles.
		var upstreamCache httpcache.Cacher
		if cfg.HTTPCacheDir != "" {
			if c := openHTTPCache(cfg.HTTPCacheDir, cfg.HTTPCacheTTL, logger); c != nil {
				defer closeHTTPCache(c, logger)
				upstreamCache = c
			}
		}

		svc, err := newService(ctx, cfg, upstreamCache, logger)
		if err != nil {
			return err
		}

		srv := server.New(svc,
			server.WithLogger(logger),
			server.WithStats(svc.Cache()),
			server.WithCORSOrigin(cfg.CORSOrigin),
			server.WithImageClient(&http.Client{Timeout: cfg.UpstreamTimeout}),
		)
		return srv.Run(ctx, cfg.Addr())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 3001, "listen port (overrides PORT)")
}
