package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/platziprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/platziprofile/pkg/profile"
)

var (
	fetchTable    bool
	fetchNoCache  bool
	fetchCacheTTL time.Duration
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <username>",
	Short: "Prints one aggregated profile.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger()

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var upstreamCache httpcache.Cacher
		if fetchNoCache {
			c := httpcache.NewNull()
			defer closeHTTPCache(c, logger)
			upstreamCache = c
		} else if c := openHTTPCache(cfg.HTTPCacheDir, fetchCacheTTL, logger); c != nil {
			defer closeHTTPCache(c, logger)
			upstreamCache = c
		}

		svc, err := newService(ctx, cfg, upstreamCache, logger)
		if err != nil {
			return err
		}

		p, err := svc.Profile(ctx, args[0])
		if err != nil {
			return err
		}

		if fetchTable {
			renderTable(os.Stdout, p)
			return nil
		}
		return outputJSON(os.Stdout, p)
	},
}

func init() {
	f := fetchCmd.Flags()
	f.BoolVar(&fetchTable, "table", false, "print a summary and course table instead of JSON")
	f.BoolVar(&fetchNoCache, "no-cache", false, "disable the on-disk upstream response cache")
	f.DurationVar(&fetchCacheTTL, "cache-ttl", httpcache.DefaultTTL, "upstream response cache time-to-live")
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(w io.Writer, p *profile.Profile) {
	fmt.Fprintf(w, "%s (@%s) %s\n", p.Name, p.Username, p.Country)
	fmt.Fprintf(w, "points %d, answers %d, questions %d, %d/%d courses completed\n\n",
		p.Points, p.Answers, p.Questions, p.CompletedCourses(), len(p.Courses))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Course", "Progress", "Approved", "Diploma"})

	for i, c := range p.Courses {
		approved := "-"
		if c.ApprovedDate != nil {
			approved = *c.ApprovedDate
		}
		title := c.Title
		if c.Deprecated {
			title += " (deprecated)"
		}
		t.AppendRow(table.Row{i + 1, title, fmt.Sprintf("%.0f%%", c.Completed), approved, c.DiplomaURL})
	}

	t.SetStyle(table.StyleRounded)
	t.Render()
}
