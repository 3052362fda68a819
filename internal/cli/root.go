// Package cmd wires the cobra command tree for the sitewatch binary:
// "once" runs every configured site a single time and exits with a
// status code reflecting the outcome (spec.md 6); "run" stays resident
// and re-triggers each site on its own poll interval via cron.
package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rohmanhakim/sitewatch/internal/baseline"
	"github.com/rohmanhakim/sitewatch/internal/build"
	"github.com/rohmanhakim/sitewatch/internal/config"
	"github.com/rohmanhakim/sitewatch/internal/fetcher"
	"github.com/rohmanhakim/sitewatch/internal/metadata"
	"github.com/rohmanhakim/sitewatch/internal/orchestrator"
	"github.com/rohmanhakim/sitewatch/pkg/retry"
	"github.com/rohmanhakim/sitewatch/pkg/timeutil"
)

// Exit codes per spec.md 6.
const (
	ExitSuccess          = 0
	ExitPartialFailure   = 1
	ExitConfigError      = 2
	ExitDeadlineExceeded = 3
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sitewatch",
	Short: "Detects and reports content and structural changes on configured sites",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sitewatch build version",
	RunE: func(c *cobra.Command, args []string) error {
		fmt.Println(build.FullVersion())
		return nil
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run every configured site a single time and exit",
	RunE: func(c *cobra.Command, args []string) error {
		if cfgFile == "" {
			return fmt.Errorf("--config is required")
		}
		os.Exit(runOnce(cfgFile))
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run continuously, re-checking each site on its configured poll interval",
	RunE: func(c *cobra.Command, args []string) error {
		if cfgFile == "" {
			return fmt.Errorf("--config is required")
		}
		return runLoop(cfgFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the site configuration file (JSON or YAML)")
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the sitewatch command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ExitConfigError)
	}
}

func buildDeps(doc config.Document) (orchestrator.Deps, error) {
	recorder := metadata.NewRecorder(os.Stderr)

	opts := fetcher.Options{
		MaxConcurrentFetches: doc.Global.MaxConcurrentFetches,
		FetchTimeout:         doc.Global.FetchTimeout,
		RedirectCap:          doc.Global.RedirectCap,
		MaxBodyBytes:         doc.Global.MaxBodyBytesMiB * 1024 * 1024,
		BaseDelay:            doc.Global.BaseDelay,
		Jitter:               doc.Global.Jitter,
		AllowProxyFallback:   doc.Global.AllowProxyFallback,
	}
	if doc.Global.ProxyProvider == "tor" && doc.Global.ProxyAddress != "" {
		proxyURL, err := url.Parse("socks5://" + doc.Global.ProxyAddress)
		if err != nil {
			return orchestrator.Deps{}, fmt.Errorf("parsing proxy_address: %w", err)
		}
		opts.ProxyURL = proxyURL
	}

	f, err := fetcher.NewHTTPFetcher(recorder, opts)
	if err != nil {
		return orchestrator.Deps{}, fmt.Errorf("constructing fetcher: %w", err)
	}

	store := baseline.NewLocalStore(doc.Global.OutputRoot, recorder)

	retryParam := retry.NewRetryParam(
		doc.Global.RetryBaseDelay,
		doc.Global.Jitter,
		time.Now().UnixNano(),
		doc.Global.RetryMaxAttempts,
		timeutil.NewBackoffParam(doc.Global.RetryBaseDelay, 2.0, 30*time.Second),
	)

	return orchestrator.Deps{
		Fetcher:        f,
		Store:          store,
		Metadata:       recorder,
		Finalizer:      recorder,
		UserAgent:      doc.Global.UserAgent,
		RetryParam:     retryParam,
		BatchSize:      doc.Global.BatchSize,
		BusySiteWait:   doc.Global.BusySiteWait,
		OutputRoot:     doc.Global.OutputRoot,
		RetentionCount: doc.Global.RetentionCount,
	}, nil
}

func runOnce(path string) int {
	doc, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitConfigError
	}

	deps, err := buildDeps(doc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return ExitConfigError
	}

	ctx, cancel := context.WithTimeout(context.Background(), doc.Global.RunDeadline)
	defer cancel()

	runStartedAt := time.Now()
	results := orchestrator.RunAll(ctx, deps, doc.Sites, runStartedAt)

	if ctx.Err() == context.DeadlineExceeded {
		return ExitDeadlineExceeded
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed == 0 {
		return ExitSuccess
	}
	return ExitPartialFailure
}

// runLoop schedules each active site on its own cron entry keyed to its
// poll interval (spec.md 9 Open Question 1: "each site's configured
// poll_interval governs its own schedule independently").
func runLoop(path string) error {
	doc, err := config.Load(path)
	if err != nil {
		return err
	}
	deps, err := buildDeps(doc)
	if err != nil {
		return err
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	c := cron.New()
	for _, site := range doc.Sites {
		site := site
		if !site.Active {
			continue
		}
		spec := fmt.Sprintf("@every %s", site.PollInterval.String())
		_, err := c.AddFunc(spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), doc.Global.RunDeadline)
			defer cancel()
			result := orchestrator.RunSite(ctx, deps, site, time.Now())
			if result.Err != nil {
				logger.Warn().Str("site_id", site.SiteID).Err(result.Err).Msg("site run finished with errors")
			}
		})
		if err != nil {
			return fmt.Errorf("scheduling site %s: %w", site.SiteID, err)
		}
	}

	c.Start()
	defer c.Stop()

	select {}
}
