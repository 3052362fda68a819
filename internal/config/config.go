// Package config loads the external structured text file (JSON or
// YAML) that supplies SiteConfig and GlobalOptions at startup (spec.md
// 6). Unknown keys are rejected at parse time rather than silently
// accepted (spec.md 9: "replace with an explicit SiteConfig value type
// and a GlobalOptions value type").
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rohmanhakim/sitewatch/internal/domain"
)

// GlobalOptions is the process-wide options bundle spec.md 6 names:
// {max_concurrent_fetches, fetch_timeout, batch_size, retention_count,
// output_root}, expanded with the remaining knobs the Fetcher and
// orchestrator need.
type GlobalOptions struct {
	MaxConcurrentFetches int
	FetchTimeout         time.Duration
	BatchSize            int
	RetentionCount       int
	OutputRoot           string
	UserAgent            string
	RedirectCap          int
	MaxBodyBytesMiB      int64
	RunDeadline          time.Duration
	BusySiteWait         time.Duration
	BaseDelay            time.Duration
	Jitter               time.Duration
	RetryMaxAttempts     int
	RetryBaseDelay       time.Duration
	ProxyProvider        string // "" or "tor"
	ProxyAddress         string
	AllowProxyFallback   bool
}

func defaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		MaxConcurrentFetches: 20,
		FetchTimeout:         15 * time.Second,
		BatchSize:            20,
		RetentionCount:       30,
		OutputRoot:           "output",
		UserAgent:            "sitewatch/1.0",
		RedirectCap:          10,
		MaxBodyBytesMiB:      20,
		RunDeadline:          30 * time.Minute,
		BusySiteWait:         60 * time.Second,
		BaseDelay:            100 * time.Millisecond,
		Jitter:               25 * time.Millisecond,
		RetryMaxAttempts:     3,
		RetryBaseDelay:       time.Second,
	}
}

// Document is the fully parsed configuration: the global options bundle
// plus every configured site.
type Document struct {
	Global GlobalOptions
	Sites  []domain.SiteConfig
}

type globalDTO struct {
	MaxConcurrentFetches *int     `json:"max_concurrent_fetches,omitempty" yaml:"max_concurrent_fetches,omitempty"`
	FetchTimeout         *string  `json:"fetch_timeout,omitempty" yaml:"fetch_timeout,omitempty"`
	BatchSize            *int     `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	RetentionCount       *int     `json:"retention_count,omitempty" yaml:"retention_count,omitempty"`
	OutputRoot           *string  `json:"output_root,omitempty" yaml:"output_root,omitempty"`
	UserAgent            *string  `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	RedirectCap          *int     `json:"redirect_cap,omitempty" yaml:"redirect_cap,omitempty"`
	MaxBodyBytesMiB      *int64   `json:"max_body_bytes_mib,omitempty" yaml:"max_body_bytes_mib,omitempty"`
	RunDeadline          *string  `json:"run_deadline,omitempty" yaml:"run_deadline,omitempty"`
	BusySiteWait         *string  `json:"busy_site_wait,omitempty" yaml:"busy_site_wait,omitempty"`
	BaseDelay            *string  `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
	Jitter               *string  `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	RetryMaxAttempts     *int     `json:"retry_max_attempts,omitempty" yaml:"retry_max_attempts,omitempty"`
	RetryBaseDelay       *string  `json:"retry_base_delay,omitempty" yaml:"retry_base_delay,omitempty"`
	ProxyProvider        *string  `json:"proxy_provider,omitempty" yaml:"proxy_provider,omitempty"`
	ProxyAddress         *string  `json:"proxy_address,omitempty" yaml:"proxy_address,omitempty"`
	AllowProxyFallback   *bool    `json:"allow_proxy_fallback,omitempty" yaml:"allow_proxy_fallback,omitempty"`
}

type siteDTO struct {
	SiteID          string   `json:"site_id" yaml:"site_id"`
	Name            string   `json:"name" yaml:"name"`
	RootURL         string   `json:"root_url" yaml:"root_url"`
	SitemapEntryURL string   `json:"sitemap_entry_url" yaml:"sitemap_entry_url"`
	Methods         []string `json:"methods" yaml:"methods"`
	PollInterval    string   `json:"poll_interval" yaml:"poll_interval"`
	Active          *bool    `json:"active,omitempty" yaml:"active,omitempty"`
}

type documentDTO struct {
	Global globalDTO `json:"global,omitempty" yaml:"global,omitempty"`
	Sites  []siteDTO `json:"sites" yaml:"sites"`
}

// Load reads and parses path, dispatching on its extension (.yaml/.yml
// vs everything else treated as JSON), and rejects unrecognized keys.
func Load(path string) (Document, error) {
	if _, err := os.Stat(path); err != nil {
		return Document{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}

	var dto documentDTO
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&dto); err != nil {
			return Document{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&dto); err != nil {
			return Document{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
		}
	}

	return fromDTO(dto)
}

func fromDTO(dto documentDTO) (Document, error) {
	global := defaultGlobalOptions()
	if err := applyGlobalDTO(&global, dto.Global); err != nil {
		return Document{}, err
	}

	if len(dto.Sites) == 0 {
		return Document{}, fmt.Errorf("%w: at least one site must be configured", ErrInvalidConfig)
	}

	sites := make([]domain.SiteConfig, 0, len(dto.Sites))
	seen := make(map[string]struct{}, len(dto.Sites))
	for _, s := range dto.Sites {
		site, err := siteFromDTO(s)
		if err != nil {
			return Document{}, err
		}
		if _, dup := seen[site.SiteID]; dup {
			return Document{}, fmt.Errorf("%w: duplicate site-id %q", ErrInvalidConfig, site.SiteID)
		}
		seen[site.SiteID] = struct{}{}
		sites = append(sites, site)
	}

	return Document{Global: global, Sites: sites}, nil
}

func applyGlobalDTO(g *GlobalOptions, dto globalDTO) error {
	if dto.MaxConcurrentFetches != nil {
		g.MaxConcurrentFetches = *dto.MaxConcurrentFetches
	}
	if dto.BatchSize != nil {
		g.BatchSize = *dto.BatchSize
	}
	if dto.RetentionCount != nil {
		g.RetentionCount = *dto.RetentionCount
	}
	if dto.OutputRoot != nil {
		g.OutputRoot = *dto.OutputRoot
	}
	if dto.UserAgent != nil {
		g.UserAgent = *dto.UserAgent
	}
	if dto.RedirectCap != nil {
		g.RedirectCap = *dto.RedirectCap
	}
	if dto.MaxBodyBytesMiB != nil {
		g.MaxBodyBytesMiB = *dto.MaxBodyBytesMiB
	}
	if dto.RetryMaxAttempts != nil {
		g.RetryMaxAttempts = *dto.RetryMaxAttempts
	}
	if dto.ProxyProvider != nil {
		g.ProxyProvider = *dto.ProxyProvider
	}
	if dto.ProxyAddress != nil {
		g.ProxyAddress = *dto.ProxyAddress
	}
	if dto.AllowProxyFallback != nil {
		g.AllowProxyFallback = *dto.AllowProxyFallback
	}

	var err error
	if g.FetchTimeout, err = parseDurationOr(dto.FetchTimeout, g.FetchTimeout); err != nil {
		return err
	}
	if g.RunDeadline, err = parseDurationOr(dto.RunDeadline, g.RunDeadline); err != nil {
		return err
	}
	if g.BusySiteWait, err = parseDurationOr(dto.BusySiteWait, g.BusySiteWait); err != nil {
		return err
	}
	if g.BaseDelay, err = parseDurationOr(dto.BaseDelay, g.BaseDelay); err != nil {
		return err
	}
	if g.Jitter, err = parseDurationOr(dto.Jitter, g.Jitter); err != nil {
		return err
	}
	if g.RetryBaseDelay, err = parseDurationOr(dto.RetryBaseDelay, g.RetryBaseDelay); err != nil {
		return err
	}
	return nil
}

func parseDurationOr(raw *string, fallback time.Duration) (time.Duration, error) {
	if raw == nil {
		return fallback, nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidConfig, err.Error())
	}
	return d, nil
}

func siteFromDTO(s siteDTO) (domain.SiteConfig, error) {
	if s.SiteID == "" {
		return domain.SiteConfig{}, fmt.Errorf("%w: site missing site_id", ErrInvalidConfig)
	}
	if s.RootURL == "" {
		return domain.SiteConfig{}, fmt.Errorf("%w: site %q missing root_url", ErrInvalidConfig, s.SiteID)
	}
	if len(s.Methods) == 0 {
		return domain.SiteConfig{}, fmt.Errorf("%w: site %q declares no methods", ErrInvalidConfig, s.SiteID)
	}

	methods := make([]domain.Method, 0, len(s.Methods))
	for _, m := range s.Methods {
		method := domain.Method(m)
		switch method {
		case domain.MethodSitemap, domain.MethodContent, domain.MethodHybrid:
			methods = append(methods, method)
		default:
			return domain.SiteConfig{}, fmt.Errorf("%w: site %q has unknown method %q", ErrInvalidConfig, s.SiteID, m)
		}
	}

	pollInterval := 15 * time.Minute
	if s.PollInterval != "" {
		d, err := time.ParseDuration(s.PollInterval)
		if err != nil {
			return domain.SiteConfig{}, fmt.Errorf("%w: site %q has invalid poll_interval: %s", ErrInvalidConfig, s.SiteID, err.Error())
		}
		pollInterval = d
	}

	active := true
	if s.Active != nil {
		active = *s.Active
	}

	return domain.SiteConfig{
		SiteID:          s.SiteID,
		Name:            s.Name,
		RootURL:         s.RootURL,
		SitemapEntryURL: s.SitemapEntryURL,
		Methods:         methods,
		PollInterval:    pollInterval,
		Active:          active,
	}, nil
}
