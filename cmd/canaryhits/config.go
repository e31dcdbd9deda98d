package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/runreveal/canaryhits/internal"
	"github.com/runreveal/canaryhits/internal/classify"
	"github.com/runreveal/canaryhits/internal/destinations/objstore"
	"github.com/runreveal/canaryhits/internal/enrich"
	"github.com/runreveal/lib/loader"
)

// Config mirrors the command line flags. Values are resolved in order flag,
// environment, config file, default.
type Config struct {
	Input        string `json:"input"`
	Extension    string `json:"extension"`
	Prefix       string `json:"prefix"`
	Force        bool   `json:"force"`
	SkipAnalysis bool   `json:"skipAnalysis"`

	// Timeout bounds each lookup, e.g. "10s".
	Timeout       string `json:"timeout"`
	IPInfoURL     string `json:"ipinfoURL"`
	IPInfoToken   string `json:"ipinfoToken"`
	ExitListURL   string `json:"exitListURL"`
	AddressPolicy string `json:"addressPolicy"`
	GeoCacheSize  int    `json:"geoCacheSize"`

	// Store is where record files are read and written. The current
	// directory is used when it is not set.
	Store *loader.Loader[objstore.BlobLike] `json:"store"`
}

func defaultConfig() Config {
	return Config{
		Extension:     ".eml",
		Timeout:       enrich.DefaultTimeout.String(),
		IPInfoURL:     enrich.DefaultGeoURL,
		ExitListURL:   enrich.DefaultExitListURL,
		AddressPolicy: classify.LastAddress.String(),
	}
}

func defaultConfigPath() string {
	return filepath.Join(internal.ConfigDir(), "config.json")
}

// loadConfig reads a hujson config file over the defaults. A missing file
// is only an error when the path was given explicitly.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg := defaultConfig()
	bts, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		slog.Debug(fmt.Sprintf("no config file at %s, using defaults", path))
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := loader.LoadConfig(bts, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	slog.Debug(fmt.Sprintf("loaded config from %s", path))
	return cfg, nil
}

// applyEnv overrides credentials and provider endpoints from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("IPINFO_TOKEN"); v != "" {
		c.IPInfoToken = v
	}
	if v := getenv("IPINFO_URL"); v != "" {
		c.IPInfoURL = v
	}
	if v := getenv("TOR_EXIT_LIST_URL"); v != "" {
		c.ExitListURL = v
	}
}

type flagValues struct {
	configPath    string
	input         string
	outputs       []string
	prefix        string
	extension     string
	force         bool
	skipAnalysis  bool
	timeout       string
	ipinfoToken   string
	addressPolicy string
	verbose       bool
}

// applyFlags copies every flag the user set explicitly.
func (c *Config) applyFlags(f *flagValues, changed func(string) bool) {
	if changed("input") {
		c.Input = f.input
	}
	if changed("prefix") {
		c.Prefix = f.prefix
	}
	if changed("ext") {
		c.Extension = f.extension
	}
	if changed("force") {
		c.Force = f.force
	}
	if changed("skip-analysis") {
		c.SkipAnalysis = f.skipAnalysis
	}
	if changed("timeout") {
		c.Timeout = f.timeout
	}
	if changed("ipinfo-token") {
		c.IPInfoToken = f.ipinfoToken
	}
	if changed("address-policy") {
		c.AddressPolicy = f.addressPolicy
	}
}

// settings are the parsed forms of Config values.
type settings struct {
	timeout time.Duration
	policy  classify.AddressPolicy
}

func (c Config) parse() (settings, error) {
	var s settings
	var err error
	s.timeout, err = time.ParseDuration(c.Timeout)
	if err != nil {
		return s, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	if s.timeout <= 0 {
		return s, fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	s.policy, err = classify.ParseAddressPolicy(c.AddressPolicy)
	if err != nil {
		return s, err
	}
	if c.GeoCacheSize < 0 {
		return s, fmt.Errorf("geoCacheSize must not be negative")
	}
	return s, nil
}

func (c Config) blobStore() (objstore.BlobLike, error) {
	if c.Store == nil {
		return objstore.NewFilesystem(objstore.FilesystemConfig{BaseDirectory: "."})
	}
	return c.Store.Configure()
}
