// Package config provides YAML configuration parsing for permitwatch.
//
// This package lets the permitwatch binary run from a configuration file,
// as an alternative to wiring targets programmatically with the SDK.
//
// Example configuration:
//
//	log_level: info
//	notify:
//	  to: ${PERMITWATCH_EMAIL}
//	targets:
//	  - name: permit
//	    type: browser
//	    interval: 10s
//	    browser:
//	      url: https://permits.example.com/233273/detailed-availability
//	      table_selector: //*[@id="per-availability-main"]//table
//	      cell_xpath: //*[@id="per-availability-main"]//table/tbody/tr[5]/td[%d]
//	  - name: ferry
//	    type: api
//	    api:
//	      url: https://ferry.example.com/api/sailings?route=ANA-FRH
//	      items_path: sailings
//	      label_field: departs
//	      count_field: seats
//
// A file named <name>.local.yaml next to the configuration, if present, is
// merged on top of it. Scalars and maps set in the local file win; a list
// set in the local file replaces the base list. Empty and zero values in the
// local file are ignored, so it cannot clear a setting: `notify.to: ""`
// leaves the base recipient in place. Remove the setting from the base file
// instead.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"dario.cat/mergo"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// minInterval is the smallest poll interval or backoff a config may ask for.
// Reservation sites rate-limit aggressively.
const minInterval = 1 * time.Second

const defaultNotifyTimeout = 30 * time.Second

// Target types.
const (
	TypeBrowser = "browser"
	TypeAPI     = "api"
	TypeHTML    = "html"
)

// Config is the root configuration structure.
//
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	Notify NotifyConfig `yaml:"notify"`

	Targets []TargetConfig `yaml:"targets"`
}

// NotifyConfig configures email delivery. With no recipient, notifications
// are only logged.
type NotifyConfig struct {
	To            string     `yaml:"to"`
	From          string     `yaml:"from"`
	SubjectPrefix string     `yaml:"subject_prefix"`
	SMTP          SMTPConfig `yaml:"smtp"`

	// Timeout bounds one delivery, from dialing the relay to QUIT.
	// Defaults to 30s.
	Timeout Duration `yaml:"timeout"`
}

// SMTPConfig is the mail relay. Host defaults to localhost and port to 25.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TargetConfig defines one watched site. Exactly the sub-config matching
// Type must be set.
type TargetConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`

	// Interval is the delay between successful polls. Defaults to 10s.
	Interval Duration `yaml:"interval"`

	// ErrorBackoff is the delay after a failed poll. Defaults to 1m.
	ErrorBackoff Duration `yaml:"error_backoff"`

	Browser *BrowserConfig `yaml:"browser"`
	API     *APIConfig     `yaml:"api"`
	HTML    *HTMLConfig    `yaml:"html"`

	Booking BookingConfig `yaml:"booking"`
}

// BrowserConfig drives a headless browser through an availability page.
type BrowserConfig struct {
	URL              string `yaml:"url"`
	DivisionSelector string `yaml:"division_selector"`
	Division         string `yaml:"division"`
	GroupDropdown    string `yaml:"group_dropdown"`
	GroupIncrement   string `yaml:"group_increment"`
	GroupSize        int    `yaml:"group_size"`

	TableSelector string   `yaml:"table_selector"`
	WaitTimeout   Duration `yaml:"wait_timeout"`
	CellXPath     string   `yaml:"cell_xpath"`
	FirstColumn   int      `yaml:"first_column"`
	Days          int      `yaml:"days"`
	MinCount      int      `yaml:"min_count"`
	Timezone      string   `yaml:"timezone"`
	LabelLayout   string   `yaml:"label_layout"`

	BookSelector      string `yaml:"book_selector"`
	QuantitySelector  string `yaml:"quantity_selector"`
	AddToHoldSelector string `yaml:"add_to_hold_selector"`
	HoldURL           string `yaml:"hold_url"`
	ExtendSelector    string `yaml:"extend_selector"`

	// Headless defaults to true.
	Headless      *bool    `yaml:"headless"`
	ExecPath      string   `yaml:"exec_path"`
	ActionTimeout Duration `yaml:"action_timeout"`
}

// APIConfig polls a JSON endpoint.
//
// Labels come from a JSON list (items_path plus label_field or
// key_as_label), or from a regular expression over the raw body when regex
// is set.
type APIConfig struct {
	URL              string            `yaml:"url"`
	Method           string            `yaml:"method"`
	Headers          map[string]string `yaml:"headers"`
	Query            map[string]string `yaml:"query"`
	Body             string            `yaml:"body"`
	Timeout          Duration          `yaml:"timeout"`
	CloudflareBypass bool              `yaml:"cloudflare_bypass"`

	ItemsPath   string `yaml:"items_path"`
	LabelField  string `yaml:"label_field"`
	KeyAsLabel  bool   `yaml:"key_as_label"`
	CountField  string `yaml:"count_field"`
	MinCount    int    `yaml:"min_count"`
	TimeLayout  string `yaml:"time_layout"`
	LabelLayout string `yaml:"label_layout"`
	Timezone    string `yaml:"timezone"`

	Regex string `yaml:"regex"`
}

// HTMLConfig scrapes a server-rendered page.
type HTMLConfig struct {
	URL               string            `yaml:"url"`
	RowSelector       string            `yaml:"row_selector"`
	LabelSelector     string            `yaml:"label_selector"`
	AvailableSelector string            `yaml:"available_selector"`
	AvailableText     string            `yaml:"available_text"`
	CountSelector     string            `yaml:"count_selector"`
	MinCount          int               `yaml:"min_count"`
	RequireRows       bool              `yaml:"require_rows"`
	Headers           map[string]string `yaml:"headers"`
	Timeout           Duration          `yaml:"timeout"`
}

// BookingConfig turns on automated holds for a browser target.
type BookingConfig struct {
	Enabled         bool     `yaml:"enabled"`
	PreferredLabels []string `yaml:"preferred_labels"`

	// Quantity defaults to 1.
	Quantity int `yaml:"quantity"`

	// Cooldown and FailurePause default to 30m.
	Cooldown     Duration `yaml:"cooldown"`
	FailurePause Duration `yaml:"failure_pause"`

	// HoldExtensionInterval defaults to 10m and only applies when the
	// browser config has a hold_url. HoldExtensions caps the number of
	// touches; 0 keeps extending until a touch fails.
	HoldExtensionInterval Duration `yaml:"hold_extension_interval"`
	HoldExtensions        int      `yaml:"hold_extensions"`
}

// Duration wraps time.Duration for YAML unmarshalling. Besides the units
// time.ParseDuration accepts, it takes days and weeks ("1d", "2w").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := str2duration.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// LocalPath returns the override file that [Load] merges for path:
// "config.yaml" becomes "config.local.yaml".
func LocalPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// Load reads a YAML configuration file, merges its local override if one
// exists, then expands environment variables and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}

	localPath := LocalPath(path)
	localData, err := os.ReadFile(localPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read local config file: %w", err)
	default:
		local, err := decode(localData)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", localPath, err)
		}
		if err := mergo.Merge(cfg, local, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", localPath, err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URLs, headers, query values,
// bodies, the recipient and the SMTP credentials. Defaults are applied for
// the log level, SMTP relay and booking settings.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	c.applyDefaults()
	return c.expandAndValidate()
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Notify.SMTP.Host == "" {
		c.Notify.SMTP.Host = "localhost"
	}
	if c.Notify.SMTP.Port == 0 {
		c.Notify.SMTP.Port = 25
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = Duration(defaultNotifyTimeout)
	}

	for i := range c.Targets {
		b := &c.Targets[i].Booking
		if b.Quantity == 0 {
			b.Quantity = 1
		}
		if b.Cooldown == 0 {
			b.Cooldown = Duration(30 * time.Minute)
		}
		if b.FailurePause == 0 {
			b.FailurePause = Duration(30 * time.Minute)
		}
		if b.HoldExtensionInterval == 0 {
			b.HoldExtensionInterval = Duration(10 * time.Minute)
		}
		if br := c.Targets[i].Browser; br != nil && br.Headless == nil {
			headless := true
			br.Headless = &headless
		}
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if err := c.Notify.expand(); err != nil {
		return err
	}

	if len(c.Targets) == 0 {
		return errors.New("at least one target must be defined")
	}

	seen := make(map[string]struct{}, len(c.Targets))
	for i := range c.Targets {
		tc := &c.Targets[i]

		if tc.Name == "" {
			return fmt.Errorf("targets[%d]: name is required", i)
		}
		if _, dup := seen[tc.Name]; dup {
			return fmt.Errorf("targets[%d] (%s): duplicate target name", i, tc.Name)
		}
		seen[tc.Name] = struct{}{}

		if err := tc.expandAndValidate(); err != nil {
			return fmt.Errorf("targets[%d] (%s): %w", i, tc.Name, err)
		}
	}

	return nil
}

func (n *NotifyConfig) expand() error {
	fields := []struct {
		name string
		ptr  *string
	}{
		{"to", &n.To},
		{"from", &n.From},
		{"smtp.username", &n.SMTP.Username},
		{"smtp.password", &n.SMTP.Password},
	}
	for _, f := range fields {
		expanded, err := expandEnvVars(*f.ptr)
		if err != nil {
			return fmt.Errorf("notify.%s: %w", f.name, err)
		}
		*f.ptr = expanded
	}

	if n.SMTP.Port < 0 || n.SMTP.Port > 65535 {
		return fmt.Errorf("notify.smtp.port must be between 1 and 65535, got %d", n.SMTP.Port)
	}
	if n.Timeout.Duration() < minInterval {
		return fmt.Errorf("notify.timeout must be at least %s, got %s", minInterval, n.Timeout.Duration())
	}
	if n.To != "" && !strings.Contains(n.To, "@") {
		return fmt.Errorf("notify.to must be an email address, got %q", n.To)
	}
	return nil
}

func (tc *TargetConfig) expandAndValidate() error {
	if tc.Interval != 0 && tc.Interval.Duration() < minInterval {
		return fmt.Errorf("interval must be at least %s, got %s", minInterval, tc.Interval.Duration())
	}
	if tc.ErrorBackoff != 0 && tc.ErrorBackoff.Duration() < minInterval {
		return fmt.Errorf("error_backoff must be at least %s, got %s", minInterval, tc.ErrorBackoff.Duration())
	}

	set := 0
	for _, present := range []bool{tc.Browser != nil, tc.API != nil, tc.HTML != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return errors.New("only the section matching type may be set")
	}

	switch tc.Type {
	case TypeBrowser:
		if tc.Browser == nil {
			return errors.New("type browser requires a browser section")
		}
		if err := tc.Browser.expandAndValidate(); err != nil {
			return err
		}
	case TypeAPI:
		if tc.API == nil {
			return errors.New("type api requires an api section")
		}
		if err := tc.API.expandAndValidate(); err != nil {
			return err
		}
	case TypeHTML:
		if tc.HTML == nil {
			return errors.New("type html requires an html section")
		}
		if err := tc.HTML.expandAndValidate(); err != nil {
			return err
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("type must be browser, api, or html, got %q", tc.Type)
	}

	return tc.validateBooking()
}

func (tc *TargetConfig) validateBooking() error {
	b := tc.Booking
	if b.Quantity < 0 {
		return fmt.Errorf("booking.quantity cannot be negative, got %d", b.Quantity)
	}
	if b.HoldExtensions < 0 {
		return fmt.Errorf("booking.hold_extensions cannot be negative, got %d", b.HoldExtensions)
	}
	if !b.Enabled {
		return nil
	}
	if tc.Type != TypeBrowser {
		return errors.New("booking is only supported for browser targets")
	}
	if len(b.PreferredLabels) == 0 {
		return errors.New("booking.preferred_labels is required when booking is enabled")
	}
	if tc.Browser.BookSelector == "" || tc.Browser.AddToHoldSelector == "" {
		return errors.New("booking requires browser.book_selector and browser.add_to_hold_selector")
	}
	for name, d := range map[string]Duration{
		"cooldown":                b.Cooldown,
		"failure_pause":           b.FailurePause,
		"hold_extension_interval": b.HoldExtensionInterval,
	} {
		if d.Duration() < minInterval {
			return fmt.Errorf("booking.%s must be at least %s, got %s", name, minInterval, d.Duration())
		}
	}
	return nil
}

func (b *BrowserConfig) expandAndValidate() error {
	var err error
	if b.URL, err = expandEnvVars(b.URL); err != nil {
		return fmt.Errorf("browser.url: %w", err)
	}
	if err := validateURL("browser.url", b.URL); err != nil {
		return err
	}
	if b.HoldURL != "" {
		if b.HoldURL, err = expandEnvVars(b.HoldURL); err != nil {
			return fmt.Errorf("browser.hold_url: %w", err)
		}
		if err := validateURL("browser.hold_url", b.HoldURL); err != nil {
			return err
		}
	}
	if b.TableSelector == "" {
		return errors.New("browser.table_selector is required")
	}
	if strings.Count(b.CellXPath, "%d") != 1 {
		return errors.New("browser.cell_xpath must contain exactly one %d for the column")
	}
	if b.GroupSize < 0 {
		return fmt.Errorf("browser.group_size cannot be negative, got %d", b.GroupSize)
	}
	if b.Timezone != "" {
		if _, err := time.LoadLocation(b.Timezone); err != nil {
			return fmt.Errorf("browser.timezone: %w", err)
		}
	}
	return nil
}

func (a *APIConfig) expandAndValidate() error {
	expanded, err := expandEnvVars(a.URL)
	if err != nil {
		return fmt.Errorf("api.url: %w", err)
	}
	a.URL = expanded
	if err := validateURL("api.url", a.URL); err != nil {
		return err
	}

	if err := expandMap("api.headers", a.Headers); err != nil {
		return err
	}
	if err := expandMap("api.query", a.Query); err != nil {
		return err
	}
	if a.Body, err = expandEnvVars(a.Body); err != nil {
		return fmt.Errorf("api.body: %w", err)
	}

	switch strings.ToUpper(a.Method) {
	case "", "GET", "POST":
	default:
		return fmt.Errorf("api.method must be GET or POST, got %q", a.Method)
	}

	if a.Regex != "" {
		if _, err := regexp.Compile(a.Regex); err != nil {
			return fmt.Errorf("api.regex: %w", err)
		}
		return nil
	}
	if !a.KeyAsLabel && a.LabelField == "" {
		return errors.New("api needs label_field, key_as_label, or regex")
	}
	if a.Timezone != "" {
		if _, err := time.LoadLocation(a.Timezone); err != nil {
			return fmt.Errorf("api.timezone: %w", err)
		}
	}
	return nil
}

func (h *HTMLConfig) expandAndValidate() error {
	expanded, err := expandEnvVars(h.URL)
	if err != nil {
		return fmt.Errorf("html.url: %w", err)
	}
	h.URL = expanded
	if err := validateURL("html.url", h.URL); err != nil {
		return err
	}
	if err := expandMap("html.headers", h.Headers); err != nil {
		return err
	}
	if h.RowSelector == "" {
		return errors.New("html.row_selector is required")
	}
	return nil
}

func expandMap(field string, m map[string]string) error {
	for k, v := range m {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("%s[%s]: %w", field, k, err)
		}
		m[k] = expanded
	}
	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got %q", field, parsed.Scheme)
	}
	return nil
}
