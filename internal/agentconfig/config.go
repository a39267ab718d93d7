// Package agentconfig assembles the agent's configuration in layers:
// compiled-in defaults, then environment variable overrides, then
// functional options, validated once by NewConfig. A second, higher-priority layer — the system_config table
// — is read once per tick by the orchestrator and merged on top of
// whatever NewConfig produced; a mid-tick config edit is never observed by
// the tick already running.
package agentconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
)

// Config holds every tunable the agent recognizes.
type Config struct {
	// Scheduling
	ExecutionInterval time.Duration `json:"agent_execution_interval" env:"AGENT_EXECUTION_INTERVAL" default:"60m"`
	TickTimeout       time.Duration `json:"tick_timeout_seconds" env:"TICK_TIMEOUT_SECONDS" default:"300s"`

	// Retry / cooldown
	MaxRetryCount        int           `json:"agent_max_retries" env:"AGENT_MAX_RETRIES" default:"5"`
	NotificationCooldown time.Duration `json:"notification_cooldown" env:"NOTIFICATION_COOLDOWN" default:"120m"`

	// Feature toggles
	ReminderEnabled   bool `json:"notification_reminder_enabled" env:"NOTIFICATION_REMINDER_ENABLED" default:"true"`
	EscalationEnabled bool `json:"notification_escalation_enabled" env:"NOTIFICATION_ESCALATION_ENABLED" default:"true"`

	// Webhook pacing
	WebhookAPIInterval time.Duration `json:"webhook_api_interval" env:"WEBHOOK_API_INTERVAL" default:"1s"`

	// Message formatting
	ReminderMaxDisplayOrders   int `json:"reminder_max_display_orders" env:"REMINDER_MAX_DISPLAY_ORDERS" default:"5"`
	EscalationMaxDisplayOrders int `json:"escalation_max_display_orders" env:"ESCALATION_MAX_DISPLAY_ORDERS" default:"5"`

	// SLA thresholds, business hours
	SLA      SLAConfig
	Business BusinessTimeConfig

	// Persistence / bootstrap (ambient)
	DatabasePath    string `json:"database_path" env:"AGENT_DB_PATH" default:"slamonitor.db"`
	GroupConfigSeed string `json:"group_config_seed" env:"AGENT_GROUP_CONFIG_SEED"`

	// Logging (ambient)
	LogDevelopmentMode bool `json:"log_dev_mode" env:"AGENT_LOG_DEV" default:"false"`
}

// SLAConfig holds the four overridable SLA threshold keys.
type SLAConfig struct {
	PendingReminderHours       float64 `json:"sla_pending_reminder" env:"SLA_PENDING_REMINDER" default:"4"`
	PendingEscalationHours     float64 `json:"sla_pending_escalation" env:"SLA_PENDING_ESCALATION" default:"8"`
	NotVisitingReminderHours   float64 `json:"sla_not_visiting_reminder" env:"SLA_NOT_VISITING_REMINDER" default:"8"`
	NotVisitingEscalationHours float64 `json:"sla_not_visiting_escalation" env:"SLA_NOT_VISITING_ESCALATION" default:"16"`
}

// BusinessTimeConfig holds the business-hours calendar.
type BusinessTimeConfig struct {
	WorkStartHour int   `json:"work_start_hour" env:"WORK_START_HOUR" default:"9"`
	WorkEndHour   int   `json:"work_end_hour" env:"WORK_END_HOUR" default:"19"`
	WorkDays      []int `json:"work_days" env:"WORK_DAYS" default:"1,2,3,4,5"`
}

// DefaultConfig returns the coded defaults, used as the base layer before
// environment variables and options are applied.
func DefaultConfig() *Config {
	return &Config{
		ExecutionInterval:          60 * time.Minute,
		TickTimeout:                300 * time.Second,
		MaxRetryCount:              5,
		NotificationCooldown:       120 * time.Minute,
		ReminderEnabled:            true,
		EscalationEnabled:          true,
		WebhookAPIInterval:         1 * time.Second,
		ReminderMaxDisplayOrders:   5,
		EscalationMaxDisplayOrders: 5,
		SLA: SLAConfig{
			PendingReminderHours:       4,
			PendingEscalationHours:     8,
			NotVisitingReminderHours:   8,
			NotVisitingEscalationHours: 16,
		},
		Business: BusinessTimeConfig{
			WorkStartHour: 9,
			WorkEndHour:   19,
			WorkDays:      []int{1, 2, 3, 4, 5},
		},
		DatabasePath: "slamonitor.db",
	}
}

// Option mutates a Config during construction; applied after environment
// variables so callers can override whatever the environment set.
type Option func(*Config) error

// NewConfig builds a Config: defaults, then environment, then options,
// then validation.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	getDuration(&c.ExecutionInterval, "AGENT_EXECUTION_INTERVAL")
	getDuration(&c.TickTimeout, "TICK_TIMEOUT_SECONDS")
	getInt(&c.MaxRetryCount, "AGENT_MAX_RETRIES")
	getDuration(&c.NotificationCooldown, "NOTIFICATION_COOLDOWN")
	getBool(&c.ReminderEnabled, "NOTIFICATION_REMINDER_ENABLED")
	getBool(&c.EscalationEnabled, "NOTIFICATION_ESCALATION_ENABLED")
	getDuration(&c.WebhookAPIInterval, "WEBHOOK_API_INTERVAL")
	getInt(&c.ReminderMaxDisplayOrders, "REMINDER_MAX_DISPLAY_ORDERS")
	getInt(&c.EscalationMaxDisplayOrders, "ESCALATION_MAX_DISPLAY_ORDERS")
	getFloat(&c.SLA.PendingReminderHours, "SLA_PENDING_REMINDER")
	getFloat(&c.SLA.PendingEscalationHours, "SLA_PENDING_ESCALATION")
	getFloat(&c.SLA.NotVisitingReminderHours, "SLA_NOT_VISITING_REMINDER")
	getFloat(&c.SLA.NotVisitingEscalationHours, "SLA_NOT_VISITING_ESCALATION")
	getInt(&c.Business.WorkStartHour, "WORK_START_HOUR")
	getInt(&c.Business.WorkEndHour, "WORK_END_HOUR")
	if v := os.Getenv("WORK_DAYS"); v != "" {
		days, err := parseWorkDays(v)
		if err != nil {
			return fmt.Errorf("WORK_DAYS: %w", err)
		}
		c.Business.WorkDays = days
	}
	getString(&c.DatabasePath, "AGENT_DB_PATH")
	getString(&c.GroupConfigSeed, "AGENT_GROUP_CONFIG_SEED")
	getBool(&c.LogDevelopmentMode, "AGENT_LOG_DEV")
	return nil
}

func parseWorkDays(v string) ([]int, error) {
	parts := strings.Split(v, ",")
	days := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid weekday %q: %w", p, err)
		}
		if n < 1 || n > 7 {
			return nil, fmt.Errorf("weekday %d out of range 1-7", n)
		}
		days = append(days, n)
	}
	return days, nil
}

func getString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func getInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func getFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func getBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func getDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// WithOverrides returns a copy of c with any recognized system_config keys
// layered on top. Values are parsed with each key's documented unit
// (minutes, seconds, hours); an unparseable or unknown value is ignored so
// the coded default keeps applying.
// Called by the orchestrator once per tick, so an operator edit to the
// system_config table takes effect on the next tick, never mid-tick.
func (c Config) WithOverrides(snap map[string]string) Config {
	out := c

	if v, ok := parseIntKey(snap, "agent_execution_interval"); ok {
		out.ExecutionInterval = time.Duration(v) * time.Minute
	}
	if v, ok := parseIntKey(snap, "tick_timeout_seconds"); ok {
		out.TickTimeout = time.Duration(v) * time.Second
	}
	if v, ok := parseIntKey(snap, "agent_max_retries"); ok {
		out.MaxRetryCount = v
	}
	if v, ok := parseIntKey(snap, "notification_cooldown"); ok {
		out.NotificationCooldown = time.Duration(v) * time.Minute
	}
	if v, ok := parseBoolKey(snap, "notification_reminder_enabled"); ok {
		out.ReminderEnabled = v
	}
	if v, ok := parseBoolKey(snap, "notification_escalation_enabled"); ok {
		out.EscalationEnabled = v
	}
	if v, ok := parseIntKey(snap, "webhook_api_interval"); ok {
		out.WebhookAPIInterval = time.Duration(v) * time.Second
	}
	if v, ok := parseIntKey(snap, "reminder_max_display_orders"); ok {
		out.ReminderMaxDisplayOrders = v
	}
	if v, ok := parseIntKey(snap, "escalation_max_display_orders"); ok {
		out.EscalationMaxDisplayOrders = v
	}
	if v, ok := parseFloatKey(snap, "sla_pending_reminder"); ok {
		out.SLA.PendingReminderHours = v
	}
	if v, ok := parseFloatKey(snap, "sla_pending_escalation"); ok {
		out.SLA.PendingEscalationHours = v
	}
	if v, ok := parseFloatKey(snap, "sla_not_visiting_reminder"); ok {
		out.SLA.NotVisitingReminderHours = v
	}
	if v, ok := parseFloatKey(snap, "sla_not_visiting_escalation"); ok {
		out.SLA.NotVisitingEscalationHours = v
	}
	if v, ok := parseIntKey(snap, "work_start_hour"); ok {
		out.Business.WorkStartHour = v
	}
	if v, ok := parseIntKey(snap, "work_end_hour"); ok {
		out.Business.WorkEndHour = v
	}
	if raw, ok := snap["work_days"]; ok {
		if days, err := parseWorkDays(raw); err == nil {
			out.Business.WorkDays = days
		}
	}

	return out
}

func parseIntKey(snap map[string]string, key string) (int, bool) {
	raw, ok := snap[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseFloatKey(snap map[string]string, key string) (float64, bool) {
	raw, ok := snap[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseBoolKey(snap map[string]string, key string) (bool, bool) {
	raw, ok := snap[key]
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false
	}
	return b, true
}

// Validate rejects configurations that would make the agent misbehave
// rather than letting it run with nonsensical thresholds.
func (c *Config) Validate() error {
	if c.Business.WorkEndHour <= c.Business.WorkStartHour {
		return fmt.Errorf("%w: work_end_hour (%d) must be greater than work_start_hour (%d)",
			agenterrors.ErrInvalidConfiguration, c.Business.WorkEndHour, c.Business.WorkStartHour)
	}
	if c.Business.WorkStartHour < 0 || c.Business.WorkStartHour > 23 {
		return fmt.Errorf("%w: work_start_hour out of range 0-23", agenterrors.ErrInvalidConfiguration)
	}
	if c.Business.WorkEndHour < 1 || c.Business.WorkEndHour > 24 {
		return fmt.Errorf("%w: work_end_hour out of range 1-24", agenterrors.ErrInvalidConfiguration)
	}
	if len(c.Business.WorkDays) == 0 {
		return fmt.Errorf("%w: work_days must not be empty", agenterrors.ErrInvalidConfiguration)
	}
	if c.SLA.PendingReminderHours <= 0 || c.SLA.PendingEscalationHours <= 0 ||
		c.SLA.NotVisitingReminderHours <= 0 || c.SLA.NotVisitingEscalationHours <= 0 {
		return fmt.Errorf("%w: SLA thresholds must be positive", agenterrors.ErrInvalidConfiguration)
	}
	if c.SLA.PendingReminderHours > c.SLA.PendingEscalationHours {
		return fmt.Errorf("%w: pending reminder threshold must not exceed escalation threshold", agenterrors.ErrInvalidConfiguration)
	}
	if c.SLA.NotVisitingReminderHours > c.SLA.NotVisitingEscalationHours {
		return fmt.Errorf("%w: not-visiting reminder threshold must not exceed escalation threshold", agenterrors.ErrInvalidConfiguration)
	}
	if c.MaxRetryCount < 0 {
		return fmt.Errorf("%w: agent_max_retries must be >= 0", agenterrors.ErrInvalidConfiguration)
	}
	if c.WebhookAPIInterval < 0 {
		return fmt.Errorf("%w: webhook_api_interval must be >= 0", agenterrors.ErrInvalidConfiguration)
	}
	if c.ReminderMaxDisplayOrders <= 0 || c.EscalationMaxDisplayOrders <= 0 {
		return fmt.Errorf("%w: display caps must be positive", agenterrors.ErrInvalidConfiguration)
	}
	return nil
}

// WithDatabasePath overrides the sqlite database path.
func WithDatabasePath(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
		c.DatabasePath = path
		return nil
	}
}

// WithExecutionInterval overrides the scheduler's tick interval.
func WithExecutionInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return fmt.Errorf("execution interval must be positive")
		}
		c.ExecutionInterval = d
		return nil
	}
}

// WithDevelopmentLogging switches the logger to console-encoded output.
func WithDevelopmentLogging(enabled bool) Option {
	return func(c *Config) error {
		c.LogDevelopmentMode = enabled
		return nil
	}
}
