package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/prefdesk/prefmm/internal/observ"
)

// Gate thresholds. Defaults are deliberately conservative: a plan that matches
// nothing lands in manual review, never auto-approval.
type Gate struct {
	AutoApproved GateAutoApproved `yaml:"auto_approved"`
	ManualReview GateManualReview `yaml:"manual_review"`
	Blocked      GateBlocked      `yaml:"blocked"`
}

type GateAutoApproved struct {
	MinUrgency       string  `yaml:"min_urgency"`
	MaxSpreadPercent float64 `yaml:"max_spread_percent"`
}

type GateManualReview struct {
	Urgency string `yaml:"urgency"`
}

type GateBlocked struct {
	MaxSpreadPercent float64 `yaml:"max_spread_percent"`
	MinFinalTHG      float64 `yaml:"min_final_thg"`
}

// Queue admission limits.
type Queue struct {
	MaxOrdersPerMinute       int `yaml:"max_orders_per_minute"`
	PerSymbolCooldownSeconds int `yaml:"per_symbol_cooldown_seconds"`
	BatchIntervalMs          int `yaml:"batch_interval_ms"`
	MaxQueueSize             int `yaml:"max_queue_size"`
}

func (q Queue) Cooldown() time.Duration {
	return time.Duration(q.PerSymbolCooldownSeconds) * time.Second
}

func (q Queue) BatchInterval() time.Duration {
	return time.Duration(q.BatchIntervalMs) * time.Millisecond
}

// Lifecycle policy knobs: TTLs per intent category plus replace and staleness
// thresholds.
type Lifecycle struct {
	TTLByCategory             map[string]int `yaml:"ttl_by_category"`
	MinReplaceIntervalSeconds float64        `yaml:"min_replace_interval_s"`
	PriceChangeThreshold      float64        `yaml:"price_change_threshold"`
	StaleDataThresholdSeconds int            `yaml:"stale_data_threshold_s"`
}

func (l Lifecycle) MinReplaceInterval() time.Duration {
	return time.Duration(l.MinReplaceIntervalSeconds * float64(time.Second))
}

func (l Lifecycle) StaleThreshold() time.Duration {
	return time.Duration(l.StaleDataThresholdSeconds) * time.Second
}

// Broker provider wiring.
type Broker struct {
	AccountModes    []string `yaml:"account_modes"`      // registered backends, first is active at boot
	RateLimitPerMin int      `yaml:"rate_limit_per_min"` // provider call throttle
	PlaceTimeoutMs  int      `yaml:"place_timeout_ms"`
}

func (b Broker) PlaceTimeout() time.Duration {
	return time.Duration(b.PlaceTimeoutMs) * time.Millisecond
}

type Ledger struct {
	Path string `yaml:"path"`
}

type Controls struct {
	ListenAddr string `yaml:"listen_addr"`
}

type Root struct {
	Gate      Gate      `yaml:"gate"`
	Queue     Queue     `yaml:"queue"`
	Lifecycle Lifecycle `yaml:"lifecycle"`
	Broker    Broker    `yaml:"broker"`
	Ledger    Ledger    `yaml:"ledger"`
	Controls  Controls  `yaml:"controls"`
}

// Default returns the embedded fallback configuration used whenever the
// external resource is absent or malformed.
func Default() Root {
	return Root{
		Gate: Gate{
			AutoApproved: GateAutoApproved{MinUrgency: "HIGH", MaxSpreadPercent: 0.3},
			ManualReview: GateManualReview{Urgency: "MEDIUM"},
			Blocked:      GateBlocked{MaxSpreadPercent: 1.5, MinFinalTHG: 0.0},
		},
		Queue: Queue{
			MaxOrdersPerMinute:       60,
			PerSymbolCooldownSeconds: 5,
			BatchIntervalMs:          500,
			MaxQueueSize:             1000,
		},
		Lifecycle: Lifecycle{
			TTLByCategory: map[string]int{
				"LT_TRIM":     120,
				"MM_CHURN":    60,
				"ADDNEWPOS":   180,
				"HARD_DERISK": 30,
				"CLOSE_EXIT":  15,
				"DEFAULT":     90,
			},
			MinReplaceIntervalSeconds: 2.5,
			PriceChangeThreshold:      0.01,
			StaleDataThresholdSeconds: 90,
		},
		Broker: Broker{
			AccountModes:    []string{"paper"},
			RateLimitPerMin: 120,
			PlaceTimeoutMs:  5000,
		},
		Ledger:   Ledger{Path: "data/execution_ledger.jsonl"},
		Controls: Controls{ListenAddr: ":8099"},
	}
}

// Load reads and parses the config file, backfilling zero values with the
// embedded defaults so a sparse file still yields a complete config.
func Load(path string) (Root, error) {
	c := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", path, err)
	}
	backfill(&c)
	return c, nil
}

// LoadOrDefault is the fail-safe entry point: on any error it logs and returns
// the embedded defaults instead of propagating.
func LoadOrDefault(path string) Root {
	c, err := Load(path)
	if err != nil {
		observ.Log("config_fallback", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		observ.IncCounter("config_fallbacks_total", nil)
		return Default()
	}
	return c
}

func backfill(c *Root) {
	d := Default()
	if c.Gate.AutoApproved.MinUrgency == "" {
		c.Gate.AutoApproved.MinUrgency = d.Gate.AutoApproved.MinUrgency
	}
	if c.Gate.AutoApproved.MaxSpreadPercent == 0 {
		c.Gate.AutoApproved.MaxSpreadPercent = d.Gate.AutoApproved.MaxSpreadPercent
	}
	if c.Gate.ManualReview.Urgency == "" {
		c.Gate.ManualReview.Urgency = d.Gate.ManualReview.Urgency
	}
	if c.Gate.Blocked.MaxSpreadPercent == 0 {
		c.Gate.Blocked.MaxSpreadPercent = d.Gate.Blocked.MaxSpreadPercent
	}
	if c.Queue.MaxOrdersPerMinute == 0 {
		c.Queue.MaxOrdersPerMinute = d.Queue.MaxOrdersPerMinute
	}
	if c.Queue.PerSymbolCooldownSeconds == 0 {
		c.Queue.PerSymbolCooldownSeconds = d.Queue.PerSymbolCooldownSeconds
	}
	if c.Queue.BatchIntervalMs == 0 {
		c.Queue.BatchIntervalMs = d.Queue.BatchIntervalMs
	}
	if c.Queue.MaxQueueSize == 0 {
		c.Queue.MaxQueueSize = d.Queue.MaxQueueSize
	}
	if len(c.Lifecycle.TTLByCategory) == 0 {
		c.Lifecycle.TTLByCategory = d.Lifecycle.TTLByCategory
	}
	if c.Lifecycle.MinReplaceIntervalSeconds == 0 {
		c.Lifecycle.MinReplaceIntervalSeconds = d.Lifecycle.MinReplaceIntervalSeconds
	}
	if c.Lifecycle.PriceChangeThreshold == 0 {
		c.Lifecycle.PriceChangeThreshold = d.Lifecycle.PriceChangeThreshold
	}
	if c.Lifecycle.StaleDataThresholdSeconds == 0 {
		c.Lifecycle.StaleDataThresholdSeconds = d.Lifecycle.StaleDataThresholdSeconds
	}
	if len(c.Broker.AccountModes) == 0 {
		c.Broker.AccountModes = d.Broker.AccountModes
	}
	if c.Broker.RateLimitPerMin == 0 {
		c.Broker.RateLimitPerMin = d.Broker.RateLimitPerMin
	}
	if c.Broker.PlaceTimeoutMs == 0 {
		c.Broker.PlaceTimeoutMs = d.Broker.PlaceTimeoutMs
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = d.Ledger.Path
	}
	if c.Controls.ListenAddr == "" {
		c.Controls.ListenAddr = d.Controls.ListenAddr
	}
}
