package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"loadline/internal/domain"
)

// Config models loadline.yml, the per-organization conflict policy.
type Config struct {
	Organization struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"organization"`
	Capacity struct {
		// DefaultHours is the working day that equals 100% capacity.
		DefaultHours float64 `yaml:"default_hours"`
	} `yaml:"capacity"`
	Allocations struct {
		DefaultHoursPerDay   float64                 `yaml:"default_hours_per_day"`
		RequireJustification []domain.AllocationType `yaml:"require_justification"`
	} `yaml:"allocations"`
	Weights  map[domain.AllocationType]float64 `yaml:"weights"`
	Severity struct {
		Bands []SeverityBand `yaml:"bands"`
	} `yaml:"severity"`
	Conflicts struct {
		Recurrence string `yaml:"recurrence"`
	} `yaml:"conflicts"`
	Notify struct {
		Webhooks []WebhookConfig `yaml:"webhooks"`
		PubSub   PubSubConfig    `yaml:"pubsub"`
	} `yaml:"notify"`
}

// SeverityBand maps loads up to MaxRatio x capacity to Severity. Loads above
// the last band are CRITICAL.
type SeverityBand struct {
	Severity domain.Severity `yaml:"severity"`
	MaxRatio float64         `yaml:"max_ratio"`
}

type WebhookConfig struct {
	ID             string   `yaml:"id"`
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

type PubSubConfig struct {
	ProjectID string   `yaml:"project_id"`
	Topic     string   `yaml:"topic"`
	Events    []string `yaml:"events"`
}

func (p PubSubConfig) Enabled() bool {
	return p.ProjectID != "" && p.Topic != ""
}

const (
	RecurrenceNewRow     = "new_row"
	RecurrenceReopenAuto = "reopen_auto"
)

// Load reads and validates loadline.yml from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with loadline config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Organization.ID == "" {
		return fmt.Errorf("config.organization.id is required")
	}
	if c.Capacity.DefaultHours <= 0 {
		return fmt.Errorf("config.capacity.default_hours must be positive")
	}
	if c.Allocations.DefaultHoursPerDay <= 0 || c.Allocations.DefaultHoursPerDay > 24 {
		return fmt.Errorf("config.allocations.default_hours_per_day must be in (0,24]")
	}
	for _, t := range c.Allocations.RequireJustification {
		if !t.Valid() {
			return fmt.Errorf("config.allocations.require_justification has unknown type %q", t)
		}
	}
	for t, w := range c.Weights {
		if !t.Valid() {
			return fmt.Errorf("config.weights has unknown allocation type %q", t)
		}
		if w < 0 {
			return fmt.Errorf("config.weights.%s must not be negative", t)
		}
	}
	if len(c.Severity.Bands) == 0 {
		return fmt.Errorf("config.severity.bands is required")
	}
	prev := 1.0
	prevRank := 0
	for i, b := range c.Severity.Bands {
		if !b.Severity.Valid() {
			return fmt.Errorf("config.severity.bands[%d] has unknown severity %q", i, b.Severity)
		}
		if b.Severity == domain.SeverityCritical {
			return fmt.Errorf("config.severity.bands[%d]: CRITICAL is implied above the last band", i)
		}
		if b.MaxRatio <= prev {
			return fmt.Errorf("config.severity.bands[%d].max_ratio must exceed %.2f", i, prev)
		}
		if b.Severity.Rank() <= prevRank {
			return fmt.Errorf("config.severity.bands[%d] must be more severe than the previous band", i)
		}
		prev, prevRank = b.MaxRatio, b.Severity.Rank()
	}
	switch c.Conflicts.Recurrence {
	case "", RecurrenceNewRow, RecurrenceReopenAuto:
	default:
		return fmt.Errorf("config.conflicts.recurrence must be %s or %s", RecurrenceNewRow, RecurrenceReopenAuto)
	}
	seen := map[string]bool{}
	for i, h := range c.Notify.Webhooks {
		if h.ID == "" {
			return fmt.Errorf("config.notify.webhooks[%d].id is required", i)
		}
		if seen[h.ID] {
			return fmt.Errorf("config.notify.webhooks has duplicate id %s", h.ID)
		}
		seen[h.ID] = true
		if h.URL == "" {
			return fmt.Errorf("webhook %s requires url", h.ID)
		}
		if h.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %s timeout_seconds must not be negative", h.ID)
		}
	}
	if (c.Notify.PubSub.ProjectID == "") != (c.Notify.PubSub.Topic == "") {
		return fmt.Errorf("config.notify.pubsub requires both project_id and topic")
	}
	return nil
}

// Weight returns the load multiplier for t; unknown types weigh fully.
func (c *Config) Weight(t domain.AllocationType) decimal.Decimal {
	if w, ok := c.Weights[t]; ok {
		return decimal.NewFromFloat(w)
	}
	return decimal.NewFromInt(1)
}

func (c *Config) RequiresJustification(t domain.AllocationType) bool {
	for _, req := range c.Allocations.RequireJustification {
		if req == t {
			return true
		}
	}
	return false
}

// SortedWeightTypes returns weight keys in stable order for display.
func (c *Config) SortedWeightTypes() []domain.AllocationType {
	out := make([]domain.AllocationType, 0, len(c.Weights))
	for t := range c.Weights {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "loadline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an organization.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(orgID))).Decode(&cfg)
	cfg.Organization.ID = orgID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders the config for display or export.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `organization:
  id: %s
  name: ""

capacity:
  default_hours: 8

allocations:
  default_hours_per_day: 8
  require_justification: [SOFT, GHOST]

# GHOST bookings are listed on conflicts but never add load.
weights:
  HARD: 1
  SOFT: 1
  GHOST: 0

# ratio = total / capacity; anything above the last band is CRITICAL.
severity:
  bands:
    - severity: LOW
      max_ratio: 1.2
    - severity: MEDIUM
      max_ratio: 1.5
    - severity: HIGH
      max_ratio: 2.0

conflicts:
  recurrence: new_row

notify:
  webhooks: []
  pubsub:
    project_id: ""
    topic: ""
`
