package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"castd/internal/domain"
)

// Config models castd.yml.
type Config struct {
	Ledger struct {
		StartingBalance float64     `yaml:"starting_balance"`
		Seed            []SeedAsset `yaml:"seed"`
	} `yaml:"ledger"`
	Domains    map[string]Domain `yaml:"domains"`
	Rules      []ActionRule      `yaml:"rules"`
	Strategies struct {
		Dedupe      bool `yaml:"dedupe"`
		SelectLimit int  `yaml:"select_limit"`
	} `yaml:"strategies"`
	Executor Executor `yaml:"executor"`
	Cycle    struct {
		IntervalMinutes int `yaml:"interval_minutes"`
	} `yaml:"cycle"`
}

type Domain struct {
	Name    string   `yaml:"name"`
	Sources []string `yaml:"sources"`
}

type SeedAsset struct {
	Domain     string  `yaml:"domain"`
	ResourceID string  `yaml:"resource_id"`
	Name       string  `yaml:"name"`
	Quantity   int     `yaml:"quantity"`
	Value      float64 `yaml:"value"`
}

// Conditions are the trigger thresholds of a rule. Unset conditions are
// not evaluated; a rule fires only when all set conditions pass.
type Conditions struct {
	EventKinds       []string `yaml:"event_kinds"`
	MinActivity      *float64 `yaml:"min_activity"`
	PriceChangePct   *float64 `yaml:"price_change_pct"`
	MinResourceCount *int     `yaml:"min_resource_count"`
	MinRelevance     *float64 `yaml:"min_relevance"`
	ResourceType     string   `yaml:"resource_type"`
}

// ActionTemplate is the action a fired rule instantiates.
type ActionTemplate struct {
	Type            domain.ActionType   `yaml:"type"`
	Risk            domain.RiskLevel    `yaml:"risk"`
	ExpectedOutcome string              `yaml:"expected_outcome"`
	Params          domain.ActionParams `yaml:",inline"`
}

type ActionRule struct {
	Name       string         `yaml:"name"`
	Domain     string         `yaml:"domain"`
	Conditions Conditions     `yaml:"conditions"`
	Action     ActionTemplate `yaml:"action"`
}

type PrizeTier struct {
	P          float64 `yaml:"p"`
	Multiplier float64 `yaml:"multiplier"`
}

// Duration wraps time.Duration so YAML accepts values like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type Executor struct {
	BoundaryTimeout Duration    `yaml:"boundary_timeout"`
	FarmSuccess     float64     `yaml:"farm_success"`
	SellSuccess     float64     `yaml:"sell_success"`
	DevelopSuccess  float64     `yaml:"develop_success"`
	FallbackSuccess float64     `yaml:"fallback_success"`
	FallbackValue   float64     `yaml:"fallback_value"`
	FarmUnitValue   float64     `yaml:"farm_unit_value"`
	FarmMultiplier  float64     `yaml:"farm_multiplier"`
	FarmMaxUnits    int         `yaml:"farm_max_units"`
	Appreciation    float64     `yaml:"appreciation"`
	PrizeTiers      []PrizeTier `yaml:"prize_tiers"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run castd init first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Domains) == 0 {
		return fmt.Errorf("config.domains is required")
	}
	for id, d := range c.Domains {
		if id == "" {
			return fmt.Errorf("config.domains contains empty domain id")
		}
		if d.Name == "" {
			return fmt.Errorf("domain %s missing name", id)
		}
	}
	for _, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule with empty name")
		}
		if _, ok := c.Domains[r.Domain]; !ok {
			return fmt.Errorf("rule %s targets unknown domain %s", r.Name, r.Domain)
		}
		if r.Action.Type == "" {
			return fmt.Errorf("rule %s has no action type", r.Name)
		}
	}
	for _, s := range c.Ledger.Seed {
		if _, ok := c.Domains[s.Domain]; !ok {
			return fmt.Errorf("seed asset %s targets unknown domain %s", s.ResourceID, s.Domain)
		}
		if s.Quantity < 0 {
			return fmt.Errorf("seed asset %s has negative quantity", s.ResourceID)
		}
	}
	if c.Strategies.SelectLimit < 0 {
		return fmt.Errorf("strategies.select_limit must not be negative")
	}
	for i, t := range c.Executor.PrizeTiers {
		if t.P <= 0 || t.P > 1 {
			return fmt.Errorf("prize tier %d has probability outside (0,1]", i)
		}
		if i > 0 && t.P <= c.Executor.PrizeTiers[i-1].P {
			return fmt.Errorf("prize tiers must be sorted by ascending probability")
		}
	}
	return nil
}

// SelectLimit returns the per-cycle strategy limit, defaulting to 2.
func (c *Config) SelectLimit() int {
	if c.Strategies.SelectLimit == 0 {
		return 2
	}
	return c.Strategies.SelectLimit
}

// Interval returns the auto-cycle interval, defaulting to 60 minutes.
func (c *Config) Interval() time.Duration {
	if c.Cycle.IntervalMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.Cycle.IntervalMinutes) * time.Minute
}

// Tuning returns executor tuning with zero values replaced by defaults.
func (c *Config) Tuning() Executor {
	e := c.Executor
	if e.BoundaryTimeout == 0 {
		e.BoundaryTimeout = Duration(30 * time.Second)
	}
	if e.FarmSuccess == 0 {
		e.FarmSuccess = 0.9
	}
	if e.SellSuccess == 0 {
		e.SellSuccess = 0.8
	}
	if e.DevelopSuccess == 0 {
		e.DevelopSuccess = 0.85
	}
	if e.FallbackSuccess == 0 {
		e.FallbackSuccess = 0.8
	}
	if e.FallbackValue == 0 {
		e.FallbackValue = 0.1
	}
	if e.FarmUnitValue == 0 {
		e.FarmUnitValue = 0.01
	}
	if e.FarmMultiplier == 0 {
		e.FarmMultiplier = 5
	}
	if e.FarmMaxUnits == 0 {
		e.FarmMaxUnits = 10
	}
	if e.Appreciation == 0 {
		e.Appreciation = 1.2
	}
	if len(e.PrizeTiers) == 0 {
		e.PrizeTiers = []PrizeTier{
			{P: 0.1, Multiplier: 5},
			{P: 0.3, Multiplier: 2},
			{P: 0.5, Multiplier: 1.5},
		}
	}
	return e
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "castd.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

const defaultTemplate = `ledger:
  starting_balance: 5.0
  seed:
    - domain: aptos_knights
      resource_id: basic_tools
      name: Basic Tools
      quantity: 1
      value: 0.05
    - domain: crypto_racers
      resource_id: race_car
      name: Basic Race Car
      quantity: 1
      value: 0.2
    - domain: aptos_lands
      resource_id: land_plot
      name: Small Land Plot
      quantity: 1
      value: 0.5

domains:
  aptos_knights:
    name: Aptos Knights
    sources: [AptosKnights, APTosGames, Aptos]
  crypto_racers:
    name: Crypto Racers
    sources: [CryptoRacers, AptosRacing, Aptos]
  aptos_lands:
    name: Aptos Lands
    sources: [AptosLands, AptosMetaverse, Aptos]

strategies:
  dedupe: false
  select_limit: 2

cycle:
  interval_minutes: 60

executor:
  boundary_timeout: 30s

rules:
  - name: resource_farming
    domain: aptos_knights
    conditions:
      event_kinds: [update, promotion]
      min_activity: 30
    action:
      type: farm_resources
      risk: low
      expected_outcome: Gather resources during high-activity periods
      farm:
        resource_kinds: [wood, stone, gold]
        duration_hours: 2
        location: forest

  - name: asset_trading
    domain: aptos_knights
    conditions:
      price_change_pct: 10
      min_resource_count: 3
    action:
      type: sell_assets
      risk: medium
      expected_outcome: Sell assets when prices peak
      sell:
        marketplace: in_game
        min_price_increase: 15

  - name: competition_entry
    domain: crypto_racers
    conditions:
      event_kinds: [tournament]
      min_relevance: 50
    action:
      type: enter_tournament
      risk: medium
      expected_outcome: Participate in high-reward tournaments
      enter:
        class: best_available
        max_fee: 0.1

  - name: land_development
    domain: aptos_lands
    conditions:
      resource_type: land
      min_activity: 60
    action:
      type: develop_land
      risk: medium
      expected_outcome: Generate passive income from land
      develop:
        building_kind: resource_generator
        max_investment: 0.5
`
