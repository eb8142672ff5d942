package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"castd/internal/config"
	"castd/internal/domain"
)

func TestDefaultTemplateParses(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Ledger.StartingBalance != 5.0 {
		t.Fatalf("starting balance = %v, want 5.0", cfg.Ledger.StartingBalance)
	}
	if len(cfg.Domains) != 3 {
		t.Fatalf("domains = %d, want 3", len(cfg.Domains))
	}
	if len(cfg.Rules) != 4 {
		t.Fatalf("rules = %d, want 4", len(cfg.Rules))
	}
	for _, r := range cfg.Rules {
		switch r.Action.Type {
		case domain.ActionFarm:
			if r.Action.Params.Farm == nil {
				t.Fatalf("rule %s missing farm params", r.Name)
			}
		case domain.ActionSell:
			if r.Action.Params.Sell == nil {
				t.Fatalf("rule %s missing sell params", r.Name)
			}
		case domain.ActionEnter:
			if r.Action.Params.Enter == nil {
				t.Fatalf("rule %s missing enter params", r.Name)
			}
		case domain.ActionDevelop:
			if r.Action.Params.Develop == nil {
				t.Fatalf("rule %s missing develop params", r.Name)
			}
		}
	}
	if got := time.Duration(cfg.Executor.BoundaryTimeout); got != 30*time.Second {
		t.Fatalf("boundary timeout = %v, want 30s", got)
	}
}

func TestDurationParsing(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
domains:
  d1:
    name: Domain One
executor:
  boundary_timeout: 90s
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := time.Duration(cfg.Executor.BoundaryTimeout); got != 90*time.Second {
		t.Fatalf("timeout = %v, want 90s", got)
	}

	if _, err := config.FromYAML([]byte(`
domains:
  d1:
    name: Domain One
executor:
  boundary_timeout: not-a-duration
`)); err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("err = %v, want invalid duration", err)
	}
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no domains",
			yaml: `rules: []`,
			want: "domains is required",
		},
		{
			name: "rule targets unknown domain",
			yaml: `
domains:
  d1:
    name: Domain One
rules:
  - name: r1
    domain: missing
    action:
      type: farm_resources
`,
			want: "unknown domain",
		},
		{
			name: "rule without action type",
			yaml: `
domains:
  d1:
    name: Domain One
rules:
  - name: r1
    domain: d1
`,
			want: "no action type",
		},
		{
			name: "seed targets unknown domain",
			yaml: `
domains:
  d1:
    name: Domain One
ledger:
  seed:
    - domain: missing
      resource_id: tools
`,
			want: "unknown domain",
		},
		{
			name: "unsorted prize tiers",
			yaml: `
domains:
  d1:
    name: Domain One
executor:
  prize_tiers:
    - p: 0.3
      multiplier: 2
    - p: 0.1
      multiplier: 5
`,
			want: "ascending",
		},
		{
			name: "prize probability out of range",
			yaml: `
domains:
  d1:
    name: Domain One
executor:
  prize_tiers:
    - p: 1.5
      multiplier: 2
`,
			want: "outside (0,1]",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestTuningDefaults(t *testing.T) {
	cfg := &config.Config{}
	tuning := cfg.Tuning()
	if tuning.FarmSuccess != 0.9 || tuning.SellSuccess != 0.8 || tuning.DevelopSuccess != 0.85 {
		t.Fatalf("success defaults = %v/%v/%v", tuning.FarmSuccess, tuning.SellSuccess, tuning.DevelopSuccess)
	}
	if tuning.FarmUnitValue != 0.01 || tuning.FarmMultiplier != 5 || tuning.FarmMaxUnits != 10 {
		t.Fatalf("farm defaults = %v/%v/%d", tuning.FarmUnitValue, tuning.FarmMultiplier, tuning.FarmMaxUnits)
	}
	if tuning.Appreciation != 1.2 {
		t.Fatalf("appreciation = %v, want 1.2", tuning.Appreciation)
	}
	if len(tuning.PrizeTiers) != 3 || tuning.PrizeTiers[0].Multiplier != 5 {
		t.Fatalf("prize tiers = %+v", tuning.PrizeTiers)
	}
	if cfg.SelectLimit() != 2 {
		t.Fatalf("select limit = %d, want 2", cfg.SelectLimit())
	}
	if cfg.Interval() != 60*time.Minute {
		t.Fatalf("interval = %v, want 60m", cfg.Interval())
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "castd init") {
		t.Fatalf("err = %v, want hint to run castd init", err)
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	workspace := t.TempDir()
	path := filepath.Join(workspace, "castd.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Domains) != 3 {
		t.Fatalf("domains = %d, want 3", len(cfg.Domains))
	}
}
