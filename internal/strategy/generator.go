// Package strategy evaluates action rules against collected intel and ranks
// the resulting strategies for execution.
package strategy

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"castd/internal/config"
	"castd/internal/domain"
	"castd/internal/events"
	"castd/internal/intel"
	"castd/internal/repo"
	"castd/internal/rng"
)

// Per-type ROI estimates, in percent.
var roiByType = map[domain.ActionType]float64{
	domain.ActionFarm:    15,
	domain.ActionSell:    30,
	domain.ActionEnter:   50,
	domain.ActionDevelop: 25,
}

const fallbackROI = 20

// Resources a strategy needs in inventory before its action may run.
var requiredByType = map[domain.ActionType][]string{
	domain.ActionFarm:    {"basic_tools"},
	domain.ActionEnter:   {"race_car"},
	domain.ActionDevelop: {"land_plot"},
}

type Generator struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Rand   rng.Rand
	Rules  []config.ActionRule
	Dedupe bool
	Now    func() time.Time
}

// Generate evaluates every rule against the current window of signals and
// intel, and persists a strategy for each rule that fires. With Dedupe set,
// a rule is skipped while an active, never-executed strategy from the same
// rule exists.
func (g Generator) Generate(ctx context.Context, domains map[string]config.Domain) ([]domain.Strategy, error) {
	now := g.Now().UTC()
	since := now.Add(-intel.SignalWindow).Format(time.RFC3339)

	var out []domain.Strategy
	for _, rule := range g.Rules {
		d, ok := domains[rule.Domain]
		if !ok {
			continue
		}
		fired, signals, err := g.evaluate(ctx, rule, since)
		if err != nil {
			return out, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		if !fired {
			continue
		}
		if g.Dedupe {
			pending, err := g.Repo.HasActiveUnexecuted(ctx, rule.Domain, rule.Name)
			if err != nil {
				return out, err
			}
			if pending {
				continue
			}
		}
		s, err := g.build(ctx, rule, d.Name, signals, now)
		if err != nil {
			return out, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// evaluate checks every set condition; all must pass. Returns the window's
// signals so priority scoring can reuse them.
func (g Generator) evaluate(ctx context.Context, rule config.ActionRule, since string) (bool, []domain.Signal, error) {
	signals, err := g.Repo.ListSignals(ctx, rule.Domain, since)
	if err != nil {
		return false, nil, err
	}
	c := rule.Conditions

	if len(c.EventKinds) > 0 {
		kinds := make(map[string]bool, len(c.EventKinds))
		for _, k := range c.EventKinds {
			kinds[k] = true
		}
		match := false
		for _, s := range signals {
			if kinds[s.Kind] {
				match = true
				break
			}
		}
		if !match {
			return false, signals, nil
		}
	}
	if c.MinRelevance != nil {
		match := false
		for _, s := range signals {
			if s.Relevance >= *c.MinRelevance {
				match = true
				break
			}
		}
		if !match {
			return false, signals, nil
		}
	}
	if c.MinActivity != nil {
		d, err := g.Repo.GetDomain(ctx, rule.Domain)
		if err != nil {
			if err == repo.ErrNotFound {
				return false, signals, nil
			}
			return false, signals, err
		}
		if d.Activity < *c.MinActivity {
			return false, signals, nil
		}
	}
	if c.PriceChangePct != nil {
		moved, err := g.anyPriceMove(ctx, rule.Domain, *c.PriceChangePct)
		if err != nil {
			return false, signals, err
		}
		if !moved {
			return false, signals, nil
		}
	}
	if c.MinResourceCount != nil {
		n, err := g.Repo.CountResources(ctx, rule.Domain)
		if err != nil {
			return false, signals, err
		}
		if n < *c.MinResourceCount {
			return false, signals, nil
		}
	}
	if c.ResourceType != "" {
		ok, err := g.Repo.ResourceOfTypeExists(ctx, rule.Domain, c.ResourceType)
		if err != nil {
			return false, signals, err
		}
		if !ok {
			return false, signals, nil
		}
	}
	return true, signals, nil
}

// anyPriceMove reports whether any tracked resource's last two observations
// differ by at least pct percent, in either direction.
func (g Generator) anyPriceMove(ctx context.Context, domainID string, pct float64) (bool, error) {
	resources, err := g.Repo.ListResources(ctx, domainID)
	if err != nil {
		return false, err
	}
	for _, res := range resources {
		prices, err := g.Repo.LastTwoPrices(ctx, domainID, res.ResourceID)
		if err != nil {
			return false, err
		}
		if len(prices) < 2 || prices[1] == 0 {
			continue
		}
		change := math.Abs((prices[0] - prices[1]) / prices[1] * 100)
		if change >= pct {
			return true, nil
		}
	}
	return false, nil
}

func (g Generator) build(ctx context.Context, rule config.ActionRule, domainName string, signals []domain.Signal, now time.Time) (domain.Strategy, error) {
	activity := 0.0
	if d, err := g.Repo.GetDomain(ctx, rule.Domain); err == nil {
		activity = d.Activity
	}

	action := domain.Action{
		Type:            rule.Action.Type,
		Domain:          rule.Domain,
		Params:          rule.Action.Params,
		ExpectedOutcome: rule.Action.ExpectedOutcome,
		PriorityScore:   priorityScore(rule.Action, activity, signals),
		RiskLevel:       rule.Action.Risk,
	}

	ts := now.Format(time.RFC3339)
	s := domain.Strategy{
		ID:                uuid.New().String(),
		Name:              strategyName(g.Rand, rule.Name, domainName),
		Domain:            rule.Domain,
		Rule:              rule.Name,
		Description:       describe(rule, domainName),
		Actions:           []domain.Action{action},
		EstimatedROI:      estimatedROI(rule.Action.Type),
		RequiredResources: requiredByType[rule.Action.Type],
		Status:            "active",
		CreatedAt:         ts,
		UpdatedAt:         ts,
	}

	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := g.Repo.InsertStrategyTx(ctx, tx, s); err != nil {
		return s, err
	}
	if err := g.Events.Append(ctx, tx, "strategy.generated", s.Domain, "strategy", s.ID, events.EventPayload{
		"name": s.Name,
		"rule": rule.Name,
		"roi":  s.EstimatedROI,
	}); err != nil {
		return s, err
	}
	return s, tx.Commit()
}

// priorityScore starts at 50 and adjusts by action type and risk, clamped
// to [0,100].
func priorityScore(tmpl config.ActionTemplate, activity float64, signals []domain.Signal) float64 {
	score := 50.0
	switch tmpl.Type {
	case domain.ActionFarm:
		score += activity / 2
	case domain.ActionSell:
		score += 30
	case domain.ActionEnter:
		tournaments := 0
		for _, s := range signals {
			if s.Kind == "tournament" {
				tournaments++
			}
		}
		score += float64(tournaments) * 10
	case domain.ActionDevelop:
		score += 20
	}
	switch tmpl.Risk {
	case domain.RiskLow:
		score += 10
	case domain.RiskHigh:
		score -= 10
	}
	return math.Max(0, math.Min(100, score))
}

func estimatedROI(t domain.ActionType) float64 {
	if roi, ok := roiByType[t]; ok {
		return roi
	}
	return fallbackROI
}

var nameVariants = map[string][]string{
	"resource_farming":  {"%s Resource Harvester", "%s Efficient Farmer", "%s Resource Optimization"},
	"asset_trading":     {"%s Market Tactician", "%s Asset Flipper", "%s Peak Seller"},
	"competition_entry": {"%s Tournament Pro", "%s Championship Strategy", "%s Competition Optimizer"},
	"land_development":  {"%s Land Baron", "%s Property Developer", "%s Real Estate Magnate"},
}

func strategyName(r rng.Rand, ruleName, domainName string) string {
	variants, ok := nameVariants[ruleName]
	if !ok {
		return fmt.Sprintf("%s %s Strategy", domainName, strings.ReplaceAll(ruleName, "_", " "))
	}
	i := 0
	if r != nil {
		i = int(r.Next() * float64(len(variants)))
		if i >= len(variants) {
			i = len(variants) - 1
		}
	}
	return fmt.Sprintf(variants[i], domainName)
}

func describe(rule config.ActionRule, domainName string) string {
	p := rule.Action.Params
	switch rule.Action.Type {
	case domain.ActionFarm:
		if p.Farm != nil {
			return fmt.Sprintf("Automatically farm %s resources in %s at %s for optimal efficiency.",
				strings.Join(p.Farm.ResourceKinds, ", "), domainName, p.Farm.Location)
		}
	case domain.ActionSell:
		if p.Sell != nil {
			return fmt.Sprintf("Monitor the %s marketplace and sell assets when they increase in price by at least %.0f%%.",
				domainName, p.Sell.MinPriceIncrease)
		}
	case domain.ActionEnter:
		if p.Enter != nil {
			return fmt.Sprintf("Participate in %s tournaments using the best available %s with a maximum entry fee of %.2f.",
				domainName, strings.ReplaceAll(p.Enter.Class, "_", " "), p.Enter.MaxFee)
		}
	case domain.ActionDevelop:
		if p.Develop != nil {
			return fmt.Sprintf("Develop %s land by building %ss to generate passive income, investing up to %.2f.",
				domainName, strings.ReplaceAll(p.Develop.BuildingKind, "_", " "), p.Develop.MaxInvestment)
		}
	}
	return fmt.Sprintf("Execute optimal %s strategy in %s.", strings.ReplaceAll(string(rule.Action.Type), "_", " "), domainName)
}
