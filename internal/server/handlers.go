package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"castd/internal/cycle"
	"castd/internal/domain"
	"castd/internal/intel"
	"castd/internal/tracker"
)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Controller status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body cycle.Status `json:"body"`
	}, error) {
		return &struct {
			Body cycle.Status `json:"body"`
		}{Body: cfg.Orchestrator.Status()}, nil
	})
}

func registerCycles(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "run-cycle",
		Method:      http.MethodPost,
		Path:        "/cycles",
		Summary:     "Run one control cycle",
		Description: "Runs gather, generate, select, execute, and record synchronously. Returns 409 while a cycle is already in progress.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.CycleResult `json:"body"`
	}, error) {
		result, err := cfg.Orchestrator.Run(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CycleResult `json:"body"`
		}{Body: result}, nil
	})
}

func registerIntel(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-domains",
		Method:      http.MethodGet,
		Path:        "/domains",
		Summary:     "List tracked domains",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.TrackedDomain `json:"body"`
	}, error) {
		domains, err := cfg.Repo.ListDomains(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TrackedDomain `json:"body"`
		}{Body: domains}, nil
	})

	type domainPath struct {
		DomainID string `path:"domain_id"`
		Days     int    `query:"days" default:"7" minimum:"1"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-signals",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/signals",
		Summary:     "List recent signals for a domain",
	}, func(ctx context.Context, input *domainPath) (*struct {
		Body []domain.Signal `json:"body"`
	}, error) {
		days := input.Days
		if days <= 0 {
			days = int(intel.SignalWindow / (24 * time.Hour))
		}
		since := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)
		signals, err := cfg.Repo.ListSignals(ctx, input.DomainID, since)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Signal `json:"body"`
		}{Body: signals}, nil
	})

	type resourcesPath struct {
		DomainID string `path:"domain_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-resources",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/resources",
		Summary:     "List tracked resources for a domain",
	}, func(ctx context.Context, input *resourcesPath) (*struct {
		Body []domain.TrackedResource `json:"body"`
	}, error) {
		resources, err := cfg.Repo.ListResources(ctx, input.DomainID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TrackedResource `json:"body"`
		}{Body: resources}, nil
	})

	type pricesPath struct {
		DomainID   string `path:"domain_id"`
		ResourceID string `path:"resource_id"`
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "price-history",
		Method:      http.MethodGet,
		Path:        "/domains/{domain_id}/resources/{resource_id}/prices",
		Summary:     "Price history for a tracked resource",
	}, func(ctx context.Context, input *pricesPath) (*struct {
		Body []domain.PricePoint `json:"body"`
	}, error) {
		prices, err := cfg.Repo.PriceHistory(ctx, input.DomainID, input.ResourceID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PricePoint `json:"body"`
		}{Body: prices}, nil
	})
}

func registerStrategies(api huma.API, cfg Config) {
	type listInput struct {
		Domain string `query:"domain"`
		Active bool   `query:"active"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-strategies",
		Method:      http.MethodGet,
		Path:        "/strategies",
		Summary:     "List strategies",
	}, func(ctx context.Context, input *listInput) (*struct {
		Body []domain.Strategy `json:"body"`
	}, error) {
		var (
			strategies []domain.Strategy
			err        error
		)
		switch {
		case input.Domain != "":
			strategies, err = cfg.Repo.ListStrategiesByDomain(ctx, input.Domain)
		case input.Active:
			strategies, err = cfg.Repo.ListActiveStrategies(ctx)
		default:
			strategies, err = cfg.Repo.ListStrategies(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Strategy `json:"body"`
		}{Body: strategies}, nil
	})

	type strategyPath struct {
		StrategyID string `path:"strategy_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-strategy",
		Method:      http.MethodGet,
		Path:        "/strategies/{strategy_id}",
		Summary:     "Get a strategy",
	}, func(ctx context.Context, input *strategyPath) (*struct {
		Body domain.Strategy `json:"body"`
	}, error) {
		s, err := cfg.Repo.GetStrategy(ctx, input.StrategyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Strategy `json:"body"`
		}{Body: s}, nil
	})
}

func registerLedger(api huma.API, cfg Config) {
	type ledgerBody struct {
		Balance        float64                `json:"balance"`
		PortfolioValue float64                `json:"portfolio_value"`
		Inventory      []domain.InventoryItem `json:"inventory,omitempty"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-ledger",
		Method:      http.MethodGet,
		Path:        "/ledger",
		Summary:     "Wallet balance and inventory",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ledgerBody `json:"body"`
	}, error) {
		balance, err := cfg.Repo.GetBalance(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		value, err := cfg.Repo.PortfolioValue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		inventory, err := cfg.Repo.ListInventory(ctx, "")
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ledgerBody `json:"body"`
		}{Body: ledgerBody{Balance: balance, PortfolioValue: value, Inventory: inventory}}, nil
	})

	type txInput struct {
		Limit int `query:"limit" default:"20" minimum:"1" maximum:"500"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-transactions",
		Method:      http.MethodGet,
		Path:        "/transactions",
		Summary:     "List recent transactions",
	}, func(ctx context.Context, input *txInput) (*struct {
		Body []domain.Transaction `json:"body"`
	}, error) {
		txs, err := cfg.Repo.ListRecentTransactions(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Transaction `json:"body"`
		}{Body: txs}, nil
	})
}

func registerPerformance(api huma.API, cfg Config) {
	type perfBody struct {
		Overall tracker.Overall            `json:"overall"`
		Domains []domain.DomainPerformance `json:"domains,omitempty"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-performance",
		Method:      http.MethodGet,
		Path:        "/performance",
		Summary:     "Overall and per-domain performance",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body perfBody `json:"body"`
	}, error) {
		overall, err := cfg.Tracker.Overall(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		perfs, err := cfg.Repo.ListDomainPerf(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body perfBody `json:"body"`
		}{Body: perfBody{Overall: overall, Domains: perfs}}, nil
	})

	type trendInput struct {
		Days int `query:"days" default:"7" minimum:"1" maximum:"365"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-trend",
		Method:      http.MethodGet,
		Path:        "/performance/trend",
		Summary:     "Portfolio value trend",
	}, func(ctx context.Context, input *trendInput) (*struct {
		Body []domain.TrendPoint `json:"body"`
	}, error) {
		points, err := cfg.Tracker.Trend(ctx, input.Days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TrendPoint `json:"body"`
		}{Body: points}, nil
	})

	type snapInput struct {
		Limit int `query:"limit" default:"20" minimum:"1" maximum:"500"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-snapshots",
		Method:      http.MethodGet,
		Path:        "/snapshots",
		Summary:     "List performance snapshots",
	}, func(ctx context.Context, input *snapInput) (*struct {
		Body []domain.Snapshot `json:"body"`
	}, error) {
		snaps, err := cfg.Repo.ListRecentSnapshots(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Snapshot `json:"body"`
		}{Body: snaps}, nil
	})

	type reportBody struct {
		Report string `json:"report"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/report",
		Summary:     "Markdown performance report",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body reportBody `json:"body"`
	}, error) {
		report, err := cfg.Tracker.Report(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body reportBody `json:"body"`
		}{Body: reportBody{Report: report}}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	type eventsInput struct {
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *eventsInput) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		evts, err := cfg.Repo.LatestEvents(ctx, input.Limit, input.Type, input.EntityKind)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: evts}, nil
	})
}
