package domain

// ActionType enumerates the executable action kinds the executor knows how
// to settle. Unknown types fall through to the fallback settlement.
type ActionType string

const (
	ActionFarm    ActionType = "farm_resources"
	ActionSell    ActionType = "sell_assets"
	ActionEnter   ActionType = "enter_tournament"
	ActionDevelop ActionType = "develop_land"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type FarmParams struct {
	ResourceKinds []string `json:"resource_kinds" yaml:"resource_kinds"`
	DurationHours int      `json:"duration_hours,omitempty" yaml:"duration_hours"`
	Location      string   `json:"location,omitempty" yaml:"location"`
}

type SellParams struct {
	Marketplace      string  `json:"marketplace,omitempty" yaml:"marketplace"`
	MinPriceIncrease float64 `json:"min_price_increase" yaml:"min_price_increase"`
}

type EnterParams struct {
	Class  string  `json:"class,omitempty" yaml:"class"`
	MaxFee float64 `json:"max_fee" yaml:"max_fee"`
}

type DevelopParams struct {
	BuildingKind  string  `json:"building_kind" yaml:"building_kind"`
	MaxInvestment float64 `json:"max_investment" yaml:"max_investment"`
}

// ActionParams is a tagged union: exactly one variant is set, matching the
// action's Type.
type ActionParams struct {
	Farm    *FarmParams    `json:"farm,omitempty" yaml:"farm"`
	Sell    *SellParams    `json:"sell,omitempty" yaml:"sell"`
	Enter   *EnterParams   `json:"enter,omitempty" yaml:"enter"`
	Develop *DevelopParams `json:"develop,omitempty" yaml:"develop"`
}

type Action struct {
	Type            ActionType   `json:"type"`
	Domain          string       `json:"domain"`
	Params          ActionParams `json:"params"`
	ExpectedOutcome string       `json:"expected_outcome,omitempty"`
	PriorityScore   float64      `json:"priority_score"`
	RiskLevel       RiskLevel    `json:"risk_level"`
}

type Strategy struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Domain            string   `json:"domain"`
	Rule              string   `json:"rule,omitempty"`
	Description       string   `json:"description,omitempty"`
	Actions           []Action `json:"actions"`
	EstimatedROI      float64  `json:"estimated_roi"`
	RequiredResources []string `json:"required_resources,omitempty"`
	Status            string   `json:"status" enum:"active,inactive,testing"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
	UpdatedAt         string   `json:"updated_at" format:"date-time"`
	LastExecutedAt    *string  `json:"last_executed_at,omitempty" format:"date-time"`
	LastPerformance   *float64 `json:"last_performance,omitempty"`
}

type Signal struct {
	ID          string  `json:"id"`
	Domain      string  `json:"domain"`
	Kind        string  `json:"kind"`
	Description string  `json:"description"`
	TS          string  `json:"ts" format:"date-time"`
	Source      string  `json:"source"`
	Relevance   float64 `json:"relevance"`
}

type PricePoint struct {
	TS    string  `json:"ts" format:"date-time"`
	Price float64 `json:"price"`
}

type TrackedResource struct {
	Domain       string       `json:"domain"`
	ResourceID   string       `json:"resource_id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	LastPrice    *float64     `json:"last_price,omitempty"`
	PriceHistory []PricePoint `json:"price_history,omitempty"`
}

type TrackedDomain struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Activity    float64 `json:"activity"`
	LastUpdated string  `json:"last_updated,omitempty" format:"date-time"`
}

type InventoryItem struct {
	Domain           string  `json:"domain"`
	ResourceID       string  `json:"resource_id"`
	Name             string  `json:"name"`
	Quantity         int     `json:"quantity"`
	LastKnownValue   float64 `json:"last_known_value"`
	AcquisitionDate  string  `json:"acquisition_date" format:"date-time"`
	AcquisitionPrice float64 `json:"acquisition_price"`
}

const (
	TxPending   = "pending"
	TxConfirmed = "confirmed"
	TxFailed    = "failed"
)

type Transaction struct {
	ID          string   `json:"id"`
	Domain      string   `json:"domain"`
	ActionType  string   `json:"action_type"`
	Description string   `json:"description,omitempty"`
	ResourceIDs []string `json:"resource_ids,omitempty"`
	Value       float64  `json:"value"`
	TS          string   `json:"ts" format:"date-time"`
	Status      string   `json:"status" enum:"pending,confirmed,failed"`
	Reference   string   `json:"reference,omitempty"`
	StrategyID  string   `json:"strategy_id,omitempty"`
}

// SnapshotAction is the per-transaction summary embedded in a snapshot.
type SnapshotAction struct {
	ActionType string  `json:"action_type"`
	Value      float64 `json:"value"`
	Status     string  `json:"status"`
}

// StrategyScore ties a strategy to its most recent performance figure.
type StrategyScore struct {
	StrategyID  string  `json:"strategy_id"`
	Name        string  `json:"name"`
	Performance float64 `json:"performance"`
}

type Snapshot struct {
	ID          string           `json:"id"`
	TS          string           `json:"ts" format:"date-time"`
	Domain      string           `json:"domain"`
	AssetValue  float64          `json:"asset_value"`
	CashBalance float64          `json:"cash_balance"`
	TotalValue  float64          `json:"total_value"`
	Actions     []SnapshotAction `json:"actions,omitempty"`
	Strategies  []StrategyScore  `json:"strategies,omitempty"`
}

type DomainPerformance struct {
	Domain          string         `json:"domain"`
	Name            string         `json:"name"`
	ROI             float64        `json:"roi"`
	TotalInvestment float64        `json:"total_investment"`
	CurrentValue    float64        `json:"current_value"`
	BestStrategy    *StrategyScore `json:"best_strategy,omitempty"`
	WorstStrategy   *StrategyScore `json:"worst_strategy,omitempty"`
}

const (
	OutcomeConfirmed = "confirmed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// ActionOutcome is the per-action result reported back from a cycle.
type ActionOutcome struct {
	StrategyID    string     `json:"strategy_id"`
	StrategyName  string     `json:"strategy_name"`
	ActionType    ActionType `json:"action_type"`
	Status        string     `json:"status" enum:"confirmed,failed,skipped"`
	Reason        string     `json:"reason,omitempty"`
	Value         float64    `json:"value"`
	TransactionID string     `json:"transaction_id,omitempty"`
}

type CycleResult struct {
	Cycle               int             `json:"cycle"`
	StartedAt           string          `json:"started_at" format:"date-time"`
	FinishedAt          string          `json:"finished_at" format:"date-time"`
	SignalsGathered     int             `json:"signals_gathered"`
	StrategiesGenerated int             `json:"strategies_generated"`
	StrategiesSelected  int             `json:"strategies_selected"`
	Outcomes            []ActionOutcome `json:"outcomes,omitempty"`
	PortfolioValue      float64         `json:"portfolio_value"`
	ROI                 float64         `json:"roi"`
}

type TrendPoint struct {
	TS         string  `json:"ts" format:"date-time"`
	TotalValue float64 `json:"total_value"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	Domain     string `json:"domain,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
