package execution

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirillm/defairy-rebalancer/internal/domain"
)

const (
	whirlpoolProgramID   = "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"
	raydiumCLMMProgramID = "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK"
)

// Planner строит шаги транзакции для одного DEX
type Planner interface {
	Venue() domain.Venue
	Steps(position *domain.Position, action domain.RebalanceAction) ([]domain.PlanStep, error)
}

// Planners реестр планировщиков по venue
type Planners map[domain.Venue]Planner

// DefaultPlanners Orca и Raydium
func DefaultPlanners(guard *SlippageGuard) Planners {
	return NewPlanners(&OrcaPlanner{guard: guard}, &RaydiumPlanner{guard: guard})
}

// NewPlanners собирает реестр
func NewPlanners(planners ...Planner) Planners {
	p := make(Planners, len(planners))
	for _, planner := range planners {
		p[planner.Venue()] = planner
	}
	return p
}

// Build строит план. Неподдерживаемый venue -> ErrUnsupportedVenue.
func (p Planners) Build(entry *domain.QueueEntry, action domain.RebalanceAction, now time.Time) (*domain.TransactionPlan, error) {
	planner, ok := p[entry.Position.Venue]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedVenue, entry.Position.Venue)
	}

	steps, err := planner.Steps(&entry.Position, action)
	if err != nil {
		return nil, err
	}

	return &domain.TransactionPlan{
		ID:             uuid.NewString(),
		Venue:          entry.Position.Venue,
		WalletAddress:  entry.WalletAddress,
		PoolID:         entry.Position.PoolID,
		Action:         action,
		Steps:          steps,
		EstimatedValue: action.EstimatedValue,
		CreatedAt:      now,
	}, nil
}

// OrcaPlanner Whirlpools
type OrcaPlanner struct {
	guard *SlippageGuard
}

func (o *OrcaPlanner) Venue() domain.Venue { return domain.VenueOrca }

func (o *OrcaPlanner) Steps(position *domain.Position, action domain.RebalanceAction) ([]domain.PlanStep, error) {
	switch action.Type {
	case domain.ActionCloseAndReopen:
		if action.Range == nil {
			return nil, fmt.Errorf("%w: close-and-reopen without target range", domain.ErrInvalidInput)
		}
		pool := map[string]interface{}{"whirlpool": position.PoolID}
		return []domain.PlanStep{
			{Program: whirlpoolProgramID, Instruction: "collectFees", Params: pool},
			{Program: whirlpoolProgramID, Instruction: "decreaseLiquidity", Params: map[string]interface{}{"whirlpool": position.PoolID, "liquidity_percent": 100}},
			{Program: whirlpoolProgramID, Instruction: "closePosition", Params: pool},
			{Program: whirlpoolProgramID, Instruction: "openPosition", Params: map[string]interface{}{
				"whirlpool":  position.PoolID,
				"tick_lower": action.Range.LowerTick,
				"tick_upper": action.Range.UpperTick,
			}},
			{Program: whirlpoolProgramID, Instruction: "increaseLiquidity", Params: map[string]interface{}{
				"whirlpool":   position.PoolID,
				"balance_usd": position.BalanceUSD,
			}},
		}, nil

	case domain.ActionSwapRebalance:
		swap, err := swapParams(position, action, o.guard)
		if err != nil {
			return nil, err
		}
		swap["whirlpool"] = position.PoolID
		return []domain.PlanStep{
			{Program: whirlpoolProgramID, Instruction: "swap", Params: swap},
		}, nil

	default:
		return nil, fmt.Errorf("%w: action %s", domain.ErrInvalidInput, action.Type)
	}
}

// RaydiumPlanner Raydium CLMM
type RaydiumPlanner struct {
	guard *SlippageGuard
}

func (r *RaydiumPlanner) Venue() domain.Venue { return domain.VenueRaydium }

func (r *RaydiumPlanner) Steps(position *domain.Position, action domain.RebalanceAction) ([]domain.PlanStep, error) {
	switch action.Type {
	case domain.ActionCloseAndReopen:
		if action.Range == nil {
			return nil, fmt.Errorf("%w: close-and-reopen without target range", domain.ErrInvalidInput)
		}
		pool := map[string]interface{}{"pool_state": position.PoolID}
		return []domain.PlanStep{
			{Program: raydiumCLMMProgramID, Instruction: "decreaseLiquidityV2", Params: map[string]interface{}{"pool_state": position.PoolID, "liquidity_percent": 100, "harvest": true}},
			{Program: raydiumCLMMProgramID, Instruction: "closePosition", Params: pool},
			{Program: raydiumCLMMProgramID, Instruction: "openPositionV2", Params: map[string]interface{}{
				"pool_state":       position.PoolID,
				"tick_lower_index": action.Range.LowerTick,
				"tick_upper_index": action.Range.UpperTick,
				"balance_usd":      position.BalanceUSD,
			}},
		}, nil

	case domain.ActionSwapRebalance:
		swap, err := swapParams(position, action, r.guard)
		if err != nil {
			return nil, err
		}
		swap["pool_state"] = position.PoolID
		return []domain.PlanStep{
			{Program: raydiumCLMMProgramID, Instruction: "swapV2", Params: swap},
		}, nil

	default:
		return nil, fmt.Errorf("%w: action %s", domain.ErrInvalidInput, action.Type)
	}
}

func swapParams(position *domain.Position, action domain.RebalanceAction, guard *SlippageGuard) (map[string]interface{}, error) {
	if action.Swap == nil || position.Token0 == nil || position.Token1 == nil {
		return nil, fmt.Errorf("%w: swap without plan", domain.ErrInvalidInput)
	}

	in, out := position.Token0, position.Token1
	if action.Swap.FromSymbol == position.Token1.Symbol {
		in, out = position.Token1, position.Token0
	}

	params := map[string]interface{}{
		"input_symbol":  in.Symbol,
		"output_symbol": out.Symbol,
		"amount_in":     action.Swap.Amount,
	}
	if guard != nil {
		params["slippage_bps"] = guard.Bps()
		params["min_amount_out"] = guard.MinAmountOut(ExpectedOut(action.Swap.Amount, in.Price, out.Price))
	}
	return params, nil
}
