package portfolio

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/safety"
	"github.com/ducminhle1904/crypto-risk-engine/pkg/types"
)

// HeatTracker owns the open-positions ledger and answers how much new risk
// the account may take. Add and Remove are the only mutators.
type HeatTracker struct {
	config    HeatConfig
	store     PositionStore
	validator *safety.Validator

	mutex     sync.RWMutex
	positions map[string]types.OpenPositionRisk
	total     decimal.Decimal
}

// NewHeatTracker creates a tracker seeded with already-persisted positions.
// A nil store keeps the ledger in memory only.
func NewHeatTracker(config HeatConfig, store PositionStore, open []types.OpenPositionRisk) (*HeatTracker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	h := &HeatTracker{
		config:    config,
		store:     store,
		validator: safety.NewValidator(),
		positions: make(map[string]types.OpenPositionRisk, len(open)),
		total:     decimal.Zero,
	}
	for _, pos := range open {
		if err := h.validatePosition("load", pos); err != nil {
			return nil, err
		}
		if _, exists := h.positions[pos.ID]; exists {
			return nil, rerrors.NewInvalidInput(component, "load", "position "+pos.ID+" loaded twice", rerrors.ErrDuplicatePosition)
		}
		h.positions[pos.ID] = pos
		h.total = h.total.Add(decimal.NewFromFloat(pos.RiskAmountUSD))
	}
	return h, nil
}

// Config returns the heat ceilings
func (h *HeatTracker) Config() HeatConfig {
	return h.config
}

func (h *HeatTracker) validatePosition(op string, pos types.OpenPositionRisk) error {
	return safety.First(
		h.validator.ValidateStringNotEmpty(pos.ID, "position id"),
		h.validator.ValidateSymbol(pos.Symbol),
		h.validator.ValidateNonNegative(pos.RiskAmountUSD, "risk amount"),
	).Err(component, op)
}

// CheckHeat reports open risk against the caps for equity, and whether a
// position carrying proposedRisk may open.
func (h *HeatTracker) CheckHeat(proposedRisk, equity float64) (HeatStatus, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.check(proposedRisk, equity)
}

// check assumes the caller holds the lock.
func (h *HeatTracker) check(proposedRisk, equity float64) (HeatStatus, error) {
	const op = "check heat"
	if err := safety.First(
		h.validator.ValidateEquity(equity),
		h.validator.ValidateNonNegative(proposedRisk, "proposed risk"),
	).Err(component, op); err != nil {
		return HeatStatus{}, err
	}

	eq := decimal.NewFromFloat(equity)
	proposed := decimal.NewFromFloat(proposedRisk)
	positionCap := eq.Mul(decimal.NewFromFloat(h.config.MaxPositionHeat))
	portfolioCap := eq.Mul(decimal.NewFromFloat(h.config.MaxPortfolioHeat))

	remaining := decimal.Max(decimal.Zero, portfolioCap.Sub(h.total))
	allowed := decimal.Min(positionCap, remaining)
	projected := h.total.Add(proposed)

	status := HeatStatus{
		EquityUSD:        equity,
		TotalOpenRiskUSD: h.total.InexactFloat64(),
		ProposedRiskUSD:  proposedRisk,
		HeatFraction:     h.total.Div(eq).InexactFloat64(),
		ProjectedHeat:    projected.Div(eq).InexactFloat64(),
		Utilization:      h.total.Div(portfolioCap).InexactFloat64(),
		PositionCapUSD:   positionCap.InexactFloat64(),
		PortfolioCapUSD:  portfolioCap.InexactFloat64(),
		RemainingUSD:     remaining.InexactFloat64(),
		AllowedRiskUSD:   allowed.InexactFloat64(),
		OpenPositions:    len(h.positions),
		CanOpen:          proposed.LessThanOrEqual(positionCap) && projected.LessThanOrEqual(portfolioCap),
	}
	status.Level = heatLevel(status.Utilization)
	return status, nil
}

// CanOpen is true only if proposedRisk fits both the position cap and the
// remaining portfolio cap.
func (h *HeatTracker) CanOpen(proposedRisk, equity float64) (bool, error) {
	status, err := h.CheckHeat(proposedRisk, equity)
	if err != nil {
		return false, err
	}
	return status.CanOpen, nil
}

// AllowedRisk returns the largest risk a new position may carry at equity
func (h *HeatTracker) AllowedRisk(equity float64) (float64, error) {
	status, err := h.CheckHeat(0, equity)
	if err != nil {
		return 0, err
	}
	return status.AllowedRiskUSD, nil
}

// Add persists and records an open position
func (h *HeatTracker) Add(ctx context.Context, pos types.OpenPositionRisk) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.add(ctx, pos)
}

func (h *HeatTracker) add(ctx context.Context, pos types.OpenPositionRisk) error {
	const op = "add position"
	if err := h.validatePosition(op, pos); err != nil {
		return err
	}
	if _, exists := h.positions[pos.ID]; exists {
		return rerrors.NewInvalidInput(component, op, fmt.Sprintf("position %s is already open", pos.ID), rerrors.ErrDuplicatePosition)
	}
	if h.store != nil {
		if err := h.store.PutPosition(ctx, pos); err != nil {
			return err
		}
	}
	h.positions[pos.ID] = pos
	h.total = h.total.Add(decimal.NewFromFloat(pos.RiskAmountUSD))
	return nil
}

// TryAdd checks heat and adds pos under one lock acquisition. added is false
// when the position does not fit; the ledger is then unchanged.
func (h *HeatTracker) TryAdd(ctx context.Context, pos types.OpenPositionRisk, equity float64) (HeatStatus, bool, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	status, err := h.check(pos.RiskAmountUSD, equity)
	if err != nil || !status.CanOpen {
		return status, false, err
	}
	if err := h.add(ctx, pos); err != nil {
		return status, false, err
	}
	after, err := h.check(0, equity)
	return after, err == nil, err
}

// Remove deletes an open position from the store and the ledger
func (h *HeatTracker) Remove(ctx context.Context, id string) (types.OpenPositionRisk, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	pos, exists := h.positions[id]
	if !exists {
		return types.OpenPositionRisk{}, rerrors.NewInvalidInput(component, "remove position",
			fmt.Sprintf("position %s is not open", id), rerrors.ErrPositionNotFound)
	}
	if h.store != nil {
		if err := h.store.DeletePosition(ctx, id); err != nil {
			return types.OpenPositionRisk{}, err
		}
	}
	delete(h.positions, id)
	h.total = h.total.Sub(decimal.NewFromFloat(pos.RiskAmountUSD))
	return pos, nil
}

// Get returns one open position
func (h *HeatTracker) Get(id string) (types.OpenPositionRisk, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	pos, ok := h.positions[id]
	return pos, ok
}

// TotalOpenRisk returns the summed risk of all open positions
func (h *HeatTracker) TotalOpenRisk() float64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.total.InexactFloat64()
}

// Positions returns a copy of the ledger ordered by open time, then id
func (h *HeatTracker) Positions() []types.OpenPositionRisk {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	out := make([]types.OpenPositionRisk, 0, len(h.positions))
	for _, pos := range h.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
