package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mt5-llm-trader/internal/guardrails"
	"mt5-llm-trader/internal/interfaces"
	"mt5-llm-trader/internal/logger"
	"mt5-llm-trader/internal/telemetry"
	"mt5-llm-trader/internal/tradelog"
	"mt5-llm-trader/internal/trademgr"
	"mt5-llm-trader/internal/types"
)

// dealOverlap re-reads a window before the last check so deals stamped late by
// the terminal are not missed; seen tickets stop them being booked twice.
const dealOverlap = 2 * time.Minute

// positionManager runs the exit rules on open positions and books the
// positions the broker has closed.
type positionManager struct {
	broker   interfaces.Broker
	mgr      *trademgr.Manager
	tel      *telemetry.Telemetry
	guards   *guardrails.Guardrails
	notifier interfaces.Notifier
	magic    int64
	bar      time.Duration
	now      func() time.Time

	lastCheck time.Time
	seen      map[uint64]time.Time // OUT deal ticket -> deal time
	partials  map[uint64]*realized // position ticket -> partial closes already booked
}

// realized accumulates the partial closes of a position that is still open.
type realized struct {
	profit float64
	fills  []telemetry.Fill
}

func newPositionManager(broker interfaces.Broker, mgr *trademgr.Manager, tel *telemetry.Telemetry, guards *guardrails.Guardrails, notifier interfaces.Notifier, magic int64, bar time.Duration, now func() time.Time) *positionManager {
	if bar <= 0 {
		bar = 5 * time.Minute
	}
	return &positionManager{
		broker:    broker,
		mgr:       mgr,
		tel:       tel,
		guards:    guards,
		notifier:  notifier,
		magic:     magic,
		bar:       bar,
		now:       now,
		lastCheck: now(),
		seen:      make(map[uint64]time.Time),
		partials:  make(map[uint64]*realized),
	}
}

func (pm *positionManager) manage(ctx context.Context, symbol string, atr float64) types.ManageStats {
	stats, actions, err := pm.mgr.Manage(ctx, pm.broker, symbol, pm.magic, atr)
	if err != nil {
		logger.ErrorWithErr(ctx, "Position management failed", err, "symbol", symbol)
		return stats
	}
	for _, a := range actions {
		if err := tradelog.AppendManage(tradelog.ManageEntry{
			Symbol: a.Symbol,
			Ticket: a.Ticket,
			Action: a.Kind,
			Price:  a.Price,
			SL:     a.SL,
			Volume: a.Volume,
			R:      a.R,
			Bars:   a.Bars,
		}); err != nil {
			logger.Warn(ctx, "Failed to append management log", "symbol", symbol, "error", err)
		}
	}
	pm.trackExcursions(ctx, symbol)
	return stats
}

// trackExcursions samples MFE/MAE for the positions still open after management.
func (pm *positionManager) trackExcursions(ctx context.Context, symbol string) {
	open, err := pm.broker.Positions(ctx, symbol, pm.magic)
	if err != nil || len(open) == 0 {
		return
	}
	tick, err := pm.broker.Tick(ctx, symbol)
	if err != nil {
		return
	}
	for _, p := range open {
		price := tick.Bid
		if p.Side == types.SideSell {
			price = tick.Ask
		}
		if err := pm.tel.TrackExcursion(ctx, p.Ticket, price); err != nil && !errors.Is(err, telemetry.ErrTradeNotFound) {
			logger.Warn(ctx, "Failed to track excursion", "ticket", p.Ticket, "error", err)
		}
	}
}

// reconcile reads the closing deals since the previous call and books each
// exit in telemetry, guardrails, the trade log and the notifier.
func (pm *positionManager) reconcile(ctx context.Context) error {
	now := pm.now()
	from := pm.lastCheck.Add(-dealOverlap)
	deals, err := pm.broker.Deals(ctx, from, now, pm.magic)
	if err != nil {
		return fmt.Errorf("deals: %w", err)
	}
	pm.lastCheck = now
	for t, at := range pm.seen {
		if at.Before(from) {
			delete(pm.seen, t)
		}
	}

	var closing []types.Deal
	for _, d := range deals {
		if d.Entry != types.DealOut {
			continue
		}
		if _, ok := pm.seen[d.Ticket]; ok {
			continue
		}
		closing = append(closing, d)
	}
	if len(closing) == 0 {
		return nil
	}
	sort.Slice(closing, func(i, j int) bool {
		if closing[i].Time.Equal(closing[j].Time) {
			return closing[i].Ticket < closing[j].Ticket
		}
		return closing[i].Time.Before(closing[j].Time)
	})

	positions, err := pm.broker.Positions(ctx, "", pm.magic)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	stillOpen := make(map[uint64]bool, len(positions))
	for _, p := range positions {
		stillOpen[p.Ticket] = true
	}

	// A closed position may show several deals in one window (a partial close
	// followed by the final one); they are booked as a single exit.
	exits := make(map[uint64][]types.Deal)
	var order []uint64
	for _, d := range closing {
		pm.seen[d.Ticket] = d.Time
		if stillOpen[d.PositionTicket] {
			pm.bookPartial(ctx, d)
			continue
		}
		if _, ok := exits[d.PositionTicket]; !ok {
			order = append(order, d.PositionTicket)
		}
		exits[d.PositionTicket] = append(exits[d.PositionTicket], d)
	}
	for _, ticket := range order {
		pm.bookExit(ctx, exits[ticket])
	}
	return nil
}

func (pm *positionManager) bookPartial(ctx context.Context, d types.Deal) {
	acc := pm.partials[d.PositionTicket]
	if acc == nil {
		acc = &realized{}
		pm.partials[d.PositionTicket] = acc
	}
	acc.profit += d.Profit
	acc.fills = append(acc.fills, telemetry.Fill{Price: d.Price, Volume: d.Volume})
	logger.Info(ctx, "Partial close booked", "symbol", d.Symbol, "ticket", d.PositionTicket,
		"volume", d.Volume, "price", d.Price, "profit", d.Profit)
	pm.appendClose(ctx, d, "partial: "+d.Comment, d.Profit)
}

// bookExit books the closing deals of one position, oldest first, as one trade
// result. Earlier partial closes are folded into the P/L and the average exit.
func (pm *positionManager) bookExit(ctx context.Context, deals []types.Deal) {
	last := deals[len(deals)-1]
	ticket := last.PositionTicket
	pnl := 0.0
	var fills []telemetry.Fill
	if acc := pm.partials[ticket]; acc != nil {
		pnl = acc.profit
		fills = acc.fills
	}
	delete(pm.partials, ticket)
	for _, d := range deals[:len(deals)-1] {
		pnl += d.Profit
		fills = append(fills, telemetry.Fill{Price: d.Price, Volume: d.Volume})
		pm.appendClose(ctx, d, "partial: "+d.Comment, d.Profit)
	}
	pnl += last.Profit
	fills = append(fills, telemetry.Fill{Price: last.Price, Volume: last.Volume})
	reason := exitReason(last.Comment)

	tm, err := pm.tel.OpenByTicket(ctx, ticket)
	switch {
	case err == nil:
		bars := int(last.Time.Sub(tm.EntryTime) / pm.bar)
		if _, err := pm.tel.LogExit(ctx, tm.ID, telemetry.AverageFill(fills), pnl, reason, bars); err != nil {
			logger.ErrorWithErr(ctx, "Failed to record trade exit", err, "trade_id", tm.ID)
		}
	case errors.Is(err, telemetry.ErrTradeNotFound):
		logger.Warn(ctx, "Closed position has no telemetry entry", "symbol", last.Symbol, "ticket", ticket)
	default:
		logger.ErrorWithErr(ctx, "Failed to look up trade", err, "ticket", ticket)
	}

	if pm.guards != nil {
		pm.guards.RecordResult(ctx, last.Symbol, pnl)
	}

	logger.Trade(ctx, last.Symbol, string(last.Side), last.Volume, last.Price, fmt.Sprint(last.Ticket),
		"event", tradelog.EventClose,
		"position", ticket,
		"deals", len(deals),
		"profit", pnl,
		"reason", reason,
	)
	pm.appendClose(ctx, last, reason, last.Profit)

	_ = pm.notifier.Notify(ctx, fmt.Sprintf("CLOSED %s %s %.2f @ %v P/L %.2f (%s)",
		last.Side.Opposite(), last.Symbol, last.Volume, last.Price, pnl, reason))
}

func (pm *positionManager) appendClose(ctx context.Context, d types.Deal, reason string, profit float64) {
	if err := tradelog.Append(tradelog.Entry{
		Event:   tradelog.EventClose,
		Symbol:  d.Symbol,
		Side:    string(d.Side.Opposite()),
		OrderID: fmt.Sprint(d.Ticket),
		Ticket:  d.PositionTicket,
		Volume:  d.Volume,
		Price:   d.Price,
		Profit:  profit,
		Reason:  reason,
	}); err != nil {
		logger.Warn(ctx, "Failed to append trade log", "symbol", d.Symbol, "error", err)
	}
}

// exitReason maps the terminal's deal comment to a telemetry exit reason.
func exitReason(comment string) string {
	c := strings.ToLower(comment)
	switch {
	case strings.HasPrefix(c, "[sl"):
		return "stop_loss"
	case strings.HasPrefix(c, "[tp"):
		return "take_profit"
	case strings.HasPrefix(c, "time_exit"):
		return "time_exit"
	case strings.HasPrefix(c, "partial_tp"):
		return "partial_tp"
	case c == "":
		return "closed"
	}
	return c
}
