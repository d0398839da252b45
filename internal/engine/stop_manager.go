package engine

import (
	"strings"

	"mt5-llm-trader/internal/trademgr"
	"mt5-llm-trader/internal/types"
)

// stopManager picks the protective levels for an entry: ATR-derived by
// default, or the model's pip distances when levels come from the LLM.
type stopManager struct {
	mgr  *trademgr.Manager
	mode string
}

func newStopManager(mgr *trademgr.Manager, mode string) *stopManager {
	return &stopManager{mgr: mgr, mode: strings.ToUpper(mode)}
}

func (sm *stopManager) levels(side types.Side, entry float64, snap types.MarketSnapshot, d types.Decision) trademgr.Levels {
	if sm.mode == "LLM" && d.StopLossPips > 0 && d.TakeProfitPips > 0 {
		return sm.mgr.PipsLevels(side, entry, d.StopLossPips, d.TakeProfitPips, snap.Info)
	}
	return sm.mgr.Levels(side, entry, snap.Indicators.ATR, snap.Indicators.RSI, snap.Info)
}

// validate checks the SL and TP sit on the correct side of the fill price.
func (sm *stopManager) validate(side types.Side, entry float64, lv trademgr.Levels) error {
	return trademgr.ValidateLevels(side, entry, lv.SL, lv.TP)
}
