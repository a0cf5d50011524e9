package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tariffdeck/tariffdeck/pkg/billing"
	"github.com/tariffdeck/tariffdeck/pkg/log"
	"github.com/tariffdeck/tariffdeck/pkg/types"
)

// AnalyzeCyclesReq is the request body for /api/cycles/analyze.
type AnalyzeCyclesReq struct {
	TariffID string             `json:"tariffId,omitempty"`
	Tariff   *types.TariffModel `json:"tariff,omitempty"`

	AccountID      string                `json:"accountId,omitempty"`
	BillingPeriods []types.BillingPeriod `json:"billingPeriods"`
	Intervals      []types.IntervalRow   `json:"intervals,omitempty"`

	// CapKW overrides the next-tier-threshold target when set.
	CapKW *float64 `json:"capKw,omitempty"`
}

func (s *Server) handleAnalyzeCycles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AnalyzeCyclesReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode analyze request", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tariff, code, err := s.resolveTariff(ctx, req.Tariff, req.TariffID)
	if err != nil {
		writeJSONError(w, err.Error(), code)
		return
	}
	periods, code, err := s.resolvePeriods(ctx, req.BillingPeriods, req.AccountID)
	if err != nil {
		writeJSONError(w, err.Error(), code)
		return
	}

	intervals := req.Intervals
	if len(intervals) == 0 {
		if req.AccountID == "" {
			writeJSONError(w, "intervals or accountId is required", http.StatusBadRequest)
			return
		}
		start, end := periodSpan(periods)
		intervals, err = s.storage.GetIntervalReadings(ctx, req.AccountID, start, end)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get interval readings", slog.Any("error", err))
			writeJSONError(w, "failed to get interval readings", http.StatusInternalServerError)
			return
		}
	}
	if req.CapKW != nil && *req.CapKW <= 0 {
		writeJSONError(w, fmt.Sprintf("capKw must be positive, got %v", *req.CapKW), http.StatusBadRequest)
		return
	}

	loc, _ := tariff.Location()
	join := billing.JoinIntervalsToCycles(periods, intervals, loc)
	analyses := billing.AnalyzeCycles(tariff, periods, join.Assignments, req.CapKW)

	writeJSON(w, analyses)
}
