package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tariffdeck/tariffdeck/pkg/billing"
	"github.com/tariffdeck/tariffdeck/pkg/log"
	"github.com/tariffdeck/tariffdeck/pkg/types"
)

// RunBillsReq is the request body for /api/bills/run. Billing periods and
// intervals may be sent inline or, when omitted, fetched from storage by
// accountId (intervals over the span of the periods). IntervalsAfter defaults
// to IntervalsBefore so a plain "what does this tariff cost" run needs only
// one series.
type RunBillsReq struct {
	TariffID string             `json:"tariffId,omitempty"`
	Tariff   *types.TariffModel `json:"tariff,omitempty"`

	AccountID       string                `json:"accountId,omitempty"`
	BillingPeriods  []types.BillingPeriod `json:"billingPeriods"`
	IntervalsBefore []types.IntervalRow   `json:"intervalsBefore,omitempty"`
	IntervalsAfter  []types.IntervalRow   `json:"intervalsAfter,omitempty"`

	StatedTotalsByCycleID map[string]float64 `json:"statedTotalsByCycleId,omitempty"`

	SaveRun bool `json:"saveRun,omitempty"`
}

// RunBillsRes wraps the engine output with join diagnostics so callers can see
// how many intervals of each series fell outside every cycle.
type RunBillsRes struct {
	types.TariffRunOutput
	UnassignedIntervalsBefore int `json:"unassignedIntervalsBefore"`
	UnassignedIntervalsAfter  int `json:"unassignedIntervalsAfter"`
}

func (s *Server) handleRunBills(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RunBillsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode bills run request", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tariff, code, err := s.resolveTariff(ctx, req.Tariff, req.TariffID)
	if err != nil {
		writeJSONError(w, err.Error(), code)
		return
	}
	if err := tariff.Validate(); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid tariff: %v", err), http.StatusBadRequest)
		return
	}
	periods, code, err := s.resolvePeriods(ctx, req.BillingPeriods, req.AccountID)
	if err != nil {
		writeJSONError(w, err.Error(), code)
		return
	}
	for _, p := range periods {
		if err := p.Validate(); err != nil {
			writeJSONError(w, fmt.Sprintf("invalid billing period %s: %v", p.CycleID, err), http.StatusBadRequest)
			return
		}
	}
	if req.SaveRun && req.AccountID == "" {
		writeJSONError(w, "saveRun requires accountId", http.StatusBadRequest)
		return
	}

	before := req.IntervalsBefore
	if len(before) == 0 {
		if req.AccountID == "" {
			writeJSONError(w, "intervalsBefore or accountId is required", http.StatusBadRequest)
			return
		}
		start, end := periodSpan(periods)
		before, err = s.storage.GetIntervalReadings(ctx, req.AccountID, start, end)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get interval readings", slog.Any("error", err))
			writeJSONError(w, "failed to get interval readings", http.StatusInternalServerError)
			return
		}
	}
	after := req.IntervalsAfter
	if len(after) == 0 {
		after = before
	}

	// A tariff zone that fails to load degrades to UTC for the join and is
	// reported as a note by the engine.
	loc, _ := tariff.Location()
	joinBefore := billing.JoinIntervalsToCycles(periods, before, loc)
	joinAfter := billing.JoinIntervalsToCycles(periods, after, loc)

	out := billing.CalculateBillsPerCycle(tariff, periods, joinBefore.Assignments, joinAfter.Assignments, req.StatedTotalsByCycleID)

	if req.SaveRun {
		run := types.SavedRun{
			AccountID: req.AccountID,
			TariffID:  tariff.TariffID,
			Timestamp: time.Now().UTC(),
			Output:    out,
		}
		if err := s.storage.InsertRun(ctx, run); err != nil {
			// the run result is still valid, so report but do not fail
			log.Ctx(ctx).ErrorContext(ctx, "failed to save run", slog.String("accountID", req.AccountID), slog.Any("error", err))
		}
	}

	writeJSON(w, RunBillsRes{
		TariffRunOutput:           out,
		UnassignedIntervalsBefore: joinBefore.UnassignedIntervals,
		UnassignedIntervalsAfter:  joinAfter.UnassignedIntervals,
	})
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		writeJSONError(w, "accountId is required", http.StatusBadRequest)
		return
	}
	start, end, err := parseTimeRange(r)
	if err != nil {
		writeJSONError(w, fmt.Sprintf("invalid time range: %v", err), http.StatusBadRequest)
		return
	}

	runs, err := s.storage.GetRunHistory(ctx, accountID, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get run history", slog.Any("error", err))
		writeJSONError(w, "failed to get run history", http.StatusInternalServerError)
		return
	}
	writeJSON(w, runs)
}

// parseTimeRange reads RFC3339 start/end query params, defaulting to the
// trailing 30 days.
func parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
		start = t
	}
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
		end = t
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start must be before end")
	}
	return start, end, nil
}

// periodSpan returns the earliest bill start and the calendar day after the
// latest bill end, so interval fetches cover every cycle's inclusive final day.
func periodSpan(periods []types.BillingPeriod) (time.Time, time.Time) {
	start := periods[0].BillStartDate
	end := periods[0].BillEndDate
	for _, p := range periods[1:] {
		if p.BillStartDate.Before(start) {
			start = p.BillStartDate
		}
		if p.BillEndDate.After(end) {
			end = p.BillEndDate
		}
	}
	return start, end.AddDate(0, 0, 1)
}
