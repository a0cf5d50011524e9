package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tariffdeck/tariffdeck/pkg/log"
	"github.com/tariffdeck/tariffdeck/pkg/tariff"
	"github.com/tariffdeck/tariffdeck/pkg/types"
)

// ScenarioCapsReq is the request body for /api/scenarios/caps.
type ScenarioCapsReq struct {
	TariffID string             `json:"tariffId,omitempty"`
	Tariff   *types.TariffModel `json:"tariff,omitempty"`
	PeakKW   float64            `json:"peakKw"`
}

// ScenarioCapsRes lists candidate demand caps in ascending order.
type ScenarioCapsRes struct {
	CandidateCapsKW []float64 `json:"candidateCapsKw"`
}

func (s *Server) handleScenarioCaps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ScenarioCapsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode scenario request", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PeakKW < 0 {
		writeJSONError(w, fmt.Sprintf("peakKw cannot be negative, got %v", req.PeakKW), http.StatusBadRequest)
		return
	}

	t, code, err := s.resolveTariff(ctx, req.Tariff, req.TariffID)
	if err != nil {
		writeJSONError(w, err.Error(), code)
		return
	}

	caps := tariff.GenerateCandidateCapsKW(req.PeakKW, t)
	if caps == nil {
		caps = []float64{}
	}
	writeJSON(w, ScenarioCapsRes{CandidateCapsKW: caps})
}
