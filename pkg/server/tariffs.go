package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tariffdeck/tariffdeck/pkg/log"
	"github.com/tariffdeck/tariffdeck/pkg/storage"
	"github.com/tariffdeck/tariffdeck/pkg/tariff"
	"github.com/tariffdeck/tariffdeck/pkg/types"
)

func (s *Server) handleListTariffs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tariffs, err := s.storage.ListTariffs(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list tariffs", slog.Any("error", err))
		writeJSONError(w, "failed to list tariffs", http.StatusInternalServerError)
		return
	}
	if tariffs == nil {
		tariffs = []types.TariffModel{}
	}
	writeJSON(w, tariffs)
}

func (s *Server) handleGetTariff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	t, err := s.storage.GetTariff(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrTariffNotFound) {
			writeJSONError(w, fmt.Sprintf("tariff %s not found", id), http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get tariff", slog.String("tariffID", id), slog.Any("error", err))
		writeJSONError(w, "failed to get tariff", http.StatusInternalServerError)
		return
	}
	writeJSON(w, t)
}

func (s *Server) handleUpsertTariff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var t types.TariffModel
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode tariff", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if t.TariffID == "" {
		writeJSONError(w, "tariffId is required", http.StatusBadRequest)
		return
	}
	if err := t.Validate(); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid tariff: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.storage.UpsertTariff(ctx, t); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to upsert tariff", slog.String("tariffID", t.TariffID), slog.Any("error", err))
		writeJSONError(w, "failed to save tariff", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "tariff saved", slog.String("tariffID", t.TariffID), slog.String("rateCode", t.RateCode))

	w.WriteHeader(http.StatusOK)
}

// DetectTariffReq is the request body for /api/tariffs/detect.
type DetectTariffReq struct {
	BillingPeriods   []types.BillingPeriod `json:"billingPeriods"`
	FallbackRateCode string                `json:"fallbackRateCode,omitempty"`
	DemandRatePerKW  float64               `json:"demandRatePerKw,omitempty"`
	Utility          string                `json:"utility,omitempty"`
	Timezone         string                `json:"timezone,omitempty"`
}

func (s *Server) handleDetectTariff(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req DetectTariffReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode detect request", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res := tariff.DetectRate(req.BillingPeriods, req.FallbackRateCode, req.DemandRatePerKW, req.Utility, req.Timezone)
	writeJSON(w, res)
}
