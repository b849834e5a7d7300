package web

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"github.com/vadiminshakov/marketpulse/internal/page"
	"github.com/vadiminshakov/marketpulse/internal/services/chart"
	"github.com/vadiminshakov/marketpulse/internal/services/overlay"
	"go.uber.org/zap"
)

type chartConfigRequest struct {
	ViewMode  domain.ViewMode `json:"view_mode"`
	Timeframe string          `json:"timeframe"`
	Theme     domain.Theme    `json:"theme"`
}

type timeframeRequest struct {
	Timeframe string `json:"timeframe"`
}

type crosshairRequest struct {
	// Time of the hovered candle; null clears the crosshair.
	Time *int64 `json:"time"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := loop.Call(r.Context(), s.s, func() (page.State, error) { return s.view.State(), nil })
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleChartConfig(w http.ResponseWriter, r *http.Request) {
	var req chartConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tf, ok := domain.TimeframeByLabel(req.Timeframe)
	if !ok {
		http.Error(w, "unknown timeframe", http.StatusBadRequest)
		return
	}
	cfg := domain.ChartViewConfig{ViewMode: req.ViewMode, Timeframe: tf, Theme: req.Theme}

	s.act(w, r, func() error { return s.view.ConfigureChart(cfg) })
}

func (s *Server) handleCompleteArc(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := loop.Call(r.Context(), s.s, func() (bool, error) { return s.view.CompleteArc(id) })
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleOverlayOpen(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, s.view.OpenOverlay)
}

func (s *Server) handleOverlayTimeframe(w http.ResponseWriter, r *http.Request) {
	var req timeframeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.act(w, r, func() error { return s.view.SetOverlayTimeframe(req.Timeframe) })
}

func (s *Server) handleOverlayCrosshair(w http.ResponseWriter, r *http.Request) {
	var req crosshairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	s.act(w, r, func() error { return s.view.SetOverlayCrosshair(req.Time) })
}

func (s *Server) handleOverlayClose(w http.ResponseWriter, r *http.Request) {
	s.act(w, r, func() error {
		s.view.CloseOverlay()
		return nil
	})
}

// act runs fn on the loop and answers with the resulting page state.
func (s *Server) act(w http.ResponseWriter, r *http.Request, fn func() error) {
	st, err := loop.Call(r.Context(), s.s, func() (page.State, error) {
		if err := fn(); err != nil {
			return page.State{}, err
		}
		return s.view.State(), nil
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.l.Error("page action failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, page.ErrUnknownTimeframe), errors.Is(err, chart.ErrUnknownViewMode):
		return http.StatusBadRequest
	case errors.Is(err, page.ErrNoPrice), errors.Is(err, overlay.ErrNotOpen):
		return http.StatusConflict
	case errors.Is(err, page.ErrUnmounted), errors.Is(err, loop.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
