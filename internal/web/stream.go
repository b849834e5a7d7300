package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/events"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"github.com/vadiminshakov/marketpulse/internal/page"
	"github.com/vadiminshakov/marketpulse/internal/services/chart/tvwidget"
	"go.uber.org/zap"
)

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// handleEvents sends the full state once, then every published change.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	st, err := loop.Call(r.Context(), s.s, func() (page.State, error) { return s.view.State(), nil })
	if err != nil {
		http.Error(w, "page view unavailable", http.StatusServiceUnavailable)
		return
	}
	initial, err := json.Marshal(st)
	if err != nil {
		http.Error(w, "failed to encode state", http.StatusInternalServerError)
		return
	}

	sseHeaders(w)
	fmt.Fprintf(w, "event: state\ndata: %s\n\n", initial)
	if s.Widgets != nil {
		for id, cfg := range s.Widgets.Live() {
			payload, err := json.Marshal(tvwidget.Command{Op: tvwidget.OpCreate, WidgetID: id, Config: &cfg})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", events.KindWidget, payload)
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, ev.Data)
			flusher.Flush()
		}
	}
}

// handlePriceHistory replays persisted price points, then tails the log.
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "snapshot store not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastIndex := s.parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	isFirstLoad := lastIndex == 0
	sendSnapshots := func() error {
		records, err := s.store.SnapshotsAfter(lastIndex)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			isFirstLoad = false
			return nil
		}

		// thin large histories on first load
		if isFirstLoad && len(records) > keepRecent {
			records = thinRecords(records)
		}
		isFirstLoad = false

		for _, record := range records {
			payload, err := json.Marshal(record.Point)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\nevent: price\ndata: %s\n\n", record.Index, payload)
			lastIndex = record.Index
		}
		flusher.Flush()
		return nil
	}

	sseHeaders(w)
	if err := sendSnapshots(); err != nil {
		http.Error(w, "failed to load snapshots", http.StatusInternalServerError)
		s.l.Error("price history initial load", zap.Error(err))
		return
	}

	// tell the client there is nothing yet so it can leave its loading state
	if lastIndex == 0 {
		fmt.Fprintf(w, "event: no_data\ndata: {}\n\n")
		flusher.Flush()
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	pollTicker := time.NewTicker(snapshotPollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendSnapshots(); err != nil {
				s.l.Warn("price history poll", zap.Error(err))
			}
		}
	}
}

// parseLastEventID prefers the Last-Event-ID header; the query parameter
// allows manual reconnects to resume from a known index.
func (s *Server) parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.l.Debug("invalid last event id", zap.String("id", idStr), zap.Error(err))
		return 0
	}
	return id
}

const keepRecent = 100

// thinRecords keeps the newest records intact and exponentially thins the rest.
func thinRecords(records []domain.PriceSnapshotRecord) []domain.PriceSnapshotRecord {
	if len(records) <= keepRecent {
		return records
	}

	older := records[:len(records)-keepRecent]
	var thinned []domain.PriceSnapshotRecord

	skip := 1
	for i := len(older) - 1; i >= 0; i-- {
		thinned = append(thinned, older[i])
		i -= skip
		// double the gap every 12 kept records
		if len(thinned)%12 == 0 {
			skip *= 2
		}
	}
	for l, r := 0, len(thinned)-1; l < r; l, r = l+1, r-1 {
		thinned[l], thinned[r] = thinned[r], thinned[l]
	}

	return append(thinned, records[len(records)-keepRecent:]...)
}
