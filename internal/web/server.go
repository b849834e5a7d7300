// Package web serves the dashboard, the live SSE stream and the page actions.
package web

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/events"
	"github.com/vadiminshakov/marketpulse/internal/loop"
	"github.com/vadiminshakov/marketpulse/internal/page"
	"github.com/vadiminshakov/marketpulse/internal/services/chart"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

//go:embed static
var staticFiles embed.FS

const (
	snapshotPollInterval = 3 * time.Second
	heartbeatInterval    = 20 * time.Second
)

// PageView is the loop-confined page the server drives.
type PageView interface {
	ConfigureChart(cfg domain.ChartViewConfig) error
	CompleteArc(id string) (bool, error)
	OpenOverlay() error
	SetOverlayTimeframe(label string) error
	SetOverlayCrosshair(t *int64) error
	CloseOverlay()
	State() page.State
}

// EventSource fans out live state changes.
type EventSource interface {
	Subscribe() chan events.Event
	Unsubscribe(ch chan events.Event)
}

// WidgetRegistry lists widgets that are alive so new dashboards can mount them.
type WidgetRegistry interface {
	Live() map[string]chart.WidgetConfig
}

type priceSnapshotReader interface {
	SnapshotsAfter(index uint64) ([]domain.PriceSnapshotRecord, error)
}

// Server exposes HTTP endpoints serving the HTML UI, the SSE streams and the
// page actions.
type Server struct {
	Addr  string
	s     loop.Scheduler
	view  PageView
	bus   EventSource
	store priceSnapshotReader
	// Widgets is optional.
	Widgets WidgetRegistry
	l       *zap.Logger
}

// NewServer creates a new web server instance. store may be nil.
func NewServer(l *zap.Logger, addr string, s loop.Scheduler, view PageView, bus EventSource, store priceSnapshotReader) *Server {
	return &Server{Addr: addr, s: s, view: view, bus: bus, store: store, l: l}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /", s.staticHandler())
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /price/history", s.handlePriceHistory)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("POST /chart/config", s.handleChartConfig)
	mux.HandleFunc("POST /arcs/{id}/complete", s.handleCompleteArc)
	mux.HandleFunc("POST /overlay/open", s.handleOverlayOpen)
	mux.HandleFunc("POST /overlay/timeframe", s.handleOverlayTimeframe)
	mux.HandleFunc("POST /overlay/crosshair", s.handleOverlayCrosshair)
	mux.HandleFunc("POST /overlay/close", s.handleOverlayClose)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("web server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	// port 80 serves ACME challenges and redirects to HTTPS
	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Warn("http (acme) server shutdown error", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Warn("https server shutdown error", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("http (acme) server error", zap.Error(err))
		}
	}()

	s.l.Info("web server listening with automatic TLS", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) staticHandler() http.Handler {
	root, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assetPath := r.URL.Path
		if assetPath == "" || assetPath == "/" {
			assetPath = "/index.html"
		}

		if !shouldCompress(assetPath) || !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			fileServer.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Vary", "Accept-Encoding")

		gz := gzip.NewWriter(w)
		defer gz.Close()

		fileServer.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, writer: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	writer *gzip.Writer
}

func (w *gzipResponseWriter) WriteHeader(statusCode int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.writer.Write(b)
}

func shouldCompress(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case "", ".html", ".css", ".js", ".json", ".svg", ".txt":
		return true
	default:
		return false
	}
}
