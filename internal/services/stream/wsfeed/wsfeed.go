// Package wsfeed reads the transaction feed from a WebSocket endpoint.
package wsfeed

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	defaultPongWait = 60 * time.Second
	writeWait       = 10 * time.Second
)

// Config of a WebSocket feed.
type Config struct {
	URL string
	// Subscribe is sent once right after the handshake when not empty.
	Subscribe []byte
	Header    http.Header
	PongWait  time.Duration
}

// Feed implements stream.Source over gorilla/websocket.
type Feed struct {
	cfg    Config
	dialer *websocket.Dialer
	l      *zap.Logger
}

// New creates a feed.
func New(l *zap.Logger, cfg Config) *Feed {
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	return &Feed{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		l: l,
	}
}

// Run dials the endpoint and delivers every text or binary frame until the
// connection breaks or ctx is done.
func (f *Feed) Run(ctx context.Context, deliver func([]byte)) error {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, f.cfg.Header)
	if err != nil {
		return errors.Wrapf(err, "dial %s", f.cfg.URL)
	}
	defer conn.Close()

	f.l.Info("transaction feed connected", zap.String("url", f.cfg.URL))

	if len(f.cfg.Subscribe) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, f.cfg.Subscribe); err != nil {
			return errors.Wrap(err, "send subscribe message")
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.PongWait))
	})

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessionCtx, func() { conn.Close() })
	defer stop()

	go f.ping(sessionCtx, conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "read feed message")
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.PongWait))
		deliver(msg)
	}
}

func (f *Feed) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				f.l.Debug("feed ping failed", zap.Error(err))
				return
			}
		}
	}
}
