// Command sse_load opens many dashboard event streams against a running
// marketpulse server and reports per-kind event counts.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type options struct {
	url      string
	conns    int
	duration time.Duration
	ramp     time.Duration
}

// counters are shared by all connections.
type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	heartbeats  atomic.Int64

	mu    sync.Mutex
	kinds map[string]int64
}

func (c *counters) event(kind string) {
	c.mu.Lock()
	c.kinds[kind]++
	c.mu.Unlock()
}

func (c *counters) summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.kinds))
	for k := range c.kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c.kinds[k]))
	}
	return strings.Join(parts, " ")
}

func (c *counters) total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, v := range c.kinds {
		n += v
	}
	return n
}

func main() {
	var opts options
	flag.StringVar(&opts.url, "url", "http://localhost:8080/events", "event stream URL")
	flag.IntVar(&opts.conns, "conns", 500, "number of concurrent streams")
	flag.DurationVar(&opts.duration, "dur", time.Minute, "test duration (0 runs until interrupted)")
	flag.DurationVar(&opts.ramp, "ramp", 0, "spread stream starts across this window")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if opts.conns <= 0 {
		logger.Fatal("invalid number of connections", zap.Int("conns", opts.conns))
	}
	if opts.ramp == 0 && opts.conns > 100 {
		// one second per 500 streams
		opts.ramp = max(time.Duration(opts.conns/500)*time.Second, time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	logger.Info("starting event stream load",
		zap.String("url", opts.url),
		zap.Int("conns", opts.conns),
		zap.Duration("duration", opts.duration),
		zap.Duration("ramp", opts.ramp))

	c := &counters{kinds: make(map[string]int64)}
	start := time.Now()
	go report(ctx, logger, c, start)

	if err := run(ctx, opts, c); err != nil {
		logger.Error("load run failed", zap.Error(err))
	}

	elapsed := max(time.Since(start), time.Millisecond)
	fmt.Printf("done: connected=%d connect_errs=%d stream_errs=%d heartbeats=%d events/s=%.2f elapsed=%s\n  %s\n",
		c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(), c.heartbeats.Load(),
		float64(c.total())/elapsed.Seconds(), elapsed.Truncate(time.Millisecond), c.summary())
}

func run(ctx context.Context, opts options, c *counters) error {
	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     opts.conns + 100,
			MaxIdleConns:        opts.conns + 100,
			MaxIdleConnsPerHost: opts.conns + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	var interval time.Duration
	if opts.ramp > 0 {
		interval = opts.ramp / time.Duration(opts.conns)
	}

	var g errgroup.Group
	for i := 0; i < opts.conns; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			stream(ctx, client, opts.url, c)
			return nil
		})
	}
	return g.Wait()
}

// stream reads one event stream until ctx is done or the server drops it.
func stream(ctx context.Context, client *http.Client, url string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}
	c.connected.Add(1)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, ":"):
			c.heartbeats.Add(1)
		case strings.HasPrefix(line, "event: "):
			c.event(strings.TrimPrefix(line, "event: "))
		}
	}
	if ctx.Err() == nil {
		c.streamErrs.Add(1)
	}
}

func report(ctx context.Context, logger *zap.Logger, c *counters, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("status",
				zap.Int64("connected", c.connected.Load()),
				zap.Int64("connect_errs", c.connectErrs.Load()),
				zap.Int64("stream_errs", c.streamErrs.Load()),
				zap.String("events", c.summary()),
				zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))
		}
	}
}
