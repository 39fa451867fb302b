// Command httpx-fetch downloads several URLs concurrently through one
// httpx client and reports the outcome of each.
//
// Usage:
//
//	httpx-fetch [-config file.yaml] [-timeout 10s] [-metrics-addr :9090] [-o dir] URL...
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dqx0.com/go/httpmux/httpx"
	"dqx0.com/go/httpmux/internal/config"
	"dqx0.com/go/httpmux/internal/obs"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("httpx-fetch", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	timeout := fs.Duration("timeout", 0, "idle timeout per response (overrides config)")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	outDir := fs.String("o", "", "write bodies into this directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: httpx-fetch [flags] URL...")
		fs.PrintDefaults()
		return 2
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *timeout > 0 {
		cfg.Client.Timeout = *timeout
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	logger := obs.NewLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	client := &httpx.Client{Logger: logger}
	cfg.Client.Apply(client)
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		client.Meter = obs.NewPromMeter(reg, cfg.Metrics.Namespace, logger)
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}
	defer client.Close()

	f := &fetcher{
		client:  client,
		logger:  logger,
		headers: cfg.Client.Headers,
		outDir:  *outDir,
		retries: cfg.Client.Retries,
		w:       os.Stdout,
	}
	if err := f.fetch(fs.Args()); err != nil {
		logger.Error("fetch failed", zap.Error(err))
		return 1
	}
	if f.failed > 0 {
		return 1
	}
	return 0
}

type job struct {
	index    int
	url      string
	attempts int
	out      *os.File
	size     int64
}

type fetcher struct {
	client  *httpx.Client
	logger  *zap.Logger
	headers map[string]string
	outDir  string
	retries int
	w       io.Writer
	failed  int
}

func (f *fetcher) request(j *job) (*httpx.Response, error) {
	req, err := httpx.NewRequest("GET", j.url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}
	if f.outDir != "" {
		req.Buffer = httpx.BufferNever()
	}
	j.attempts++
	return f.client.Do(req)
}

// fetch streams all URLs at once. Responses that hit the idle timeout are
// canceled and retried on the next round while attempts remain.
func (f *fetcher) fetch(urls []string) error {
	jobs := make(map[*httpx.Response]*job)
	var round []*httpx.Response
	for i, u := range urls {
		j := &job{index: i, url: u}
		r, err := f.request(j)
		if err != nil {
			f.logger.Error("invalid request", zap.String("url", u), zap.Error(err))
			f.failed++
			continue
		}
		jobs[r] = j
		round = append(round, r)
	}

	for len(round) > 0 {
		var retry []*httpx.Response
		st := f.client.Stream(round)
		for st.Next() {
			r, ch := st.Response(), st.Chunk()
			j := jobs[r]
			if timeout, err := ch.IsTimeout(); err != nil {
				f.finish(r, j, err)
				continue
			} else if timeout {
				if next := f.retry(r, j); next != nil {
					jobs[next] = j
					retry = append(retry, next)
				}
				continue
			}
			if first, _ := ch.IsFirst(); first {
				if err := f.open(j); err != nil {
					return err
				}
				continue
			}
			if last, _ := ch.IsLast(); last {
				f.finish(r, j, nil)
				continue
			}
			data, _ := ch.Content()
			j.size += int64(len(data))
			if j.out != nil {
				if _, err := j.out.Write(data); err != nil {
					r.Cancel()
					f.finish(r, j, err)
				}
			}
		}
		if err := st.Err(); err != nil {
			return err
		}
		round = retry
	}
	return nil
}

func (f *fetcher) retry(r *httpx.Response, j *job) *httpx.Response {
	r.Cancel()
	if j.attempts > f.retries {
		f.finish(r, j, fmt.Errorf("idle timeout after %d attempts", j.attempts))
		return nil
	}
	f.logger.Warn("retrying after idle timeout", zap.String("url", j.url), zap.Int("attempt", j.attempts+1))
	f.closeOut(j)
	next, err := f.request(j)
	if err != nil {
		f.finish(r, j, err)
		return nil
	}
	j.size = 0
	return next
}

func (f *fetcher) open(j *job) error {
	if f.outDir == "" || j.out != nil {
		return nil
	}
	out, err := os.Create(filepath.Join(f.outDir, strconv.Itoa(j.index)+".body"))
	if err != nil {
		return err
	}
	j.out = out
	return nil
}

func (f *fetcher) closeOut(j *job) {
	if j.out != nil {
		_ = j.out.Close()
		j.out = nil
	}
}

func (f *fetcher) finish(r *httpx.Response, j *job, err error) {
	f.closeOut(j)
	info := r.Info()
	if err == nil {
		err = r.Close()
	}
	if err != nil {
		f.failed++
		fmt.Fprintf(f.w, "FAIL %s: %v\n", j.url, err)
		return
	}
	fmt.Fprintf(f.w, "%d %s %d bytes in %s\n", info.HTTPCode, j.url, j.size, info.TotalTime.Round(time.Millisecond))
}
