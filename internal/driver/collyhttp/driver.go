// Package collyhttp implements harvest.Driver over the Colly collector for
// sources that serve their content without JavaScript.
package collyhttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// Config controls collector behavior.
type Config struct {
	Timeout time.Duration
	// Headers are driver-level defaults sent with every request.
	// Per-source headers and identity arrive on the FetchRequest and
	// take precedence.
	Headers map[string]string
}

// Driver fetches pages with a pooled HTTP transport. One Driver serves one
// job; per-source pacing lives in the rate limiter, not here.
type Driver struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Driver.
func New(cfg Config) *Driver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Driver{cfg: cfg, baseCollector: c}
}

// Fetch executes a single GET with the requested identity applied.
func (d *Driver) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.Page, error) {
	var (
		page     harvest.Page
		fetchErr error
		status   int
	)
	start := time.Now()

	collector := d.baseCollector.Clone()
	collector.SetRequestTimeout(d.cfg.Timeout)
	if request.Identity.UserAgent != "" {
		collector.UserAgent = request.Identity.UserAgent
	}

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range d.cfg.Headers {
			r.Headers.Set(key, value)
		}
		for key, values := range request.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
		if request.Identity.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", request.Identity.AcceptLanguage)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		page = harvest.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
			Method:     harvest.FetchMethodHTTP,
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	// OnError runs before Visit returns in sync mode, so the captured
	// status is authoritative by the time classification happens.
	if err := d.visit(ctx, collector, request.URL); err != nil {
		if ctx.Err() != nil {
			return harvest.Page{}, err
		}
		return harvest.Page{}, classify(status, err)
	}
	if fetchErr != nil {
		return harvest.Page{}, classify(status, fetchErr)
	}
	return page, nil
}

// Close implements harvest.Driver; the pooled transport needs no teardown.
func (d *Driver) Close() error { return nil }

func (d *Driver) visit(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

// classify maps HTTP blocking signals onto the error taxonomy so the
// executor can report them to the anti-detection controller.
func classify(status int, err error) error {
	switch status {
	case http.StatusForbidden, http.StatusTooManyRequests:
		return harvest.Wrap(harvest.CodeSourceBlocked, err, fmt.Sprintf("source responded %d", status))
	default:
		return harvest.Wrap(harvest.CodeFetchFailed, err, "fetch failed")
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
