// Package headless implements harvest.Driver with chromedp for sources
// that render their questions client-side.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// Config controls the browser session.
type Config struct {
	MaxParallel       int
	NavigationTimeout time.Duration
}

// Driver drives a headless Chrome via one shared allocator. The identity
// on each fetch overrides user agent, viewport, and language so rotations
// decided by the anti-detection controller reach the browser.
type Driver struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless Driver.
func New(cfg Config) (*Driver, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Driver{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close tears down the browser allocator.
func (d *Driver) Close() error {
	d.allocCancel()
	return nil
}

// Fetch navigates to the URL and returns the rendered DOM.
func (d *Driver) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.Page, error) {
	if err := d.acquire(ctx); err != nil {
		return harvest.Page{}, err
	}
	defer d.release()

	taskCtx, taskCancel := chromedp.NewContext(d.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, d.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := d.navigate(taskCtx, request)
	if err != nil {
		return harvest.Page{}, harvest.Wrap(harvest.CodeFetchFailed, err, "headless fetch")
	}

	status, headers, responseURL := meta.snapshot(request.URL, finalURL)
	page := harvest.Page{
		URL:        responseURL,
		StatusCode: status,
		Headers:    headers,
		Body:       []byte(html),
		Duration:   time.Since(start),
		Method:     harvest.FetchMethodBrowser,
	}
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		return page, harvest.E(harvest.CodeSourceBlocked, "source responded %d", status)
	}
	return page, nil
}

func (d *Driver) navigate(ctx context.Context, request harvest.FetchRequest) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		d.identityAction(request.Identity, request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (d *Driver) identityAction(identity harvest.Identity, headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if identity.UserAgent != "" {
			override := emulation.SetUserAgentOverride(identity.UserAgent)
			if identity.AcceptLanguage != "" {
				override = override.WithAcceptLanguage(identity.AcceptLanguage)
			}
			if identity.Platform != "" {
				override = override.WithPlatform(identity.Platform)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if identity.ViewportWidth > 0 && identity.ViewportHeight > 0 {
			err := emulation.SetDeviceMetricsOverride(
				int64(identity.ViewportWidth),
				int64(identity.ViewportHeight),
				1, false,
			).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (d *Driver) acquire(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	select {
	case d.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (d *Driver) release() {
	if d.limiter == nil {
		return
	}
	select {
	case <-d.limiter:
	default:
	}
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: http.Header{}}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.url
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := make(http.Header, len(m.headers))
	for k, values := range m.headers {
		for _, v := range values {
			headers.Add(k, v)
		}
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
