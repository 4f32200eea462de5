// Package executor runs the crawl loop for a single job, streaming
// extracted items back to the job manager over a channel.
package executor

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quizforge/question-harvester/internal/antidetect"
	"github.com/quizforge/question-harvester/internal/extractor"
	"github.com/quizforge/question-harvester/internal/harvest"
	"github.com/quizforge/question-harvester/internal/ratelimit"
	"github.com/quizforge/question-harvester/internal/telemetry"
)

// pagePlaceholder is the token in a target URL pattern expanded with
// the current page number.
const pagePlaceholder = "{page}"

// DriverFactory opens a fresh driver session for one running job.
// Sessions are never shared between jobs.
type DriverFactory interface {
	Open(kind harvest.DriverKind) (harvest.Driver, error)
}

// Gate blocks while the job is paused. It returns nil once the job may
// proceed and an error once the job is cancelled. A nil Gate never blocks.
type Gate func(ctx context.Context) error

// Config controls Executor behavior.
type Config struct {
	// MaxFetchRetries bounds re-fetches of a single page after the
	// first attempt fails.
	MaxFetchRetries int
	// EmptyPageLimit stops a target after this many consecutive pages
	// that extract zero items.
	EmptyPageLimit int
	// ExtractErrorLimit stops a target after this many consecutive pages
	// whose extraction fails. Single failures are counted, not fatal.
	ExtractErrorLimit int
	// ArchivePrefix prefixes blob paths for page snapshots.
	ArchivePrefix string
	// ArchiveContentType is the content type recorded on snapshots.
	ArchiveContentType string
}

func (c *Config) applyDefaults() {
	if c.MaxFetchRetries < 0 {
		c.MaxFetchRetries = 0
	}
	if c.EmptyPageLimit <= 0 {
		c.EmptyPageLimit = 3
	}
	if c.ExtractErrorLimit <= 0 {
		c.ExtractErrorLimit = 3
	}
	if c.ArchiveContentType == "" {
		c.ArchiveContentType = "text/html; charset=utf-8"
	}
}

// Result is the terminal report of one crawl run.
type Result struct {
	PagesFetched    int
	PagesFailed     int
	ItemsEmitted    int
	Retries         int
	PartialFailures []string
	Err             error
}

// Executor walks a job's targets in order, fetching and extracting
// pages sequentially. Rate-limit and anti-detection state is shared
// across jobs; driver sessions are per run.
type Executor struct {
	sources    map[string]harvest.SourceConfig
	extractors *extractor.Registry
	render     *extractor.RenderDetector
	drivers    DriverFactory
	limiter    *ratelimit.Limiter
	detect     *antidetect.Controller
	blobs      harvest.BlobStore
	hasher     harvest.Hasher
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Executor. blobs may be nil to disable snapshot
// archiving; render may be nil to disable headless promotion.
func New(
	sources []harvest.SourceConfig,
	extractors *extractor.Registry,
	render *extractor.RenderDetector,
	drivers DriverFactory,
	limiter *ratelimit.Limiter,
	detect *antidetect.Controller,
	blobs harvest.BlobStore,
	hasher harvest.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[string]harvest.SourceConfig, len(sources))
	for _, src := range sources {
		byID[src.ID] = src
		limiter.Register(src.ID, src.DefaultDelay)
	}
	return &Executor{
		sources:    byID,
		extractors: extractors,
		render:     render,
		drivers:    drivers,
		limiter:    limiter,
		detect:     detect,
		blobs:      blobs,
		hasher:     hasher,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run starts the crawl and returns immediately. Items arrive on the
// first channel; exactly one Result arrives on the second after the
// item channel closes. Cancelling ctx stops the run within one fetch
// cycle.
func (e *Executor) Run(ctx context.Context, job harvest.Job, gate Gate) (<-chan harvest.RawItem, <-chan Result) {
	items := make(chan harvest.RawItem)
	done := make(chan Result, 1)

	go func() {
		defer close(items)
		session := newSession(e.drivers)
		defer session.Close()

		run := &runState{job: job, gate: gate, session: session}
		for _, target := range job.Spec.Targets {
			if run.capReached() || ctx.Err() != nil {
				break
			}
			e.crawlTarget(ctx, run, target, items)
		}
		if ctx.Err() != nil && run.result.Err == nil {
			run.result.Err = ctx.Err()
		}
		done <- run.result
	}()

	return items, done
}

// runState is the mutable per-run bookkeeping.
type runState struct {
	job     harvest.Job
	gate    Gate
	session *driverSession
	result  Result
}

func (r *runState) capReached() bool {
	max := r.job.Spec.MaxItems
	return max > 0 && r.result.ItemsEmitted >= max
}

func (r *runState) note(format string, args ...any) {
	r.result.PartialFailures = append(r.result.PartialFailures, fmt.Sprintf(format, args...))
}

func (e *Executor) crawlTarget(ctx context.Context, run *runState, target harvest.Target, items chan<- harvest.RawItem) {
	source, ok := e.sources[target.SourceID]
	if !ok {
		run.note("target %s/%s: unknown source", target.SourceID, target.Category)
		return
	}
	ex, err := e.extractors.Get(source.ID)
	if err != nil {
		run.note("target %s/%s: %v", target.SourceID, target.Category, err)
		return
	}

	logger := e.logger.With(
		zap.String("job_id", run.job.ID),
		zap.String("source", source.ID),
		zap.String("category", target.Category),
	)

	url := expandPattern(target.URLPattern, 1)
	pageNum := 1
	emptyStreak := 0
	extractErrStreak := 0

	for url != "" {
		if err := e.waitGate(ctx, run.gate); err != nil {
			return
		}
		if until, cooling := e.detect.CooldownUntil(source.ID); cooling {
			run.note("target %s/%s: source cooling down until %s",
				source.ID, target.Category, until.Format(time.RFC3339))
			logger.Warn("skipping target during cooldown", zap.Time("until", until))
			return
		}
		if err := e.pace(ctx, source); err != nil {
			return
		}

		page, err := e.fetchPage(ctx, run, source, url)
		if err != nil {
			run.result.PagesFailed++
			run.note("page %s: %v", url, err)
			logger.Warn("abandoning target after fetch failures", zap.String("url", url), zap.Error(err))
			return
		}
		run.result.PagesFetched++

		page = e.maybePromote(ctx, run, source, url, page)
		e.archiveSnapshot(ctx, run.job.ID, source.ID, page)

		extracted, err := ex.Extract(page, target)
		if err != nil {
			run.result.PagesFailed++
			extractErrStreak++
			run.note("page %s: %v", url, harvest.Wrap(harvest.CodeExtractionFailed, err, "extract"))
			logger.Warn("extraction failed", zap.String("url", url), zap.Error(err))
			if extractErrStreak >= e.cfg.ExtractErrorLimit {
				logger.Warn("abandoning target after repeated extraction failures",
					zap.Int("failures", extractErrStreak))
				return
			}
			url = nextURL(target, harvest.ExtractResult{}, pageNum)
			pageNum++
			continue
		}
		extractErrStreak = 0

		if len(extracted.Items) == 0 {
			emptyStreak++
		} else {
			emptyStreak = 0
		}
		extractedAt := time.Now().UTC()
		for _, item := range extracted.Items {
			if run.capReached() {
				return
			}
			item.JobID = run.job.ID
			item.Page = pageNum
			item.ExtractedAt = extractedAt
			select {
			case items <- item:
				run.result.ItemsEmitted++
			case <-ctx.Done():
				return
			}
		}

		if emptyStreak >= e.cfg.EmptyPageLimit {
			logger.Debug("target exhausted", zap.Int("empty_pages", emptyStreak), zap.Int("last_page", pageNum))
			return
		}
		url = nextURL(target, extracted, pageNum)
		pageNum++
	}
}

// pace applies the shared per-source pacing: the risk-scaled surplus
// over the limiter delay first, then the limiter itself.
func (e *Executor) pace(ctx context.Context, source harvest.SourceConfig) error {
	base := e.limiter.Delay(source.ID)
	if extra := e.detect.Delay(source.ID, base) - base; extra > 0 {
		if err := sleep(ctx, extra); err != nil {
			return err
		}
	}
	return e.limiter.Wait(ctx, source.ID)
}

// fetchPage fetches one URL, retrying up to the configured bound. Every
// attempt's outcome is reported to the rate limiter and the
// anti-detection controller.
func (e *Executor) fetchPage(ctx context.Context, run *runState, source harvest.SourceConfig, url string) (harvest.Page, error) {
	driver, err := run.session.driver(source.Driver)
	if err != nil {
		return harvest.Page{}, err
	}

	request := harvest.FetchRequest{
		JobID:    run.job.ID,
		SourceID: source.ID,
		URL:      url,
		Identity: e.detect.Identity(source.ID),
		Headers:  sourceHeaders(source),
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxFetchRetries; attempt++ {
		if attempt > 0 {
			run.result.Retries++
			if err := e.pace(ctx, source); err != nil {
				return harvest.Page{}, err
			}
			// Identity may have rotated after the failure report.
			request.Identity = e.detect.Identity(source.ID)
		}

		page, err := driver.Fetch(ctx, request)
		if err == nil {
			e.limiter.ReportSuccess(source.ID)
			e.detect.Report(ctx, source.ID, antidetect.OutcomeSuccess)
			telemetry.ObserveFetch(source.ID, "success")
			return page, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return harvest.Page{}, ctx.Err()
		}
		if harvest.CodeOf(err) == harvest.CodeSourceBlocked {
			e.limiter.ReportThrottle(source.ID)
			e.detect.Report(ctx, source.ID, antidetect.OutcomeBlocked)
			telemetry.ObserveFetch(source.ID, "blocked")
		} else {
			e.detect.Report(ctx, source.ID, antidetect.OutcomeError)
			telemetry.ObserveFetch(source.ID, "error")
		}
	}
	return harvest.Page{}, lastErr
}

// maybePromote re-fetches an http page with the browser driver when the
// body looks like an unrendered JS shell. Promotion is best effort.
func (e *Executor) maybePromote(ctx context.Context, run *runState, source harvest.SourceConfig, url string, page harvest.Page) harvest.Page {
	if e.render == nil || source.Driver != harvest.DriverKindHTTP {
		return page
	}
	if !e.render.NeedsRender(page, source.Selectors) {
		return page
	}
	driver, err := run.session.driver(harvest.DriverKindBrowser)
	if err != nil {
		e.logger.Warn("headless promotion unavailable", zap.String("url", url), zap.Error(err))
		return page
	}
	rendered, err := driver.Fetch(ctx, harvest.FetchRequest{
		JobID:    run.job.ID,
		SourceID: source.ID,
		URL:      url,
		Identity: e.detect.Identity(source.ID),
		Headers:  sourceHeaders(source),
	})
	if err != nil {
		e.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		return page
	}
	e.logger.Info("headless promotion applied", zap.String("job_id", run.job.ID), zap.String("url", url))
	return rendered
}

// archiveSnapshot writes the raw page body to the blob store. Failures
// are logged and swallowed; the snapshot is an audit artifact, not part
// of the extraction path.
func (e *Executor) archiveSnapshot(ctx context.Context, jobID, sourceID string, page harvest.Page) {
	if e.blobs == nil || len(page.Body) == 0 {
		return
	}
	hash, err := e.hasher.Hash(page.Body)
	if err != nil {
		e.logger.Warn("snapshot hash failed", zap.String("url", page.URL), zap.Error(err))
		return
	}
	uri, err := e.blobs.PutObject(ctx, e.blobPath(jobID, sourceID, hash), e.cfg.ArchiveContentType, page.Body)
	if err != nil {
		e.logger.Warn("snapshot archive failed", zap.String("url", page.URL), zap.Error(err))
		return
	}
	e.logger.Debug("page archived",
		zap.String("job_id", jobID),
		zap.String("url", page.URL),
		zap.String("blob_uri", uri),
	)
}

func (e *Executor) blobPath(jobID, sourceID, hash string) string {
	prefix := strings.Trim(e.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.html", jobID, sourceID, hash)
	}
	return fmt.Sprintf("%s/%s/%s/%s.html", prefix, jobID, sourceID, hash)
}

func (e *Executor) waitGate(ctx context.Context, gate Gate) error {
	if gate == nil {
		return ctx.Err()
	}
	return gate(ctx)
}

// nextURL decides where the target goes after the current page: the
// extractor's next-page link when it found one, or the expanded URL
// pattern while pages remain. When the extractor reports no next page,
// the target is done unless the pattern enumerates a declared page count.
func nextURL(target harvest.Target, extracted harvest.ExtractResult, pageNum int) string {
	if extracted.HasNextPage && extracted.NextURL != "" {
		return extracted.NextURL
	}
	if !strings.Contains(target.URLPattern, pagePlaceholder) {
		return ""
	}
	if target.PageCount > 0 {
		if pageNum >= target.PageCount {
			return ""
		}
		return expandPattern(target.URLPattern, pageNum+1)
	}
	if extracted.HasNextPage {
		return expandPattern(target.URLPattern, pageNum+1)
	}
	return ""
}

func expandPattern(pattern string, page int) string {
	return strings.ReplaceAll(pattern, pagePlaceholder, strconv.Itoa(page))
}

// sourceHeaders converts the source's configured headers to the
// per-request form drivers consume.
func sourceHeaders(source harvest.SourceConfig) http.Header {
	if len(source.Headers) == 0 {
		return nil
	}
	headers := make(http.Header, len(source.Headers))
	for key, value := range source.Headers {
		headers.Set(key, value)
	}
	return headers
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// driverSession owns the at-most-one driver per kind opened for a run.
type driverSession struct {
	factory DriverFactory
	open    map[harvest.DriverKind]harvest.Driver
}

func newSession(factory DriverFactory) *driverSession {
	return &driverSession{factory: factory, open: make(map[harvest.DriverKind]harvest.Driver)}
}

func (s *driverSession) driver(kind harvest.DriverKind) (harvest.Driver, error) {
	if d, ok := s.open[kind]; ok {
		return d, nil
	}
	d, err := s.factory.Open(kind)
	if err != nil {
		return nil, fmt.Errorf("open %s driver: %w", kind, err)
	}
	s.open[kind] = d
	return d, nil
}

func (s *driverSession) Close() {
	for _, d := range s.open {
		_ = d.Close()
	}
}
