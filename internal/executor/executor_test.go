package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizforge/question-harvester/internal/antidetect"
	"github.com/quizforge/question-harvester/internal/clock/system"
	"github.com/quizforge/question-harvester/internal/extractor"
	"github.com/quizforge/question-harvester/internal/fingerprint"
	"github.com/quizforge/question-harvester/internal/harvest"
	"github.com/quizforge/question-harvester/internal/ratelimit"
)

// scriptedDriver serves canned pages keyed by URL and records the
// requests it saw.
type scriptedDriver struct {
	mu       sync.Mutex
	pages    map[string]harvest.Page
	errs     map[string]error
	requests []harvest.FetchRequest
	closed   bool
}

func (d *scriptedDriver) Fetch(_ context.Context, req harvest.FetchRequest) (harvest.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	if err, ok := d.errs[req.URL]; ok {
		return harvest.Page{}, err
	}
	page, ok := d.pages[req.URL]
	if !ok {
		return harvest.Page{}, harvest.E(harvest.CodeFetchFailed, "no page scripted for %s", req.URL)
	}
	return page, nil
}

func (d *scriptedDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *scriptedDriver) fetchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *scriptedDriver) firstRequest() harvest.FetchRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[0]
}

type singleDriverFactory struct {
	driver harvest.Driver
}

func (f singleDriverFactory) Open(harvest.DriverKind) (harvest.Driver, error) {
	return f.driver, nil
}

// countingExtractor emits a fixed number of items per page and reports
// a next page while pages remain below limit.
type countingExtractor struct {
	itemsPerPage int
	pageLimit    int32
	pagesSeen    atomic.Int32
}

func (e *countingExtractor) Extract(page harvest.Page, target harvest.Target) (harvest.ExtractResult, error) {
	n := e.pagesSeen.Add(1)
	var result harvest.ExtractResult
	for i := 0; i < e.itemsPerPage; i++ {
		result.Items = append(result.Items, harvest.RawItem{
			SourceID: target.SourceID,
			URL:      page.URL,
			Question: fmt.Sprintf("What is question %d on page %d?", i, n),
			Options:  []string{"a", "b"},
			Answer:   "a",
		})
	}
	result.HasNextPage = n < e.pageLimit
	if result.HasNextPage {
		result.NextURL = fmt.Sprintf("https://example.test/q?page=%d", n+1)
	}
	return result, nil
}

type memoryBlobs struct {
	mu    sync.Mutex
	paths []string
}

func (b *memoryBlobs) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths = append(b.paths, path)
	return "mem://" + path, nil
}

func testSource() harvest.SourceConfig {
	return harvest.SourceConfig{
		ID:           "quizhub",
		Name:         "QuizHub",
		BaseURL:      "https://example.test",
		Driver:       harvest.DriverKindHTTP,
		DefaultDelay: time.Millisecond,
		Headers:      map[string]string{"X-Client-Hint": "quizhub-partner"},
	}
}

// flakyExtractor fails extraction on scripted page numbers and never
// reports a next-page link, so paging runs off the target's page count.
type flakyExtractor struct {
	itemsPerPage int
	failOn       func(page int32) bool
	pagesSeen    atomic.Int32
}

func (e *flakyExtractor) Extract(page harvest.Page, target harvest.Target) (harvest.ExtractResult, error) {
	n := e.pagesSeen.Add(1)
	if e.failOn != nil && e.failOn(n) {
		return harvest.ExtractResult{}, fmt.Errorf("malformed markup on page %d", n)
	}
	var result harvest.ExtractResult
	for i := 0; i < e.itemsPerPage; i++ {
		result.Items = append(result.Items, harvest.RawItem{
			SourceID: target.SourceID,
			URL:      page.URL,
			Question: fmt.Sprintf("What is question %d on page %d?", i, n),
			Options:  []string{"a", "b"},
			Answer:   "a",
		})
	}
	return result, nil
}

func testJob(maxItems int) harvest.Job {
	return harvest.Job{
		ID: "job-1",
		Spec: harvest.JobSpec{
			Targets: []harvest.Target{{
				SourceID:   "quizhub",
				Category:   "science",
				URLPattern: "https://example.test/q?page={page}",
			}},
			MaxItems: maxItems,
			Priority: 5,
		},
		Status: harvest.JobStatusRunning,
	}
}

func newTestExecutor(t *testing.T, driver harvest.Driver, ex harvest.Extractor, blobs harvest.BlobStore, cfg Config) *Executor {
	t.Helper()
	source := testSource()
	registry := extractor.NewRegistry(nil)
	registry.Register(source.ID, ex)
	limiter := ratelimit.New(ratelimit.Config{DefaultDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond})
	detect := antidetect.New(antidetect.Config{}, nil, system.New(), zap.NewNop())
	return New(
		[]harvest.SourceConfig{source},
		registry,
		nil,
		singleDriverFactory{driver: driver},
		limiter,
		detect,
		blobs,
		fingerprint.New(),
		cfg,
		zap.NewNop(),
	)
}

func drain(t *testing.T, items <-chan harvest.RawItem, done <-chan Result) ([]harvest.RawItem, Result) {
	t.Helper()
	var collected []harvest.RawItem
	for item := range items {
		collected = append(collected, item)
	}
	select {
	case result := <-done:
		return collected, result
	case <-time.After(5 * time.Second):
		t.Fatal("executor did not report a result")
		return nil, Result{}
	}
}

func scriptedPages(n int) map[string]harvest.Page {
	pages := make(map[string]harvest.Page, n)
	for i := 1; i <= n; i++ {
		url := fmt.Sprintf("https://example.test/q?page=%d", i)
		pages[url] = harvest.Page{URL: url, StatusCode: 200, Body: []byte("<html>page</html>"), Method: harvest.FetchMethodHTTP}
	}
	return pages
}

func TestRunStreamsItemsAndPaginates(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(3)}
	ex := &countingExtractor{itemsPerPage: 2, pageLimit: 3}
	blobs := &memoryBlobs{}
	e := newTestExecutor(t, driver, ex, blobs, Config{})

	items, done := e.Run(context.Background(), testJob(100), nil)
	collected, result := drain(t, items, done)

	require.NoError(t, result.Err)
	require.Len(t, collected, 6)
	require.Equal(t, 3, result.PagesFetched)
	require.Equal(t, 0, result.PagesFailed)
	require.Equal(t, 6, result.ItemsEmitted)
	require.True(t, driver.closed)
	require.Len(t, blobs.paths, 3)
}

func TestRunStopsAtItemCap(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(10)}
	ex := &countingExtractor{itemsPerPage: 4, pageLimit: 10}
	e := newTestExecutor(t, driver, ex, nil, Config{})

	items, done := e.Run(context.Background(), testJob(5), nil)
	collected, result := drain(t, items, done)

	require.NoError(t, result.Err)
	require.LessOrEqual(t, len(collected), 5)
	require.Equal(t, 5, result.ItemsEmitted)
}

func TestRunStopsAfterConsecutiveEmptyPages(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(10)}
	ex := &countingExtractor{itemsPerPage: 0, pageLimit: 10}
	e := newTestExecutor(t, driver, ex, nil, Config{EmptyPageLimit: 3})

	items, done := e.Run(context.Background(), testJob(100), nil)
	collected, result := drain(t, items, done)

	require.NoError(t, result.Err)
	require.Empty(t, collected)
	require.Equal(t, 3, result.PagesFetched)
}

func TestRunRetriesThenRecordsPartialFailure(t *testing.T) {
	t.Parallel()

	firstURL := "https://example.test/q?page=1"
	driver := &scriptedDriver{
		pages: map[string]harvest.Page{},
		errs:  map[string]error{firstURL: harvest.E(harvest.CodeFetchFailed, "boom")},
	}
	ex := &countingExtractor{itemsPerPage: 1, pageLimit: 1}
	e := newTestExecutor(t, driver, ex, nil, Config{MaxFetchRetries: 2})

	items, done := e.Run(context.Background(), testJob(100), nil)
	collected, result := drain(t, items, done)

	require.NoError(t, result.Err)
	require.Empty(t, collected)
	require.Equal(t, 3, driver.fetchCount())
	require.Equal(t, 2, result.Retries)
	require.Equal(t, 1, result.PagesFailed)
	require.NotEmpty(t, result.PartialFailures)
}

func TestRunObservesCancellation(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(100)}
	ex := &countingExtractor{itemsPerPage: 1, pageLimit: 100}
	e := newTestExecutor(t, driver, ex, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	items, done := e.Run(ctx, testJob(0), nil)

	// Take a couple of items, then cancel mid-run.
	<-items
	<-items
	cancel()

	collected, result := drain(t, items, done)
	require.Error(t, result.Err)
	require.Less(t, len(collected), 100)
}

func TestRunPauseGateBlocksBetweenPages(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(3)}
	ex := &countingExtractor{itemsPerPage: 1, pageLimit: 3}
	e := newTestExecutor(t, driver, ex, nil, Config{})

	var gateHits atomic.Int32
	paused := make(chan struct{})
	gate := func(ctx context.Context) error {
		if gateHits.Add(1) == 2 {
			// Hold the second page until the test releases it.
			select {
			case <-paused:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return ctx.Err()
	}

	items, done := e.Run(context.Background(), testJob(100), gate)

	first := <-items
	require.NotEmpty(t, first.Question)

	// The executor is now parked on the gate before page two.
	require.Eventually(t, func() bool { return gateHits.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, driver.fetchCount())

	close(paused)
	collected, result := drain(t, items, done)
	require.NoError(t, result.Err)
	require.Len(t, collected, 2)
	require.Equal(t, 3, result.PagesFetched)
}

func TestRunStopsWhenExtractorReportsNoNextPage(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(1)}
	ex := &countingExtractor{itemsPerPage: 2, pageLimit: 1}
	e := newTestExecutor(t, driver, ex, nil, Config{})

	items, done := e.Run(context.Background(), testJob(100), nil)
	collected, result := drain(t, items, done)

	// An undeclared page count must not push the crawl past the page
	// the extractor called last.
	require.NoError(t, result.Err)
	require.Len(t, collected, 2)
	require.Equal(t, 1, driver.fetchCount())
	require.Equal(t, 0, result.PagesFailed)
	require.Empty(t, result.PartialFailures)
}

func TestRunPatternPagingHonorsDeclaredPageCount(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(4)}
	ex := &flakyExtractor{itemsPerPage: 1}
	e := newTestExecutor(t, driver, ex, nil, Config{})

	job := testJob(100)
	job.Spec.Targets[0].PageCount = 4

	items, done := e.Run(context.Background(), job, nil)
	collected, result := drain(t, items, done)

	require.NoError(t, result.Err)
	require.Len(t, collected, 4)
	require.Equal(t, 4, driver.fetchCount())
	require.Equal(t, 0, result.PagesFailed)
}

func TestRunStampsItemProvenance(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(2)}
	ex := &countingExtractor{itemsPerPage: 2, pageLimit: 2}
	e := newTestExecutor(t, driver, ex, nil, Config{})

	items, done := e.Run(context.Background(), testJob(100), nil)
	collected, result := drain(t, items, done)

	require.NoError(t, result.Err)
	require.Len(t, collected, 4)
	for i, item := range collected {
		require.Equal(t, "job-1", item.JobID)
		require.Equal(t, i/2+1, item.Page)
		require.False(t, item.ExtractedAt.IsZero())
	}
}

func TestRunSendsSourceHeaders(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(1)}
	ex := &countingExtractor{itemsPerPage: 1, pageLimit: 1}
	e := newTestExecutor(t, driver, ex, nil, Config{})

	items, done := e.Run(context.Background(), testJob(100), nil)
	_, result := drain(t, items, done)

	require.NoError(t, result.Err)
	require.GreaterOrEqual(t, driver.fetchCount(), 1)
	require.Equal(t, "quizhub-partner", driver.firstRequest().Headers.Get("X-Client-Hint"))
}

func TestRunToleratesIsolatedExtractionErrors(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(5)}
	ex := &flakyExtractor{itemsPerPage: 1, failOn: func(page int32) bool { return page == 2 }}
	e := newTestExecutor(t, driver, ex, nil, Config{ExtractErrorLimit: 3})

	job := testJob(100)
	job.Spec.Targets[0].PageCount = 5

	items, done := e.Run(context.Background(), job, nil)
	collected, result := drain(t, items, done)

	require.NoError(t, result.Err)
	require.Len(t, collected, 4)
	require.Equal(t, 5, result.PagesFetched)
	require.Equal(t, 1, result.PagesFailed)
	require.Len(t, result.PartialFailures, 1)
	require.Contains(t, result.PartialFailures[0], "extract")
}

func TestRunAbandonsTargetAfterRepeatedExtractionErrors(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(10)}
	ex := &flakyExtractor{itemsPerPage: 1, failOn: func(int32) bool { return true }}
	e := newTestExecutor(t, driver, ex, nil, Config{ExtractErrorLimit: 3})

	job := testJob(100)
	job.Spec.Targets[0].PageCount = 10

	items, done := e.Run(context.Background(), job, nil)
	collected, result := drain(t, items, done)

	require.NoError(t, result.Err)
	require.Empty(t, collected)
	require.Equal(t, 3, driver.fetchCount())
	require.Equal(t, 3, result.PagesFailed)
}

func TestRunSkipsUnknownSourceWithNote(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{pages: scriptedPages(1)}
	ex := &countingExtractor{itemsPerPage: 1, pageLimit: 1}
	e := newTestExecutor(t, driver, ex, nil, Config{})

	job := testJob(100)
	job.Spec.Targets = append([]harvest.Target{{
		SourceID:   "ghost",
		Category:   "history",
		URLPattern: "https://ghost.test/q?page={page}",
	}}, job.Spec.Targets...)

	items, done := e.Run(context.Background(), job, nil)
	collected, result := drain(t, items, done)

	require.NoError(t, result.Err)
	require.Len(t, collected, 1)
	require.Len(t, result.PartialFailures, 1)
	require.Contains(t, result.PartialFailures[0], "unknown source")
}
