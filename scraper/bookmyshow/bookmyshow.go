package bookmyshow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"showtime-api/models"
	"showtime-api/services"
	"showtime-api/utils"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configures the scraper.
type Options struct {
	BaseURL     string
	ChromeBin   string
	Timeout     time.Duration
	SettleDelay time.Duration

	// TeardownGrace bounds how long Extract waits, after its timeout, for the
	// renderer to release the browser session.
	TeardownGrace time.Duration
}

// Renderer loads pageURL in a fresh browser session and returns the rendered
// document once readySelector matches or the settle delay runs out.
type Renderer interface {
	Render(ctx context.Context, pageURL, readySelector string) (string, error)
}

// Scraper extracts a city's bookable movies from its listings page.
type Scraper struct {
	opts     Options
	rule     Rule
	renderer Renderer
	cleaner  *services.Cleaner
	logger   *utils.Logger
}

// New creates a Scraper that drives headless Chrome.
func New(opts Options, logger *utils.Logger) *Scraper {
	return NewWithRenderer(opts, NewChromeRenderer(opts, logger), logger)
}

// NewWithRenderer creates a Scraper over an arbitrary Renderer.
func NewWithRenderer(opts Options, renderer Renderer, logger *utils.Logger) *Scraper {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.TeardownGrace <= 0 {
		opts.TeardownGrace = 5 * time.Second
	}
	return &Scraper{
		opts:     opts,
		rule:     Rule{BaseURL: opts.BaseURL},
		renderer: renderer,
		cleaner:  services.NewCleaner(logger),
		logger:   logger,
	}
}

type renderResult struct {
	html string
	err  error
}

// Extract returns the city's movies with normalized titles. Any failure,
// including the overall timeout, is an *models.ExtractionError and yields no
// movies.
func (s *Scraper) Extract(ctx context.Context, city string) ([]models.Movie, error) {
	if !ValidCity(city) {
		return nil, &models.ExtractionError{City: city, Err: fmt.Errorf("invalid city %q", city)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	pageURL := s.rule.ListingsURL(city)
	s.logger.Info("[bookmyshow] Extracting %s from %s", city, pageURL)
	start := time.Now()

	// Render runs on its own goroutine so the timeout holds even if the
	// renderer does not return promptly after cancellation.
	done := make(chan renderResult, 1)
	go func() {
		html, err := s.renderer.Render(ctx, pageURL, s.rule.Selector(city))
		done <- renderResult{html: html, err: err}
	}()

	var res renderResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = renderResult{err: ctx.Err()}
		s.awaitTeardown(city, done)
	}
	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			res.err = fmt.Errorf("timed out after %v: %w", s.opts.Timeout, res.err)
		}
		return nil, &models.ExtractionError{City: city, Err: res.err}
	}

	raw, err := s.rule.Parse(res.html, pageURL, city)
	if err != nil {
		return nil, &models.ExtractionError{City: city, Err: err}
	}

	movies := s.cleaner.Clean(raw)
	s.logger.Info("[bookmyshow] Extracted %d movies for %s in %v", len(movies), city, time.Since(start).Round(time.Millisecond))
	return movies, nil
}

// awaitTeardown gives a cancelled render up to TeardownGrace to return, so the
// browser it started is shut down before Extract reports the timeout.
func (s *Scraper) awaitTeardown(city string, done <-chan renderResult) {
	grace := time.NewTimer(s.opts.TeardownGrace)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		s.logger.Warn("[bookmyshow] Renderer for %s still running %v after cancellation", city, s.opts.TeardownGrace)
	}
}

// ChromeRenderer starts an isolated headless Chrome per call.
type ChromeRenderer struct {
	chromeBin   string
	settleDelay time.Duration
	logger      *utils.Logger
}

// NewChromeRenderer creates a ChromeRenderer, locating the browser binary if
// none is configured.
func NewChromeRenderer(opts Options, logger *utils.Logger) *ChromeRenderer {
	bin := opts.ChromeBin
	if bin == "" {
		bin = findChromeBinary()
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = 5 * time.Second
	}
	return &ChromeRenderer{chromeBin: bin, settleDelay: settle, logger: logger}
}

// Render navigates to pageURL, waits for the body, then polls with backoff for
// readySelector for at most the settle delay before capturing the DOM. The
// browser process is torn down on every return path by the deferred cancels.
func (r *ChromeRenderer) Render(ctx context.Context, pageURL, readySelector string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	if r.chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(r.chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitVisible("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			ready, err := utils.Poll(ctx, utils.PollConfig{
				Interval:    250 * time.Millisecond,
				MaxInterval: 2 * time.Second,
				Timeout:     r.settleDelay,
			}, func(ctx context.Context) (bool, error) {
				var n int
				expr := fmt.Sprintf(`document.querySelectorAll(%q).length`, readySelector)
				if err := chromedp.Evaluate(expr, &n).Do(ctx); err != nil {
					return false, err
				}
				return n > 0, nil
			})
			if err != nil {
				return err
			}
			if !ready {
				r.logger.Debug("[bookmyshow] %s not ready after %v, capturing anyway", pageURL, r.settleDelay)
			}
			return nil
		}),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp render %s: %w", pageURL, err)
	}
	return html, nil
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
