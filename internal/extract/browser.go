package extract

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/data-mapper/internal/resilience"
)

// BrowserConfig configures the headless browser extractor.
type BrowserConfig struct {
	HomeURL           string
	SearchInputs      []string // tried in order; the first visible one is used
	ResultSelector    string
	MaxResults        int
	IgnoredExtensions []string
	UserAgent         string
	Headless          bool
	Timeout           time.Duration
	ResultsWait       time.Duration // how long to wait for search results to render
	ReadDelay         time.Duration // pause on each result page before reading it
	PageRetry         resilience.Backoff
	Field             string
}

func (c *BrowserConfig) applyDefaults() {
	if len(c.SearchInputs) == 0 {
		c.SearchInputs = []string{"input#searchquery", "input#txtSearchTermSite"}
	}
	if c.ResultSelector == "" {
		c.ResultSelector = "a.gs-title"
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 3
	}
	if c.IgnoredExtensions == nil {
		c.IgnoredExtensions = DefaultIgnoredExtensions
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.ResultsWait <= 0 {
		c.ResultsWait = 5 * time.Second
	}
	if c.ReadDelay <= 0 {
		c.ReadDelay = 1500 * time.Millisecond
	}
}

// BrowserExtractor drives one Chrome session: it types the query into the
// site search box, reads the rendered result links and visits each in a new
// tab to harvest mailto addresses.
type BrowserExtractor struct {
	cfg           BrowserConfig
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	last          string
	log           *zap.Logger
}

// NewBrowser launches Chrome and waits for the home page search box. Any
// failure here means the session cannot be used at all.
func NewBrowser(ctx context.Context, cfg BrowserConfig) (*BrowserExtractor, error) {
	cfg.applyDefaults()
	if cfg.HomeURL == "" {
		return nil, eris.New("browser_extract: home url is required")
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	// The session outlives the caller's context; Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	b := &BrowserExtractor{
		cfg:           cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		last:          cfg.HomeURL,
		log:           zap.L().With(zap.String("extractor", "browser")),
	}

	b.log.Info("browser_extract: opening home page", zap.String("url", cfg.HomeURL))
	if err := b.goHome(ctx); err != nil {
		b.shutdown()
		return nil, eris.Wrap(err, "browser_extract: open home page")
	}
	return b, nil
}

func (b *BrowserExtractor) step(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	stepCtx, cancel := context.WithTimeout(b.browserCtx, d)
	stop := context.AfterFunc(ctx, cancel)
	return stepCtx, func() {
		stop()
		cancel()
	}
}

func (b *BrowserExtractor) goHome(ctx context.Context) error {
	stepCtx, cancel := b.step(ctx, b.cfg.Timeout)
	defer cancel()

	b.last = b.cfg.HomeURL
	return chromedp.Run(stepCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorDeny),
		chromedp.Navigate(b.cfg.HomeURL),
		chromedp.WaitVisible(b.cfg.SearchInputs[len(b.cfg.SearchInputs)-1], chromedp.ByQuery),
	)
}

// visibleInput returns the first configured search box currently shown.
func (b *BrowserExtractor) visibleInput(ctx context.Context) string {
	stepCtx, cancel := b.step(ctx, b.cfg.Timeout)
	defer cancel()

	for _, sel := range b.cfg.SearchInputs {
		var visible bool
		js := `(function(s){const el=document.querySelector(s);return !!el && el.offsetParent !== null;})(` + quoteJS(sel) + `)`
		if err := chromedp.Run(stepCtx, chromedp.Evaluate(js, &visible)); err == nil && visible {
			return sel
		}
	}
	return ""
}

func (b *BrowserExtractor) search(ctx context.Context, query string) error {
	input := b.visibleInput(ctx)
	if input == "" {
		b.log.Warn("browser_extract: search box lost, reloading home page")
		if err := b.goHome(ctx); err != nil {
			return err
		}
		input = b.cfg.SearchInputs[len(b.cfg.SearchInputs)-1]
	}

	stepCtx, cancel := b.step(ctx, b.cfg.Timeout+time.Duration(len(query))*100*time.Millisecond)
	defer cancel()

	actions := []chromedp.Action{
		chromedp.Click(input, chromedp.ByQuery),
		chromedp.SetValue(input, "", chromedp.ByQuery),
	}
	// Type like a person so the site search does not reject the session.
	for _, r := range query {
		actions = append(actions,
			chromedp.SendKeys(input, string(r), chromedp.ByQuery),
			chromedp.Sleep(time.Duration(50+rand.IntN(50))*time.Millisecond),
		)
	}
	actions = append(actions, chromedp.SendKeys(input, kb.Enter, chromedp.ByQuery))
	return chromedp.Run(stepCtx, actions...)
}

func (b *BrowserExtractor) resultLinks(ctx context.Context) ([]string, bool) {
	stepCtx, cancel := b.step(ctx, b.cfg.ResultsWait)
	defer cancel()

	var hrefs []string
	var loc string
	js := `Array.from(document.querySelectorAll(` + quoteJS(b.cfg.ResultSelector) + `)).map(a => a.getAttribute("href") || "")`
	err := chromedp.Run(stepCtx,
		chromedp.WaitVisible(b.cfg.ResultSelector, chromedp.ByQuery),
		chromedp.Location(&loc),
		chromedp.Evaluate(js, &hrefs),
	)
	if loc != "" {
		b.last = loc
	}
	if err != nil {
		return nil, false
	}
	return hrefs, true
}

func (b *BrowserExtractor) visit(ctx context.Context, target string) ([]string, error) {
	tabCtx, closeTab := chromedp.NewContext(b.browserCtx)
	defer closeTab()
	stepCtx, cancel := context.WithTimeout(tabCtx, b.cfg.Timeout+b.cfg.ReadDelay)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	delay := b.cfg.ReadDelay + time.Duration(rand.Int64N(int64(b.cfg.ReadDelay)))
	var html string
	err := chromedp.Run(stepCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorDeny),
		chromedp.Navigate(target),
		chromedp.Sleep(delay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return HarvestEmails(doc), nil
}

// Extract searches for query and returns the addresses found on the top results.
func (b *BrowserExtractor) Extract(ctx context.Context, query string) (Record, error) {
	query = NormalizeQuery(query)
	log := b.log.With(zap.String("query", query))

	if err := b.search(ctx, query); err != nil {
		return nil, Classify(eris.Wrap(err, "browser_extract: search"), b.last)
	}

	hrefs, ok := b.resultLinks(ctx)
	if !ok {
		log.Info("browser_extract: no search results")
		return Record{b.cfg.Field: ""}, nil
	}

	targets := FilterResultLinks(b.last, hrefs, b.cfg.MaxResults, b.cfg.IgnoredExtensions)
	if len(targets) == 0 {
		log.Info("browser_extract: no result pages, only downloads or empty links")
		return Record{b.cfg.Field: ""}, nil
	}

	var emails EmailSet
	for i, target := range targets {
		found, err := resilience.Retry(ctx, b.cfg.PageRetry, func(ctx context.Context) ([]string, error) {
			return b.visit(ctx, target)
		})
		if err != nil {
			if strings.Contains(err.Error(), "ERR_ABORTED") {
				log.Debug("browser_extract: blocked a forced download", zap.String("url", target))
			} else {
				log.Warn("browser_extract: result page failed",
					zap.Int("result", i+1),
					zap.String("url", target),
					zap.Error(err),
				)
			}
			continue
		}
		emails.Add(found...)
	}

	log.Info("browser_extract: collected", zap.Int("emails", emails.Len()))
	return Record{b.cfg.Field: emails.String()}, nil
}

// LastLocation returns the last page the session was on.
func (b *BrowserExtractor) LastLocation() string { return b.last }

// Close shuts the browser down.
func (b *BrowserExtractor) Close() error {
	b.log.Info("browser_extract: closing browser")
	b.shutdown()
	return nil
}

func (b *BrowserExtractor) shutdown() {
	b.browserCancel()
	b.allocCancel()
}

// quoteJS renders s as a double-quoted JavaScript string literal.
func quoteJS(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}
