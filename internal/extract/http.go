package extract

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/data-mapper/internal/resilience"
)

// HTTPConfig configures the plain HTTP extractor.
type HTTPConfig struct {
	SearchURL         string // must contain {query}
	ResultSelector    string
	MaxResults        int
	IgnoredExtensions []string
	UserAgent         string
	Timeout           time.Duration
	PageRetry         resilience.Backoff // per result page; the search itself is never retried here
	Field             string
}

// HTTPExtractor runs a site search over net/http, follows the top result
// links and harvests mailto addresses. No JavaScript is executed.
type HTTPExtractor struct {
	cfg    HTTPConfig
	client *http.Client
	last   string
}

// NewHTTP creates an HTTPExtractor with sensible defaults.
func NewHTTP(cfg HTTPConfig) (*HTTPExtractor, error) {
	if !strings.Contains(cfg.SearchURL, "{query}") {
		return nil, eris.Errorf("http_extract: search url %q has no {query} placeholder", cfg.SearchURL)
	}
	if cfg.ResultSelector == "" {
		cfg.ResultSelector = "a[href]"
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if cfg.IgnoredExtensions == nil {
		cfg.IgnoredExtensions = DefaultIgnoredExtensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; DataMapper/1.0)"
	}
	return &HTTPExtractor{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}, nil
}

// Extract searches for query and returns the addresses found on the result pages.
func (h *HTTPExtractor) Extract(ctx context.Context, query string) (Record, error) {
	searchURL := strings.ReplaceAll(h.cfg.SearchURL, "{query}", url.QueryEscape(NormalizeQuery(query)))
	h.last = searchURL

	doc, err := h.fetch(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	var hrefs []string
	doc.Find(h.cfg.ResultSelector).Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	targets := FilterResultLinks(searchURL, hrefs, h.cfg.MaxResults, h.cfg.IgnoredExtensions)
	if len(targets) == 0 {
		zap.L().Debug("http_extract: no result pages", zap.String("query", query))
		return Record{h.cfg.Field: ""}, nil
	}

	var emails EmailSet
	for i, target := range targets {
		h.last = target
		page, err := resilience.Retry(ctx, h.cfg.PageRetry, func(ctx context.Context) (*goquery.Document, error) {
			return h.fetch(ctx, target)
		})
		if err != nil {
			// A single unreachable result page does not fail the row.
			zap.L().Warn("http_extract: result page failed",
				zap.Int("result", i+1),
				zap.String("url", target),
				zap.Error(err),
			)
			continue
		}
		emails.Add(HarvestEmails(page)...)
	}

	return Record{h.cfg.Field: emails.String()}, nil
}

func (h *HTTPExtractor) fetch(ctx context.Context, target string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &UnrecoverableError{Err: eris.Wrap(err, "http_extract: create request")}
	}
	req.Header.Set("User-Agent", h.cfg.UserAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, Classify(eris.Wrap(err, "http_extract: fetch"), target)
	}
	defer func() { _ = resp.Body.Close() }()

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, &RecoverableError{
			Location: target,
			Err:      resilience.NewTransientError(eris.Errorf("http_extract: status %d", resp.StatusCode), resp.StatusCode),
		}
	}
	if resp.StatusCode >= 400 {
		return nil, &UnrecoverableError{Err: eris.Errorf("http_extract: status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2*1024*1024))
	if err != nil {
		return nil, Classify(eris.Wrap(err, "http_extract: parse body"), target)
	}
	return doc, nil
}

// LastLocation returns the last URL requested.
func (h *HTTPExtractor) LastLocation() string { return h.last }

// Close releases idle connections.
func (h *HTTPExtractor) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
