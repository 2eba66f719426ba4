package extract

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/data-mapper/internal/config"
	"github.com/sells-group/data-mapper/internal/resilience"
)

// NewFactory returns a Factory for the configured driver. Every extractor it
// opens writes its output under field and is throttled by the configured
// minimum interval.
func NewFactory(cfg config.ExtractConfig, field string) (Factory, error) {
	pageRetry := resilience.Backoff{
		Attempts: cfg.PageAttempts,
		Initial:  cfg.PageBackoff(),
		Max:      8 * cfg.PageBackoff(),
		Jitter:   0.25,
		OnRetry: func(attempt int, err error) {
			zap.L().Debug("extract: retrying result page", zap.Int("attempt", attempt), zap.Error(err))
		},
	}

	var open Factory
	switch cfg.Driver {
	case "browser":
		open = func(ctx context.Context) (Extractor, error) {
			b, err := NewBrowser(ctx, BrowserConfig{
				HomeURL:           cfg.HomeURL,
				SearchInputs:      cfg.SearchInputs,
				ResultSelector:    cfg.ResultSelector,
				MaxResults:        cfg.MaxResults,
				IgnoredExtensions: cfg.IgnoredExtensions,
				UserAgent:         cfg.UserAgent,
				Headless:          cfg.Headless,
				Timeout:           cfg.Timeout(),
				PageRetry:         pageRetry,
				Field:             field,
			})
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	case "http":
		open = func(context.Context) (Extractor, error) {
			h, err := NewHTTP(HTTPConfig{
				SearchURL:         cfg.SearchURL,
				ResultSelector:    cfg.ResultSelector,
				MaxResults:        cfg.MaxResults,
				IgnoredExtensions: cfg.IgnoredExtensions,
				UserAgent:         cfg.UserAgent,
				Timeout:           cfg.Timeout(),
				PageRetry:         pageRetry,
				Field:             field,
			})
			if err != nil {
				return nil, err
			}
			return h, nil
		}
	case "stub":
		open = func(context.Context) (Extractor, error) {
			return &StubExtractor{Field: field}, nil
		}
	default:
		return nil, eris.Errorf("extract: unknown driver %q", cfg.Driver)
	}

	interval := cfg.MinInterval()
	return func(ctx context.Context) (Extractor, error) {
		ext, err := open(ctx)
		if err != nil {
			return nil, err
		}
		return Throttle(ext, interval), nil
	}, nil
}
