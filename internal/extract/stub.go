package extract

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// StubExtractor is an offline extractor for dry runs. Queries containing
// "fail" produce no addresses; anything else maps to a fixed address.
type StubExtractor struct {
	Field string
	Delay time.Duration
	last  string
}

// Extract simulates a lookup.
func (s *StubExtractor) Extract(ctx context.Context, query string) (Record, error) {
	s.last = "stub://" + NormalizeQuery(query)
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, Classify(eris.Wrap(ctx.Err(), "stub_extract: wait"), s.last)
		case <-timer.C:
		}
	}
	if strings.Contains(strings.ToLower(query), "fail") {
		return Record{s.Field: ""}, nil
	}
	return Record{s.Field: "mock@email.com"}, nil
}

// LastLocation returns the pseudo URL of the last query.
func (s *StubExtractor) LastLocation() string { return s.last }

// Close is a no-op.
func (s *StubExtractor) Close() error { return nil }
