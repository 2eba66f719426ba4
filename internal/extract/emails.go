package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// DefaultIgnoredExtensions are result links that point at downloads rather
// than pages.
var DefaultIgnoredExtensions = []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".csv", ".zip", ".ppt", ".pptx", ".xml"}

// NormalizeQuery trims the query and puts it into NFC form.
func NormalizeQuery(q string) string {
	return norm.NFC.String(strings.TrimSpace(q))
}

// HarvestEmails collects mailto addresses from a parsed page. The link text
// wins when it looks like an address, otherwise the href is used without its
// scheme and query string.
func HarvestEmails(doc *goquery.Document) []string {
	var out []string
	doc.Find("a[href^='mailto:']").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if !strings.Contains(text, "@") {
			href, _ := s.Attr("href")
			text = strings.TrimPrefix(href, "mailto:")
			text, _, _ = strings.Cut(text, "?")
			text = strings.TrimSpace(text)
		}
		if text != "" && strings.Contains(text, "@") {
			out = append(out, text)
		}
	})
	return out
}

// EmailSet accumulates addresses across pages, ignoring case-only duplicates
// and keeping first-seen order.
type EmailSet struct {
	fold  cases.Caser
	seen  map[string]bool
	items []string
}

// Add inserts addresses not seen before.
func (s *EmailSet) Add(emails ...string) {
	if s.seen == nil {
		s.fold = cases.Fold()
		s.seen = make(map[string]bool)
	}
	for _, e := range emails {
		key := s.fold.String(e)
		if s.seen[key] {
			continue
		}
		s.seen[key] = true
		s.items = append(s.items, e)
	}
}

// Len returns the number of distinct addresses.
func (s *EmailSet) Len() int { return len(s.items) }

// String joins the addresses one per line.
func (s *EmailSet) String() string { return strings.Join(s.items, "\n") }

// FilterResultLinks keeps up to limit absolute http(s) links that are not
// downloads, resolving relative hrefs against base and dropping duplicates.
func FilterResultLinks(base string, hrefs []string, limit int, ignored []string) []string {
	baseURL, _ := url.Parse(base)
	var out []string
	seen := make(map[string]bool)
	for _, href := range hrefs {
		if len(out) >= limit {
			break
		}
		href = strings.TrimSpace(href)
		if href == "" {
			continue
		}
		if baseURL != nil {
			if u, err := baseURL.Parse(href); err == nil {
				href = u.String()
			}
		}
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			continue
		}
		if hasIgnoredExtension(href, ignored) || seen[href] {
			continue
		}
		seen[href] = true
		out = append(out, href)
	}
	return out
}

func hasIgnoredExtension(link string, ignored []string) bool {
	clean := strings.ToLower(strings.TrimSpace(link))
	for _, ext := range ignored {
		if strings.HasSuffix(clean, ext) {
			return true
		}
	}
	return false
}
