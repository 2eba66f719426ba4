package extract

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserConfig_Defaults(t *testing.T) {
	var cfg BrowserConfig
	cfg.applyDefaults()

	assert.Equal(t, []string{"input#searchquery", "input#txtSearchTermSite"}, cfg.SearchInputs)
	assert.Equal(t, "a.gs-title", cfg.ResultSelector)
	assert.Equal(t, 3, cfg.MaxResults)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.ReadDelay)
}

func TestQuoteJS(t *testing.T) {
	assert.Equal(t, `"a[href^=\"mailto:\"]"`, quoteJS(`a[href^="mailto:"]`))
	assert.Equal(t, `"x\\y\n"`, quoteJS("x\\y\n"))
}

func TestNewBrowser_RequiresHomeURL(t *testing.T) {
	_, err := NewBrowser(context.Background(), BrowserConfig{})
	assert.Error(t, err)
}

func TestNewBrowser_UnreachableHome(t *testing.T) {
	if os.Getenv("MAPPER_BROWSER_TESTS") == "" {
		t.Skip("set MAPPER_BROWSER_TESTS=1 to run tests that launch Chrome")
	}
	if _, err := exec.LookPath("google-chrome"); err != nil {
		if _, err := exec.LookPath("chromium"); err != nil {
			t.Skip("no Chrome binary on PATH")
		}
	}

	_, err := NewBrowser(context.Background(), BrowserConfig{
		HomeURL:  "http://127.0.0.1:1/",
		Headless: true,
		Timeout:  3 * time.Second,
	})
	require.Error(t, err)
}
