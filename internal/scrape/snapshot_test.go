package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/seo-pipeline/pkg/jina"
)

const acmeHome = `<!doctype html>
<html><head>
<title> Acme Tools | Hand tools for pros </title>
<meta name="description" content="Durable hand tools for contractors.">
<meta name="keywords" content="hand tools, drills , ,hammers">
<meta name="generator" content="WordPress 6.5.2">
<script src="https://acme.com/wp-content/themes/acme/app.js"></script>
<script async src="https://www.googletagmanager.com/gtag/js?id=G-1"></script>
</head>
<body>
<nav>Home Shop Contact</nav>
<h1>Built to last</h1>
<h2>Drills</h2>
<h2>Hammers</h2>
<p>Acme has made tools since 1952.</p>
<script>var tracking = "secret";</script>
<footer>Copyright Acme</footer>
</body></html>`

func TestSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "SEOPipelineBot")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(acmeHome))
	}))
	defer srv.Close()

	snap, err := New(Config{}).Snapshot(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, srv.URL, snap.URL)
	assert.Equal(t, 200, snap.StatusCode)
	assert.Equal(t, "Acme Tools | Hand tools for pros", snap.Title)
	assert.Equal(t, "Durable hand tools for contractors.", snap.Description)
	assert.Equal(t, []string{"hand tools", "drills", "hammers"}, snap.Keywords)
	assert.Equal(t, "WordPress 6.5.2", snap.Generator)
	assert.Equal(t, []string{"Built to last", "Drills", "Hammers"}, snap.Headings)
	assert.Equal(t, []string{"WordPress", "Google Tag Manager"}, snap.Technologies)
	assert.Contains(t, snap.Text, "Acme has made tools since 1952.")
	assert.NotContains(t, snap.Text, "secret")
	assert.NotContains(t, snap.Text, "Home Shop Contact")
	assert.NotContains(t, snap.Text, "Copyright")
}

func TestSnapshot_OGDescriptionFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Shop</title>
<meta property="og:description" content="From the OG tag"></head>
<body><script src="https://cdn.shopify.com/s/app.js"></script><p>Welcome</p></body></html>`))
	}))
	defer srv.Close()

	snap, err := New(Config{}).Snapshot(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "From the OG tag", snap.Description)
	assert.Equal(t, []string{"Shopify"}, snap.Technologies)
	assert.Empty(t, snap.Keywords)
}

func TestSnapshot_TextTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>" + strings.Repeat("word ", 500) + "</p></body></html>"))
	}))
	defer srv.Close()

	snap, err := New(Config{MaxText: 100}).Snapshot(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, []rune(snap.Text), 100)
}

func TestSnapshot_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cf-Ray", "abc123")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<html><body>Access denied</body></html>`))
	}))
	defer srv.Close()

	_, err := New(Config{}).Snapshot(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked (cloudflare)")
}

func TestSnapshot_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<html><body>Not found</body></html>`))
	}))
	defer srv.Close()

	_, err := New(Config{}).Snapshot(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestSnapshot_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>x</title></head><body>ok</body></html>`))
	}))
	defer srv.Close()

	s := New(Config{RateLimit: 1})
	_, err := s.Snapshot(context.Background(), srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = s.Snapshot(ctx, srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

type fakeReader struct {
	page  *jina.Page
	err   error
	calls int
}

func (f *fakeReader) Read(context.Context, string) (*jina.Page, error) {
	f.calls++
	return f.page, f.err
}

func TestSnapshot_ReaderFallbackOnBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reader := &fakeReader{page: &jina.Page{
		Title:   "Acme Tools",
		Content: "# Built to last\n\nAcme makes tools.\n\n## Drills\n### Cordless",
	}}
	snap, err := New(Config{Reader: reader}).Snapshot(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, 1, reader.calls)
	assert.Equal(t, "reader", snap.Source)
	assert.Equal(t, srv.URL, snap.URL)
	assert.Equal(t, "Acme Tools", snap.Title)
	assert.Equal(t, []string{"Built to last", "Drills"}, snap.Headings)
	assert.Contains(t, snap.Text, "Acme makes tools.")
}

func TestSnapshot_ReaderNotUsedOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(acmeHome))
	}))
	defer srv.Close()

	reader := &fakeReader{}
	snap, err := New(Config{Reader: reader}).Snapshot(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Zero(t, reader.calls)
	assert.Empty(t, snap.Source)
}

func TestSnapshot_ReaderFailureKeepsBothErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	reader := &fakeReader{err: errors.New("reader down")}
	_, err := New(Config{Reader: reader}).Snapshot(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reader down")
	assert.Contains(t, err.Error(), "404")
}
