// Package scrape fetches a lightweight snapshot of a website's homepage for
// the scan stage prompt.
package scrape

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/seo-pipeline/pkg/jina"
)

// Snapshot is what the scan prompt sees of a homepage.
type Snapshot struct {
	URL          string   `json:"url"`
	StatusCode   int      `json:"statusCode"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	Generator    string   `json:"generator,omitempty"`
	Headings     []string `json:"headings,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
	Text         string   `json:"text,omitempty"`
	// Source is "reader" when the page came from the fallback reader.
	Source string `json:"source,omitempty"`
}

// Config configures a Snapshotter.
type Config struct {
	Timeout time.Duration
	// RateLimit caps requests per second across all callers. Zero disables it.
	RateLimit float64
	UserAgent string
	// MaxBytes limits how much of the body is read. Default 512 KiB.
	MaxBytes int64
	// MaxText limits the extracted body text. Default 4000 characters.
	MaxText int
	// Reader, when set, renders pages that block direct fetches or fail.
	Reader jina.Client
}

// Snapshotter fetches homepages.
type Snapshotter struct {
	client   *http.Client
	limiter  *rate.Limiter
	ua       string
	maxBytes int64
	maxText  int
	reader   jina.Client
}

// New creates a Snapshotter.
func New(cfg Config) *Snapshotter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; SEOPipelineBot/1.0)"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 512 * 1024
	}
	if cfg.MaxText <= 0 {
		cfg.MaxText = 4000
	}
	s := &Snapshotter{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		ua:       cfg.UserAgent,
		maxBytes: cfg.MaxBytes,
		maxText:  cfg.MaxText,
		reader:   cfg.Reader,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return s
}

// Snapshot fetches targetURL and extracts its metadata. A blocked or failed
// fetch is retried through the reader when one is configured.
func (s *Snapshotter) Snapshot(ctx context.Context, targetURL string) (*Snapshot, error) {
	snap, err := s.fetch(ctx, targetURL)
	if err == nil || s.reader == nil || ctx.Err() != nil {
		return snap, err
	}
	zap.L().Debug("direct fetch failed, using reader",
		zap.String("url", targetURL),
		zap.Error(err),
	)
	page, rerr := s.reader.Read(ctx, targetURL)
	if rerr != nil {
		return nil, eris.Wrapf(rerr, "scrape: reader fallback after: %v", err)
	}
	return fromPage(page, targetURL, s.maxText), nil
}

func (s *Snapshotter) fetch(ctx context.Context, targetURL string) (*Snapshot, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "scrape: rate limit")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "scrape: create request")
	}
	req.Header.Set("User-Agent", s.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: fetch %s", targetURL)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: read body")
	}
	if bt := DetectBlock(resp.StatusCode, resp.Header, body); bt != BlockNone {
		return nil, eris.Errorf("scrape: %s blocked (%s)", targetURL, bt)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("scrape: %s returned status %d", targetURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "scrape: parse document")
	}
	snap := extract(doc, body, s.maxText)
	snap.URL = targetURL
	snap.StatusCode = resp.StatusCode
	return snap, nil
}

func extract(doc *goquery.Document, body []byte, maxText int) *Snapshot {
	snap := &Snapshot{
		Title:       collapse(doc.Find("head title").First().Text()),
		Description: metaContent(doc, "description"),
		Generator:   metaContent(doc, "generator"),
	}
	if snap.Description == "" {
		snap.Description = propertyContent(doc, "og:description")
	}
	if kw := metaContent(doc, "keywords"); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				snap.Keywords = append(snap.Keywords, k)
			}
		}
	}
	doc.Find("h1, h2").Each(func(_ int, s *goquery.Selection) {
		if len(snap.Headings) >= 20 {
			return
		}
		if h := collapse(s.Text()); h != "" {
			snap.Headings = append(snap.Headings, h)
		}
	})
	snap.Technologies = detectTechnologies(doc, body, snap.Generator)

	doc.Find("script, style, noscript, nav, footer, svg").Remove()
	text := collapse(doc.Find("body").Text())
	if r := []rune(text); len(r) > maxText {
		text = string(r[:maxText])
	}
	snap.Text = text
	return snap
}

// fromPage builds a snapshot from a reader page. Headings are the markdown
// "#" and "##" lines.
func fromPage(p *jina.Page, targetURL string, maxText int) *Snapshot {
	snap := &Snapshot{
		URL:         targetURL,
		Title:       collapse(p.Title),
		Description: collapse(p.Description),
		Source:      "reader",
	}
	for _, line := range strings.Split(p.Content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "# ") && !strings.HasPrefix(line, "## ") {
			continue
		}
		if len(snap.Headings) >= 20 {
			break
		}
		if h := collapse(strings.TrimLeft(line, "# ")); h != "" {
			snap.Headings = append(snap.Headings, h)
		}
	}
	text := collapse(p.Content)
	if r := []rune(text); len(r) > maxText {
		text = string(r[:maxText])
	}
	snap.Text = text
	return snap
}

func metaContent(doc *goquery.Document, name string) string {
	var out string
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if n, _ := s.Attr("name"); strings.EqualFold(n, name) {
			out, _ = s.Attr("content")
			return false
		}
		return true
	})
	return strings.TrimSpace(out)
}

func propertyContent(doc *goquery.Document, property string) string {
	content, _ := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")
	return strings.TrimSpace(content)
}

// techMarkers maps substrings of the raw HTML to the technology they reveal.
var techMarkers = []struct {
	marker string
	name   string
}{
	{"wp-content/", "WordPress"},
	{"cdn.shopify.com", "Shopify"},
	{"static.wixstatic.com", "Wix"},
	{"squarespace.com", "Squarespace"},
	{"webflow.js", "Webflow"},
	{"__NEXT_DATA__", "Next.js"},
	{"__NUXT__", "Nuxt"},
	{"data-reactroot", "React"},
	{"ng-version", "Angular"},
	{"googletagmanager.com", "Google Tag Manager"},
	{"google-analytics.com", "Google Analytics"},
	{"js.hs-scripts.com", "HubSpot"},
	{"cdn.jsdelivr.net/npm/bootstrap", "Bootstrap"},
}

func detectTechnologies(doc *goquery.Document, body []byte, generator string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	if generator != "" {
		// "WordPress 6.5.2" → "WordPress"
		add(strings.Fields(generator)[0])
	}
	raw := string(body)
	for _, m := range techMarkers {
		if strings.Contains(raw, m.marker) {
			add(m.name)
		}
	}
	if _, ok := doc.Find("html").Attr("data-wf-site"); ok {
		add("Webflow")
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
