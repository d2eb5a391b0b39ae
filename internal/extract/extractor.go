// Package extract fetches a web page and reduces it to readable text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/metrics"
	"github.com/web-chatbot/backend/pkg/logger"
	"github.com/web-chatbot/backend/pkg/utils"
)

var (
	ErrInvalidURL = errors.New("invalid url")
	ErrNoContent  = errors.New("no readable text on page")
	ErrBadStatus  = errors.New("unexpected HTTP status")
)

var whitespace = regexp.MustCompile(`\s+`)

// Page is the extracted content of one URL.
type Page struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Truncated bool      `json:"truncated"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache stores extracted pages by URL hash.
type Cache interface {
	GetPage(ctx context.Context, urlHash string) (*Page, bool, error)
	SetPage(ctx context.Context, urlHash string, page *Page) error
}

type Options struct {
	Timeout   time.Duration
	MaxChars  int
	UserAgent string
}

type Extractor struct {
	httpClient *http.Client
	maxChars   int
	userAgent  string
	cache      Cache
}

func New(opts Options, cache Cache) *Extractor {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (compatible; webqa/1.0)"
	}
	return &Extractor{
		httpClient: &http.Client{Timeout: opts.Timeout},
		maxChars:   opts.MaxChars,
		userAgent:  opts.UserAgent,
		cache:      cache,
	}
}

// WithHTTPClient replaces the HTTP client, keeping every other setting.
func (e *Extractor) WithHTTPClient(c *http.Client) *Extractor {
	cp := *e
	cp.httpClient = c
	return &cp
}

// Forget drops the cached copy of a page, and anything else the cache keys
// by the same URL, so the next Extract fetches it again.
func (e *Extractor) Forget(ctx context.Context, rawURL string) error {
	inv, ok := e.cache.(interface {
		Invalidate(ctx context.Context, urlHash string) error
	})
	if !ok {
		return nil
	}
	return inv.Invalidate(ctx, utils.HashURL(rawURL))
}

func (e *Extractor) Extract(ctx context.Context, rawURL string) (*Page, error) {
	normalized := utils.NormalizeURL(rawURL)
	if u, err := url.Parse(normalized); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	key := utils.HashString(normalized)

	if e.cache != nil {
		page, ok, err := e.cache.GetPage(ctx, key)
		if err != nil {
			logger.Warn("Page cache read failed", zap.String("url", normalized), zap.Error(err))
		} else if ok {
			return page, nil
		}
	}

	page, err := e.fetch(ctx, normalized)
	if err != nil {
		metrics.ExtractionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.ExtractionsTotal.WithLabelValues("success").Inc()

	if e.cache != nil {
		if err := e.cache.SetPage(ctx, key, page); err != nil {
			logger.Warn("Page cache write failed", zap.String("url", normalized), zap.Error(err))
		}
	}

	logger.Info("Page extracted",
		zap.String("url", normalized),
		zap.Int("chars", utf8.RuneCountInString(page.Text)),
		zap.Bool("truncated", page.Truncated),
	)
	return page, nil
}

func (e *Extractor) fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d from %s", ErrBadStatus, resp.StatusCode, pageURL)
	}

	page := &Page{
		URL:       pageURL,
		FetchedAt: time.Now().UTC(),
	}

	var text string
	if isPDF(resp.Header.Get("Content-Type"), pageURL) {
		if text, err = pdfText(resp.Body); err != nil {
			return nil, err
		}
		page.Title = pdfTitle(pageURL)
	} else {
		doc, err := goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML: %w", err)
		}
		text = cleanText(doc)
		page.Title = title(doc)
	}

	page.Text, page.Truncated = clip(text, e.maxChars)
	if page.Text == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoContent, pageURL)
	}
	return page, nil
}

func cleanText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, footer, header, aside, iframe, svg").Remove()

	var blocks []string
	doc.Find("body").Find("h1, h2, h3, h4, h5, h6, p, li, pre, blockquote, td, th").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, li, pre, blockquote").Length() > 0 {
			return
		}
		text := strings.TrimSpace(whitespace.ReplaceAllString(s.Text(), " "))
		if text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) > 0 {
		return strings.Join(blocks, "\n")
	}

	return strings.TrimSpace(whitespace.ReplaceAllString(doc.Find("body").Text(), " "))
}

func title(doc *goquery.Document) string {
	t := strings.TrimSpace(doc.Find("title").First().Text())
	if t == "" {
		t = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	return t
}

// clip limits text to maxChars runes. maxChars <= 0 means no limit.
func clip(text string, maxChars int) (string, bool) {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:maxChars]), true
}
