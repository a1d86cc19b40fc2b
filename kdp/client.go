// Package kdp provides a client for the KDP royalty reporting portal.
//
// The portal is session-gated: every call rides on the operator's
// signed-in session cookies, and all API calls except the initial page
// probe additionally require a per-session CSRF token scraped out of
// that page. A lapsed session surfaces as a redirect to the sign-in
// page, reported as ErrAuthRequired rather than a transport failure.
package kdp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/inkpress/royaltyrelay/pocketbase/ratelimit"
)

const (
	defaultBaseURL   = "https://kdpreports.amazon.com"
	defaultUploadURL = "http://localhost:8000/api/report/royalties/"

	royaltiesPagePath    = "/reports/royalties"
	customerMetadataPath = "/api/v2/reports/customerMetadata"
	booksMetadataPath    = "/api/v2/reports/booksMetadata"
	reportReadyPath      = "/api/v2/reports/pagesReadByAsin"
	reportGeneratePath   = "/download/report/royaltiesestimator/en_US/royaltiesEstimatorReport.xslx"

	// tokenMarker is the literal fragment preceding the CSRF token in the
	// royalties page body.
	tokenMarker = `csrftoken":{"token":"`

	// resolveAttempts bounds the prime+materialize sequence: the first
	// attempt plus one retry while server-side generation catches up.
	resolveAttempts = 2
	resolvePause    = 500 * time.Millisecond
)

var (
	// ErrAuthRequired means the portal redirected to sign-in or answered
	// 401; the operator has to reauthenticate in their browser and
	// refresh the session cookies.
	ErrAuthRequired = errors.New("kdp: reauthentication required")

	// ErrTokenNotFound means the royalties page loaded but carried no
	// recognizable CSRF token fragment.
	ErrTokenNotFound = errors.New("kdp: csrf token not found in royalties page")

	// ErrResolutionExhausted means the portal accepted the report request
	// but never produced a download URL within the retry budget.
	ErrResolutionExhausted = errors.New("kdp: report url not available after retries")
)

// Window is the inclusive date range of a report request, both bounds
// serialized as second-precision ISO-8601 UTC (YYYY-MM-DDTHH:MM:SSZ).
type Window struct {
	StartDate string
	EndDate   string
}

// Config holds portal client configuration.
type Config struct {
	BaseURL        string
	UploadURL      string
	SessionCookies string // raw Cookie header captured from the signed-in browser session
}

// ConfigFromEnv reads the client configuration from the environment.
func ConfigFromEnv() *Config {
	cfg := &Config{
		BaseURL:        strings.TrimSpace(os.Getenv("KDP_BASE_URL")),
		UploadURL:      strings.TrimSpace(os.Getenv("RELAY_UPLOAD_URL")),
		SessionCookies: strings.TrimSpace(os.Getenv("KDP_SESSION_COOKIES")),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = defaultUploadURL
	}
	return cfg
}

// Client wraps portal interactions.
type Client struct {
	baseURL    string
	uploadURL  string
	httpClient *http.Client
	limiter    *ratelimit.Limiter

	// resolvePause is the wait between resolver attempts; tests shorten it.
	resolvePause time.Duration
}

// NewClient creates a portal client. The session cookies are required:
// without them every call would just bounce to the sign-in page.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.SessionCookies == "" {
		return nil, fmt.Errorf("missing required KDP session cookies (KDP_SESSION_COOKIES)")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	jar.SetCookies(base, parseCookieHeader(cfg.SessionCookies))

	return &Client{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		uploadURL: cfg.UploadURL,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Jar:       jar,
			Transport: newOriginTransport(base, nil),
		},
		limiter:      ratelimit.New(nil),
		resolvePause: resolvePause,
	}, nil
}

// RetrieveToken probes the royalties page and scrapes the per-session
// CSRF token out of its body.
func (c *Client) RetrieveToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+royaltiesPagePath, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create probe request: %w", err)
	}

	resp, err := c.doPortal(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if isSigninRedirect(resp) {
		slog.Warn("Portal session lapsed, reauthentication required")
		return "", ErrAuthRequired
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("probe failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read probe response: %w", err)
	}

	_, rest, ok := strings.Cut(string(body), tokenMarker)
	if !ok {
		return "", ErrTokenNotFound
	}
	token, _, ok := strings.Cut(rest, `"`)
	if !ok || token == "" {
		return "", ErrTokenNotFound
	}
	return token, nil
}

// CustomerMetadata fetches the account metadata document.
func (c *Client) CustomerMetadata(ctx context.Context, token string) (map[string]any, error) {
	return c.getMetadata(ctx, token, customerMetadataPath)
}

// BooksMetadata fetches the catalog metadata document.
func (c *Client) BooksMetadata(ctx context.Context, token string) (map[string]any, error) {
	return c.getMetadata(ctx, token, booksMetadataPath)
}

// BookASINs derives the comma-joined ASIN list from the catalog
// metadata, or "" when the metadata or its Books list is missing.
func (c *Client) BookASINs(ctx context.Context, token string) (string, error) {
	meta, err := c.BooksMetadata(ctx, token)
	if err != nil {
		return "", err
	}

	books, ok := meta["Books"].([]any)
	if !ok {
		return "", nil
	}
	asins := make([]string, 0, len(books))
	for _, b := range books {
		book, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if asin, ok := book["ASIN"].(string); ok && asin != "" {
			asins = append(asins, asin)
		}
	}
	return strings.Join(asins, ","), nil
}

// ResolveReportURL drives the portal's asynchronous report protocol:
// a prime call that warms server-side generation, then a materialize
// call whose response carries the download URL once the report is
// ready. The full sequence is retried once after a short pause.
func (c *Client) ResolveReportURL(ctx context.Context, token string, w Window) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= resolveAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.resolvePause):
			}
		}

		if err := c.primeReport(ctx, token, w); err != nil {
			if errors.Is(err, ErrAuthRequired) {
				return "", err
			}
			slog.Warn("Report prime request failed", "attempt", attempt, "error", err)
		}

		reportURL, err := c.materializeReport(ctx, w)
		if err != nil {
			if errors.Is(err, ErrAuthRequired) {
				return "", err
			}
			slog.Warn("Report materialize request failed", "attempt", attempt, "error", err)
			lastErr = err
			continue
		}
		if reportURL != "" {
			return reportURL, nil
		}
		slog.Info("Report not ready yet", "attempt", attempt, "start", w.StartDate, "end", w.EndDate)
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w (last attempt: %v)", ErrResolutionExhausted, lastErr)
	}
	return "", ErrResolutionExhausted
}

// primeReport tells the portal which ASINs and date range to prepare.
// Its response is discarded; the call exists to warm generation.
func (c *Client) primeReport(ctx context.Context, token string, w Window) error {
	asins, err := c.BookASINs(ctx, token)
	if err != nil {
		if errors.Is(err, ErrAuthRequired) {
			return err
		}
		slog.Warn("Could not list book ASINs for prime request", "error", err)
	}

	params := url.Values{}
	params.Set("startDate", w.StartDate)
	params.Set("endDate", w.EndDate)
	params.Set("granularity", "DAY")
	params.Set("asins", asins)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+reportReadyPath+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return fmt.Errorf("create prime request: %w", err)
	}
	setCommonHeaders(req, token)

	resp, err := c.doPortal(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// materializeReport asks for the generated report and returns its URL,
// or "" when the portal has not finished generating it.
func (c *Client) materializeReport(ctx context.Context, w Window) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"asins":             nil,
		"authors":           nil,
		"distribution":      nil,
		"formats":           nil,
		"marketplaces":      nil,
		"reportEndDate":     w.EndDate,
		"reportGranularity": "DAY",
		"reportStartDate":   w.StartDate,
		"reportType":        "royalties",
	})
	if err != nil {
		return "", fmt.Errorf("encode report request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+reportGeneratePath, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create materialize request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doPortal(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if isSigninRedirect(resp) {
		return "", ErrAuthRequired
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("materialize failed with status %d", resp.StatusCode)
	}

	var data struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("decode materialize response: %w", err)
	}
	return data.URL, nil
}

// DownloadReport fetches the resolved report as raw bytes. The URL is
// pre-signed, so no session headers or pacing apply.
func (c *Client) DownloadReport(ctx context.Context, reportURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reportURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read report body: %w", err)
	}
	return data, nil
}

// UploadReport posts the report bytes to the collection endpoint as a
// multipart form with the operator's delivery address.
func (c *Client) UploadReport(ctx context.Context, report []byte, email string) error {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	file, err := form.CreateFormFile("file", "report.xlsx")
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := file.Write(report); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	if err := form.WriteField("email", email); err != nil {
		return fmt.Errorf("write email field: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &buf)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// doPortal issues a paced request to the portal. A 401 is the one
// condition converted to an error here: it is an explicit signal that
// the session is gone and the current run must stop.
func (c *Client) doPortal(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("portal request failed: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		slog.Warn("Portal returned 401, reauthentication required")
		return nil, ErrAuthRequired
	case http.StatusTooManyRequests:
		spacing := c.limiter.Throttled()
		slog.Warn("Portal throttled request, widening spacing", "spacing", spacing)
	default:
		c.limiter.Success()
	}
	return resp, nil
}

// getMetadata fetches an authenticated JSON document from the portal.
func (c *Client) getMetadata(ctx context.Context, token, path string) (map[string]any, error) {
	if token == "" {
		return nil, fmt.Errorf("csrf token not set")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create metadata request: %w", err)
	}
	setCommonHeaders(req, token)

	resp, err := c.doPortal(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if isSigninRedirect(resp) {
		return nil, ErrAuthRequired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode metadata response: %w", err)
	}
	return doc, nil
}

// setCommonHeaders applies the fixed header set the portal's JSON
// endpoints expect.
func setCommonHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Csrf-Token", token)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
}

// isSigninRedirect reports whether the response landed on the sign-in
// page after redirects.
func isSigninRedirect(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	return strings.Contains(strings.ToLower(resp.Request.URL.String()), "signin")
}
