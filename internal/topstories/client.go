// Package topstories fetches cards from the New York Times Top Stories API.
package topstories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/shehryarbajwa/newtab-sections/internal/logging"
	"github.com/shehryarbajwa/newtab-sections/pkg/models"
)

const (
	DefaultEndpoint = "https://api.nytimes.com/svc/topstories/v2/home.json"

	// Hostname labels every card produced by this source
	Hostname = "nytimes.com"

	DefaultLimit         = 20
	DefaultMaxImageWidth = 300
)

var log = logging.ForComponent(logging.CompFeed)

// Response is the envelope returned by the API
type Response struct {
	Results []Story `json:"results"`
}

// Story is one entry of the results array
type Story struct {
	Title      string       `json:"title"`
	Abstract   string       `json:"abstract"`
	URL        string       `json:"url"`
	Multimedia []Multimedia `json:"multimedia"`
}

// Multimedia is an image rendition attached to a story
type Multimedia struct {
	Type  string `json:"type"`
	Width int    `json:"width"`
	URL   string `json:"url"`
}

// Client talks to the Top Stories API
type Client struct {
	endpoint      string
	apiKey        string
	limit         int
	maxImageWidth int
	httpClient    *http.Client
	limiter       *rate.Limiter
}

// Option configures a Client
type Option func(*Client)

// WithEndpoint overrides the Top Stories URL
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient sets the client used for requests
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimit sets how many results become cards
func WithLimit(n int) Option {
	return func(c *Client) { c.limit = n }
}

// WithMaxImageWidth sets the widest image a card may use, in pixels
func WithMaxImageWidth(px int) Option {
	return func(c *Client) { c.maxImageWidth = px }
}

// WithRateLimit caps outgoing requests per minute. Zero disables the cap.
func WithRateLimit(perMinute int) Option {
	return func(c *Client) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
	}
}

// NewClient creates a client for the given API key
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:      DefaultEndpoint,
		apiKey:        apiKey,
		limit:         DefaultLimit,
		maxImageWidth: DefaultMaxImageWidth,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		// The API allows 10 requests per minute per key.
		limiter: rate.NewLimiter(rate.Limit(10.0/60.0), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchCards issues a single GET and maps the first stories to cards
func (c *Client) FetchCards(ctx context.Context) ([]models.Card, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("api-key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch top stories: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("top stories API returned status %d", resp.StatusCode)
	}

	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse top stories: %w", err)
	}

	cards := c.toCards(body.Results)
	log.Debug("top_stories_fetched",
		slog.Int("results", len(body.Results)),
		slog.Int("cards", len(cards)),
		slog.Duration("elapsed", time.Since(start)))
	return cards, nil
}

func (c *Client) toCards(stories []Story) []models.Card {
	if c.limit > 0 && len(stories) > c.limit {
		stories = stories[:c.limit]
	}
	cards := make([]models.Card, 0, len(stories))
	for _, s := range stories {
		cards = append(cards, models.Card{
			Title:       s.Title,
			URL:         s.URL,
			Description: s.Abstract,
			Image:       PickImage(s.Multimedia, c.maxImageWidth),
			Hostname:    Hostname,
		})
	}
	return cards
}

// PickImage returns the URL of the widest image no wider than maxWidth.
// Only a strictly wider image replaces the current pick, so the first of
// equally wide images wins. Returns "" when nothing fits.
func PickImage(media []Multimedia, maxWidth int) string {
	best := ""
	bestWidth := -1
	for _, m := range media {
		if m.Width > maxWidth {
			continue
		}
		if m.Width > bestWidth {
			best = m.URL
			bestWidth = m.Width
		}
	}
	return best
}
