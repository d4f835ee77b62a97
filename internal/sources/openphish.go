package sources

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"threatmesh/internal/domain/models"
	"threatmesh/pkg/logger"
)

const (
	openPhishFeedURL = "https://openphish.com/feed.txt"
	openPhishSlug    = "openphish"
)

// OpenPhishConnector pulls live phishing URLs from the OpenPhish
// community feed, one URL per line.
type OpenPhishConnector struct {
	*BaseConnector
	client *http.Client
	logger *logger.Logger
}

// NewOpenPhishConnector creates a new OpenPhish connector
func NewOpenPhishConnector(log *logger.Logger) *OpenPhishConnector {
	return &OpenPhishConnector{
		BaseConnector: NewBaseConnector(openPhishSlug, "OpenPhish"),
		client: &http.Client{
			Timeout: DefaultConfig().Timeout,
		},
		logger: log.WithComponent("openphish"),
	}
}

// Configure applies the connector config and rebuilds the HTTP client
// so the configured timeout actually bounds fetches.
func (c *OpenPhishConnector) Configure(cfg ConnectorConfig) error {
	if err := c.BaseConnector.Configure(cfg); err != nil {
		return err
	}
	c.client.Timeout = c.Config().Timeout
	return nil
}

// Fetch retrieves phishing URLs from OpenPhish
func (c *OpenPhishConnector) Fetch(ctx context.Context) (*FetchResult, error) {
	feedURL := c.Config().FeedURL
	if feedURL == "" {
		feedURL = openPhishFeedURL
	}

	result := &FetchResult{
		SourceSlug: c.Slug(),
		FetchedAt:  time.Now().UTC(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Str("url", feedURL).Msg("fetching OpenPhish feed")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parsed, err := url.Parse(line)
		if err != nil || parsed.Host == "" {
			continue
		}

		result.Indicators = append(result.Indicators, ExternalIndicator{
			Type:       models.IoCTypeURL,
			Value:      line,
			ThreatType: "phishing",
			Confidence: 80,
			Tags:       []string{"openphish", "phishing"},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}

	c.logger.Info().Int("indicators", len(result.Indicators)).Msg("fetched OpenPhish feed")
	return result, nil
}
