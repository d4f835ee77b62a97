package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"threatmesh/internal/domain/models"
	"threatmesh/pkg/logger"
)

const (
	feodoTrackerFeedURL = "https://feodotracker.abuse.ch/downloads/ipblocklist.json"
	feodoTrackerSlug    = "feodotracker"
)

// FeodoTrackerConnector pulls botnet C2 IPs from the Abuse.ch Feodo
// Tracker JSON feed.
type FeodoTrackerConnector struct {
	*BaseConnector
	client *http.Client
	logger *logger.Logger
}

// NewFeodoTrackerConnector creates a new FeodoTracker connector
func NewFeodoTrackerConnector(log *logger.Logger) *FeodoTrackerConnector {
	return &FeodoTrackerConnector{
		BaseConnector: NewBaseConnector(feodoTrackerSlug, "Feodo Tracker"),
		client: &http.Client{
			Timeout: DefaultConfig().Timeout,
		},
		logger: log.WithComponent("feodotracker"),
	}
}

// Configure applies the connector config and rebuilds the HTTP client
// so the configured timeout actually bounds fetches.
func (c *FeodoTrackerConnector) Configure(cfg ConnectorConfig) error {
	if err := c.BaseConnector.Configure(cfg); err != nil {
		return err
	}
	c.client.Timeout = c.Config().Timeout
	return nil
}

// feodoEntry is a single entry from the Feodo Tracker JSON feed
type feodoEntry struct {
	IPAddress  string `json:"ip_address"`
	Port       int    `json:"port"`
	Status     string `json:"status"`
	Country    string `json:"country"`
	FirstSeen  string `json:"first_seen"`
	LastOnline string `json:"last_online"`
	Malware    string `json:"malware"`
}

// Fetch retrieves botnet C2 IPs from the Feodo Tracker JSON feed
func (c *FeodoTrackerConnector) Fetch(ctx context.Context) (*FetchResult, error) {
	feedURL := c.Config().FeedURL
	if feedURL == "" {
		feedURL = feodoTrackerFeedURL
	}

	result := &FetchResult{
		SourceSlug: c.Slug(),
		FetchedAt:  time.Now().UTC(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Str("url", feedURL).Msg("fetching Feodo Tracker feed")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var entries []feodoEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	for _, entry := range entries {
		if entry.IPAddress == "" {
			continue
		}

		ind := ExternalIndicator{
			Type:       models.IoCTypeIP,
			Value:      entry.IPAddress,
			ThreatType: "botnet_c2",
			Confidence: 85,
			Tags:       []string{"feodotracker", "botnet", "c2"},
		}
		if entry.Malware != "" {
			ind.Tags = append(ind.Tags, strings.ToLower(entry.Malware))
		}
		if t, err := time.Parse("2006-01-02 15:04:05", entry.FirstSeen); err == nil {
			ind.FirstSeen = t.UTC()
		}
		if t, err := time.Parse("2006-01-02", entry.LastOnline); err == nil {
			ind.LastSeen = t.UTC()
		}
		// Offline C2s are still worth tracking, at lower confidence
		if !strings.EqualFold(entry.Status, "online") {
			ind.Confidence = 60
		}

		result.Indicators = append(result.Indicators, ind)
	}

	c.logger.Info().Int("indicators", len(result.Indicators)).Msg("fetched Feodo Tracker feed")
	return result, nil
}
