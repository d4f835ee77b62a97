package sources

import (
	"context"
	"time"

	"threatmesh/internal/domain/models"
)

// ExternalIndicator is one indicator pulled from a public feed before
// it enters the shared store.
type ExternalIndicator struct {
	Type       models.IoCType
	Value      string
	ThreatType string
	Confidence float64
	Tags       []string
	FirstSeen  time.Time
	LastSeen   time.Time
	Metadata   models.Metadata
}

// FetchResult reports one pull from an external feed
type FetchResult struct {
	SourceSlug string
	FetchedAt  time.Time
	Indicators []ExternalIndicator
}

// Connector pulls indicators from one external threat feed
type Connector interface {
	// Slug returns the unique identifier for this source
	Slug() string

	// Name returns the human-readable name of this source
	Name() string

	// Fetch retrieves indicators from the source
	Fetch(ctx context.Context) (*FetchResult, error)

	// IsEnabled returns whether this source is enabled
	IsEnabled() bool

	// Configure configures the connector with the given config
	Configure(cfg ConnectorConfig) error
}

// ConnectorConfig holds configuration for a connector
type ConnectorConfig struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	FeedURL string        `json:"feed_url,omitempty" mapstructure:"feed_url"`
	Timeout time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`
}

// DefaultConfig returns default connector configuration
func DefaultConfig() ConnectorConfig {
	return ConnectorConfig{
		Enabled: true,
		Timeout: 30 * time.Second,
	}
}

// BaseConnector provides common functionality for connectors
type BaseConnector struct {
	slug   string
	name   string
	config ConnectorConfig
}

// NewBaseConnector creates a new base connector
func NewBaseConnector(slug, name string) *BaseConnector {
	return &BaseConnector{
		slug:   slug,
		name:   name,
		config: DefaultConfig(),
	}
}

// Slug returns the unique identifier for this source
func (c *BaseConnector) Slug() string {
	return c.slug
}

// Name returns the human-readable name of this source
func (c *BaseConnector) Name() string {
	return c.name
}

// IsEnabled returns whether this source is enabled
func (c *BaseConnector) IsEnabled() bool {
	return c.config.Enabled
}

// Configure configures the connector
func (c *BaseConnector) Configure(cfg ConnectorConfig) error {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	c.config = cfg
	return nil
}

// Config returns the current configuration
func (c *BaseConnector) Config() ConnectorConfig {
	return c.config
}
