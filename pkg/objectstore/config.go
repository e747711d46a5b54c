package objectstore

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// DefaultUserAgent tags every request so storage access analytics can
// tell indexer reads apart from user reads.
const DefaultUserAgent = "bucketsearch-indexer"

// Config contains configuration for the object store client.
type Config struct {
	// Connection settings
	Endpoint  string `hcl:"endpoint,optional"`   // Custom endpoint for S3-compatible stores (e.g. MinIO)
	Region    string `hcl:"region,optional"`     // AWS region (e.g. "us-east-1")
	AccessKey string `hcl:"access_key,optional"` // Static credentials; the default chain is used when empty
	SecretKey string `hcl:"secret_key,optional"`

	// UserAgent is appended to the SDK user agent (default: "bucketsearch-indexer")
	UserAgent string `hcl:"user_agent,optional"`

	// Timeouts
	RequestTimeoutSeconds int `hcl:"request_timeout_seconds,optional"` // Per-request timeout (default: 60)

	// TLS settings
	InsecureSkipVerify bool `hcl:"insecure_skip_verify,optional"` // Skip certificate verification (testing only)
}

// Validate validates the object store configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Region, validation.Required),
		validation.Field(&c.Endpoint, is.URL),
		validation.Field(&c.SecretKey, validation.When(c.AccessKey != "", validation.Required)),
		validation.Field(&c.RequestTimeoutSeconds, validation.Min(0)),
	)
}

// SetDefaults sets default values for optional configuration fields.
func (c *Config) SetDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = 60
	}
}
