package elastic

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/hashicorp-forge/bucketsearch/pkg/search"
)

// Config contains configuration for an Elasticsearch or OpenSearch
// cluster reached through its _bulk endpoint.
type Config struct {
	Endpoint string `hcl:"endpoint"` // Cluster URL (e.g. "https://search-domain.us-east-1.es.amazonaws.com")

	// Request signing for managed domains. Credentials come from the
	// default AWS chain.
	SignRequests bool   `hcl:"sign_requests,optional"`
	Region       string `hcl:"region,optional"`
	Service      string `hcl:"service,optional"` // Signing service name (default: "es")

	// Basic auth for self-managed clusters
	Username string `hcl:"username,optional"`
	Password string `hcl:"password,optional"`

	DocType        string `hcl:"doc_type,optional"`        // Descriptor _type (default: "_doc", "-" to omit)
	TimeoutSeconds int    `hcl:"timeout_seconds,optional"` // Bulk request timeout (default: 30)
}

// Validate validates the cluster configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.Required, is.URL),
		validation.Field(&c.Region, validation.When(c.SignRequests, validation.Required)),
		validation.Field(&c.Password, validation.When(c.Username != "", validation.Required)),
		validation.Field(&c.TimeoutSeconds, validation.Min(0)),
	)
}

// SetDefaults sets default values for optional configuration fields.
func (c *Config) SetDefaults() {
	if c.Service == "" {
		c.Service = "es"
	}
	if c.DocType == "" {
		c.DocType = search.DefaultDocType
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
}

func (c *Config) docType() string {
	if c.DocType == "-" {
		return ""
	}
	return c.DocType
}
