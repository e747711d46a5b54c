package elastic

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// signingTransport signs every request with SigV4 before sending it.
type signingTransport struct {
	base    http.RoundTripper
	signer  *v4.Signer
	creds   aws.CredentialsProvider
	region  string
	service string
	now     func() time.Time
}

func newSigningTransport(base http.RoundTripper, creds aws.CredentialsProvider, region, service string) *signingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &signingTransport{
		base:    base,
		signer:  v4.NewSigner(),
		creds:   creds,
		region:  region,
		service: service,
		now:     time.Now,
	}
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body for signing: %w", err)
		}
	}

	creds, err := t.creds.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve credentials: %w", err)
	}

	signed := req.Clone(ctx)
	signed.Body = io.NopCloser(bytes.NewReader(body))
	signed.ContentLength = int64(len(body))
	signed.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	sum := sha256.Sum256(body)
	if err := t.signer.SignHTTP(ctx, creds, signed, hex.EncodeToString(sum[:]), t.service, t.region, t.now()); err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	return t.base.RoundTrip(signed)
}
