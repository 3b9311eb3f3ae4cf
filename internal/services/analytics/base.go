package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CascadeAdvisor/pkg/config"
	xhttp "CascadeAdvisor/pkg/http"

	"github.com/cenkalti/backoff/v4"
)

// HTTPServiceBase is the shared client for the analytics service.
type HTTPServiceBase struct {
	baseURL  string
	client   *xhttp.Client
	attempts int
}

func NewHTTPServiceBase(cfg *config.Config, opts ...xhttp.ClientOption) *HTTPServiceBase {
	timeout := cfg.Analytics.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	opts = append([]xhttp.ClientOption{xhttp.WithTimeout(timeout)}, opts...)
	return &HTTPServiceBase{
		baseURL:  cfg.Analytics.ServiceURL,
		client:   xhttp.NewClient(opts...),
		attempts: cfg.Analytics.RetryAttempts,
	}
}

// PostJSON posts payload to path under the base URL and decodes the reply into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload, dest interface{}) error {
	if b.client == nil || b.baseURL == "" {
		return fmt.Errorf("analytics http client not initialized")
	}
	err := b.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    b.baseURL + path,
		Body:   payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	return nil
}

// PostJSONWithRetry retries transient failures with exponential backoff
// until the attempts are used up or ctx is done. Client errors (4xx other
// than 429) are not retried.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload, dest interface{}) error {
	if b.attempts <= 1 {
		return b.PostJSON(ctx, path, payload, dest)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(b.attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := b.PostJSON(ctx, path, payload, dest)
		var se *xhttp.StatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}
