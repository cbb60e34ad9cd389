package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const requestMaxRetries = 3

var httpClient = &http.Client{
	Timeout: 10 * time.Second,
}

// fetchJSON performs a GET with exponential backoff on transport and 5xx
// failures. Returns false with a nil error on a 404, which the resolvers
// treat as "no result".
func fetchJSON(ctx context.Context, requestURL string, target interface{}) (bool, error) {
	found := false

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, requestURL)
		}

		jsonBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if err := json.Unmarshal(jsonBytes, target); err != nil {
			return backoff.Permanent(err)
		}

		found = true

		return nil
	}

	retryBackoff := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), requestMaxRetries), ctx)

	if err := backoff.Retry(operation, retryBackoff); err != nil {
		return false, err
	}

	return found, nil
}
