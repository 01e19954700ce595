package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"payment-service/internal/apperror"
	"payment-service/internal/models"
	"payment-service/internal/util"

	"github.com/shopspring/decimal"
)

const maxResponseBytes = 1 << 20

// apiClient performs JSON exchanges with one provider and maps every
// transport, status and decode failure to a typed provider error.
type apiClient struct {
	provider models.Provider
	http     *http.Client
}

func newAPIClient(provider models.Provider, client *http.Client) *apiClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &apiClient{provider: provider, http: client}
}

func (c *apiClient) newJSONRequest(ctx context.Context, method, endpoint string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindInternal, err, "failed to encode provider request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "failed to build provider request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *apiClient) newFormRequest(ctx context.Context, method, endpoint string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "failed to build provider request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do executes req, decodes a 2xx JSON body into out and returns the raw body
func (c *apiClient) do(req *http.Request, operation string, out interface{}) (json.RawMessage, error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		util.ProviderRequestDuration.WithLabelValues(string(c.provider), operation, outcome).
			Observe(time.Since(start).Seconds())
	}()

	resp, err := c.http.Do(req)
	if err != nil {
		outcome = "network_error"
		if isTimeout(err) {
			outcome = "timeout"
			return nil, apperror.Wrap(apperror.KindProviderTimeout, err,
				fmt.Sprintf("%s did not respond in time", c.provider))
		}
		return nil, apperror.Wrap(apperror.KindProviderError, err,
			fmt.Sprintf("%s could not be reached", c.provider))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		outcome = "read_error"
		if isTimeout(err) {
			return nil, apperror.Wrap(apperror.KindProviderTimeout, err,
				fmt.Sprintf("%s did not respond in time", c.provider))
		}
		return nil, apperror.Wrap(apperror.KindProviderError, err,
			fmt.Sprintf("failed to read %s response", c.provider))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = fmt.Sprintf("status_%dxx", resp.StatusCode/100)
		return body, apperror.Wrap(apperror.KindProviderError,
			fmt.Errorf("%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, truncate(body, 256)),
			fmt.Sprintf("%s rejected the request (status %d)", c.provider, resp.StatusCode))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			outcome = "decode_error"
			return body, apperror.Wrap(apperror.KindProviderError, err,
				fmt.Sprintf("%s returned an unreadable response", c.provider))
		}
	}
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func providerError(provider models.Provider, format string, args ...interface{}) error {
	return apperror.Newf(apperror.KindProviderError, "%s: "+format, append([]interface{}{provider}, args...)...)
}

// toMinor converts a decimal major-unit amount to integer minor units
func toMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// fromMinor converts integer minor units to a decimal major-unit amount
func fromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
