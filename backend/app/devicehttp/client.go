// Package devicehttp makes outbound calls to a device's local HTTP servers.
package devicehttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"shaka-fleet/backend/app/apperr"

	"github.com/cenkalti/backoff/v4"
)

type Client struct {
	HTTP      *http.Client
	Timeout   time.Duration // per attempt
	Retries   int
	RetryWait time.Duration
}

func New(timeout time.Duration, retries int) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{HTTP: &http.Client{}, Timeout: timeout, Retries: retries, RetryWait: 500 * time.Millisecond}
}

// URL joins a device host, port and path.
func URL(host string, port int, path string) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + path
}

// PostJSON posts body and accepts any 2xx. Network failures and 5xx answers
// are retried up to Retries times; anything else fails at once. Errors are
// always *apperr.TransportError.
func (c *Client) PostJSON(ctx context.Context, url string, body []byte) error {
	if c.HTTP == nil {
		c.HTTP = &http.Client{}
	}
	attempt := func() error {
		actx, cancel := context.WithTimeout(ctx, c.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(actx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("device answered %s", resp.Status)
		default:
			return backoff.Permanent(fmt.Errorf("device answered %s", resp.Status))
		}
	}

	retries := c.Retries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.RetryWait), uint64(retries)), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return apperr.Transport("post", url, err)
	}
	return nil
}
