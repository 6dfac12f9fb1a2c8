package ai

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// retryPolicy is the attempt budget and backoff shared by the HTTP runtimes.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// attemptFunc performs one try. A non-nil wait asks for a retry after that
// delay (zero means use backoff); a nil wait means err is final.
type attemptFunc func(ctx context.Context) (wait *time.Duration, err error)

func (p retryPolicy) run(ctx context.Context, fn attemptFunc) error {
	backoff := p.baseDelay
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		wait, err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if wait == nil || attempt == p.maxAttempts {
			break
		}
		sleep := *wait
		if sleep <= 0 {
			sleep = withJitter(backoff)
			if p.maxDelay > 0 && sleep > p.maxDelay {
				sleep = p.maxDelay
			}
			backoff *= 2
		}
		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}

func retryAfter(d time.Duration) *time.Duration { return &d }

func isRetryableNetErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// parseRetryAfterSeconds interprets a Retry-After value as seconds or an HTTP date.
func parseRetryAfterSeconds(v string) (int, error) {
	if s, err := strconv.Atoi(v); err == nil {
		return s, nil
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return 0, err
	}
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return int(d.Seconds()), nil
}

func retryAfterHeader(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := parseRetryAfterSeconds(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// readAPIError decodes an error body of either {"error":{"message","code"}}
// or {"error":"..."} / {"message","code"} shape.
func readAPIError(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: extractRequestID(resp), Body: string(body)}
	root := gjson.ParseBytes(body)
	if e := root.Get("error"); e.IsObject() {
		apiErr.Message = e.Get("message").String()
		apiErr.Code = e.Get("code").String()
	} else if e.Type == gjson.String {
		apiErr.Message = e.String()
	}
	if apiErr.Message == "" {
		apiErr.Message = root.Get("message").String()
	}
	if apiErr.Code == "" {
		apiErr.Code = root.Get("code").String()
	}
	return apiErr
}

// extractRequestID pulls a best-effort request ID from common headers.
func extractRequestID(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	for _, k := range []string{"X-Request-Id", "OpenAI-Request-ID", "Openrouter-Request-ID", "X-Amzn-Requestid"} {
		if v := resp.Header.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// withJitter returns d with +/- 20% jitter applied.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	f := 0.8 + rand.Float64()*0.4
	if out := time.Duration(float64(d) * f); out > 0 {
		return out
	}
	return d
}
