// Package httpx holds retry policy shared by outbound HTTP clients.
package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// StatusError is a non-2xx response from a remote service.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return "http status " + strconv.Itoa(e.Status)
	}
	return "http status " + strconv.Itoa(e.Status) + ": " + e.Body
}

func (e *StatusError) HTTPStatusCode() int { return e.Status }

type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

func IsRetryableHTTPStatus(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return false
}

// RetryCondition plugs the policy above into a resty client.
func RetryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return IsRetryableError(err)
	}
	return r != nil && IsRetryableHTTPStatus(r.StatusCode())
}

// RetryAfter honours a Retry-After header (in seconds) up to max and otherwise backs
// off from base with jitter.
func RetryAfter(base, max time.Duration) resty.RetryAfterFunc {
	return func(_ *resty.Client, r *resty.Response) (time.Duration, error) {
		if r != nil {
			if ra := strings.TrimSpace(r.Header().Get("Retry-After")); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
					d := time.Duration(secs) * time.Second
					if max > 0 && d > max {
						d = max
					}
					return d, nil
				}
			}
		}
		attempt := 1
		if r != nil && r.Request != nil && r.Request.Attempt > 0 {
			attempt = r.Request.Attempt
		}
		d := base * time.Duration(1<<uint(attempt-1))
		if max > 0 && d > max {
			d = max
		}
		return JitterSleep(d), nil
	}
}

func JitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}
