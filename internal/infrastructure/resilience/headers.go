// Package resilience guards outbound marketplace calls with admission control,
// circuit breaking and retries.
package resilience

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crosslist/backend/internal/domain/integration"
)

// Provider header variants, most specific first
var (
	remainingHeaders = []string{
		"X-RateLimit-Remaining",
		"X-Rate-Limit-Remaining",
		"RateLimit-Remaining",
		"X-RateLimit-Requests-Remaining",
		"X-Ratelimit-Remaining-Calls",
	}
	limitHeaders = []string{
		"X-RateLimit-Limit",
		"X-Rate-Limit-Limit",
		"RateLimit-Limit",
		"X-RateLimit-Requests-Limit",
	}
	resetHeaders = []string{
		"X-RateLimit-Reset",
		"X-Rate-Limit-Reset",
		"RateLimit-Reset",
		"X-RateLimit-Requests-Reset",
	}
	retryAfterHeaders = []string{
		"Retry-After",
		"X-Retry-After",
		"X-RateLimit-Retry-After",
	}
)

// epochThreshold separates absolute unix timestamps from relative seconds in reset headers
const epochThreshold = 1_000_000_000

// ParseLimitHeaders normalizes provider rate-limit headers into LimitHeaders.
// Unparseable values are ignored.
func ParseLimitHeaders(h http.Header, now time.Time) integration.LimitHeaders {
	var out integration.LimitHeaders
	if h == nil {
		return out
	}

	if v, ok := firstInt(h, remainingHeaders); ok {
		if v < 0 {
			v = 0
		}
		out.Remaining = &v
	}
	if v, ok := firstInt(h, limitHeaders); ok && v > 0 {
		out.Limit = &v
	}
	if raw := first(h, resetHeaders); raw != "" {
		if t, ok := parseInstant(raw, now); ok {
			out.Reset = &t
		}
	}
	if raw := first(h, retryAfterHeaders); raw != "" {
		if t, ok := parseInstant(raw, now); ok {
			d := t.Sub(now)
			if d < 0 {
				d = 0
			}
			out.RetryAfter = &d
		}
	}
	return out
}

func first(h http.Header, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// firstInt parses the leading integer of the first present header.
// Structured values such as "100, 100;w=60" yield 100.
func firstInt(h http.Header, names []string) (int, bool) {
	raw := first(h, names)
	if raw == "" {
		return 0, false
	}
	if i := strings.IndexAny(raw, ",;"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseInstant accepts relative seconds, unix epoch seconds, epoch millis,
// HTTP dates and RFC 3339 timestamps
func parseInstant(raw string, now time.Time) (time.Time, bool) {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		switch {
		case f < 0:
			return time.Time{}, false
		case f >= epochThreshold*1000:
			return time.UnixMilli(int64(f)), true
		case f >= epochThreshold:
			return time.Unix(int64(f), 0), true
		default:
			return now.Add(time.Duration(f * float64(time.Second))), true
		}
	}
	if t, err := http.ParseTime(raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}
