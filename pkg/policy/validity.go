package policy

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
)

// MaxAge is the sentinel age, in seconds, of entries whose age cannot be
// determined (missing Date or invalid Age header).
const MaxAge int64 = 2147483648

// ValidityPolicy computes ages and freshness of stored entries. All values
// are whole seconds.
type ValidityPolicy struct {
	// SharedCache makes s-maxage count toward the freshness lifetime
	SharedCache bool

	// HeuristicCaching enables heuristic freshness for entries without
	// explicit expiration
	HeuristicCaching bool

	// HeuristicCoefficient is the fraction of (Date - Last-Modified) used
	// as heuristic lifetime
	HeuristicCoefficient float64

	// HeuristicDefaultLifetime applies when Last-Modified is missing
	HeuristicDefaultLifetime time.Duration

	// StaleWhileRevalidate is the window used when the entry carries no
	// stale-while-revalidate directive (0 = directive only)
	StaleWhileRevalidate time.Duration

	// StaleIfError is the window used when neither request nor entry
	// carries a stale-if-error directive (0 = directive only)
	StaleIfError time.Duration
}

// ApparentAge returns max(0, response time - Date), or MaxAge without a
// usable Date.
func (p ValidityPolicy) ApparentAge(entry *cache.Entry) int64 {
	date, ok := entry.Date()
	if !ok {
		return MaxAge
	}
	diff := seconds(entry.ResponseTime().Sub(date))
	if diff < 0 {
		return 0
	}
	return diff
}

// AgeValue returns the largest Age header value, or MaxAge when any value
// is invalid.
func (p ValidityPolicy) AgeValue(entry *cache.Entry) int64 {
	var age int64
	for _, value := range entry.HeaderValues("Age") {
		v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || v < 0 {
			return MaxAge
		}
		if v > age {
			age = v
		}
	}
	return age
}

// CorrectedReceivedAge is max(apparent age, Age header).
func (p ValidityPolicy) CorrectedReceivedAge(entry *cache.Entry) int64 {
	apparent := p.ApparentAge(entry)
	ageValue := p.AgeValue(entry)
	if ageValue > apparent {
		return ageValue
	}
	return apparent
}

// ResponseDelay is response time - request time.
func (p ValidityPolicy) ResponseDelay(entry *cache.Entry) int64 {
	return seconds(entry.ResponseTime().Sub(entry.RequestTime()))
}

// CorrectedInitialAge is the age of the entry when it was stored.
func (p ValidityPolicy) CorrectedInitialAge(entry *cache.Entry) int64 {
	return p.CorrectedReceivedAge(entry) + p.ResponseDelay(entry)
}

// ResidentTime is the time the entry has spent in the cache.
func (p ValidityPolicy) ResidentTime(entry *cache.Entry, now time.Time) int64 {
	resident := seconds(now.Sub(entry.ResponseTime()))
	if resident < 0 {
		return 0
	}
	return resident
}

// CurrentAge is the RFC 7234 current_age of the entry at now.
func (p ValidityPolicy) CurrentAge(entry *cache.Entry, now time.Time) int64 {
	age := p.CorrectedInitialAge(entry) + p.ResidentTime(entry, now)
	if age > MaxAge {
		return MaxAge
	}
	return age
}

// MaxAgeDirective returns the smallest max-age (or, for shared caches,
// s-maxage) of the entry. An invalid value counts as 0.
func (p ValidityPolicy) MaxAgeDirective(entry *cache.Entry) (int64, bool) {
	cc := entryCacheControl(entry)
	maxAge := int64(-1)

	names := []string{DirectiveMaxAge}
	if p.SharedCache {
		names = append(names, DirectiveSMaxAge)
	}
	for _, name := range names {
		for _, arg := range cc.Values(name) {
			v, ok := DeltaSeconds(arg)
			if !ok {
				v = 0
			}
			if maxAge == -1 || v < maxAge {
				maxAge = v
			}
		}
	}
	return maxAge, maxAge >= 0
}

// ExplicitFreshnessLifetime returns the freshness lifetime given by
// max-age/s-maxage or Expires - Date, and whether one was present.
func (p ValidityPolicy) ExplicitFreshnessLifetime(entry *cache.Entry) (int64, bool) {
	if maxAge, ok := p.MaxAgeDirective(entry); ok {
		return maxAge, true
	}

	date, ok := entry.Date()
	if !ok {
		return 0, false
	}
	expires, ok := cache.ParseHTTPDate(entry.HeaderValue("Expires"))
	if !ok {
		if entry.HeaderValue("Expires") != "" {
			// invalid Expires means already expired
			return 0, true
		}
		return 0, false
	}
	lifetime := seconds(expires.Sub(date))
	if lifetime < 0 {
		lifetime = 0
	}
	return lifetime, true
}

// HeuristicFreshnessLifetime is coefficient * (Date - Last-Modified), or
// the configured default without Last-Modified.
func (p ValidityPolicy) HeuristicFreshnessLifetime(entry *cache.Entry) int64 {
	date, okDate := entry.Date()
	lastModified, okLM := entry.LastModified()
	if okDate && okLM {
		diff := seconds(date.Sub(lastModified))
		if diff < 0 {
			return 0
		}
		return int64(p.HeuristicCoefficient * float64(diff))
	}
	return seconds(p.HeuristicDefaultLifetime)
}

// FreshnessLifetime returns the explicit lifetime, falling back to the
// heuristic lifetime when heuristic caching is enabled, else 0.
func (p ValidityPolicy) FreshnessLifetime(entry *cache.Entry) int64 {
	if lifetime, ok := p.ExplicitFreshnessLifetime(entry); ok {
		return lifetime
	}
	if p.HeuristicCaching {
		return p.HeuristicFreshnessLifetime(entry)
	}
	return 0
}

// IsFresh reports whether current age < freshness lifetime.
func (p ValidityPolicy) IsFresh(entry *cache.Entry, now time.Time) bool {
	return p.CurrentAge(entry, now) < p.FreshnessLifetime(entry)
}

// Staleness returns current age - freshness lifetime for entries that are
// not fresh, and 0 otherwise. An entry whose age equals its lifetime is
// stale by one second so that Staleness > 0 agrees with !IsFresh.
func (p ValidityPolicy) Staleness(entry *cache.Entry, now time.Time) int64 {
	age := p.CurrentAge(entry, now)
	lifetime := p.FreshnessLifetime(entry)
	if age < lifetime {
		return 0
	}
	if age == lifetime {
		return 1
	}
	return age - lifetime
}

// IsRevalidatable reports whether the entry carries a validator.
func (p ValidityPolicy) IsRevalidatable(entry *cache.Entry) bool {
	return entry.ETag() != "" || entry.HeaderValue("Last-Modified") != ""
}

// MustRevalidate reports a must-revalidate directive on the entry.
func (p ValidityPolicy) MustRevalidate(entry *cache.Entry) bool {
	return entryCacheControl(entry).Has(DirectiveMustRevalidate)
}

// ProxyRevalidate reports a proxy-revalidate directive on the entry.
func (p ValidityPolicy) ProxyRevalidate(entry *cache.Entry) bool {
	return entryCacheControl(entry).Has(DirectiveProxyRevalidate)
}

// MayServeStaleWhileRevalidating reports whether the entry's staleness is
// within its stale-while-revalidate directive, or within the configured
// window when the entry carries none.
func (p ValidityPolicy) MayServeStaleWhileRevalidating(entry *cache.Entry, now time.Time) bool {
	staleness := p.Staleness(entry, now)
	if window, ok := staleWindow(entryCacheControl(entry), DirectiveStaleWhileRevalidate); ok {
		return staleness <= window
	}
	if p.StaleWhileRevalidate > 0 {
		return staleness <= seconds(p.StaleWhileRevalidate)
	}
	return false
}

// MayServeStaleIfError reports whether the entry's staleness is within a
// stale-if-error directive of the request or the entry, or within the
// configured window when neither carries one.
func (p ValidityPolicy) MayServeStaleIfError(req *http.Request, entry *cache.Entry, now time.Time) bool {
	staleness := p.Staleness(entry, now)

	found := false
	for _, cc := range []CacheControl{RequestCacheControl(req), entryCacheControl(entry)} {
		if window, ok := staleWindow(cc, DirectiveStaleIfError); ok {
			found = true
			if staleness <= window {
				return true
			}
		}
	}
	if !found && p.StaleIfError > 0 {
		return staleness <= seconds(p.StaleIfError)
	}
	return false
}

// ContentLengthMatches reports whether a Content-Length header, if any,
// matches the stored body length.
func (p ValidityPolicy) ContentLengthMatches(entry *cache.Entry) bool {
	value := entry.HeaderValue("Content-Length")
	if value == "" {
		return true
	}
	length, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return false
	}
	return length == int64(entry.BodyLen())
}

func staleWindow(cc CacheControl, directive string) (int64, bool) {
	largest, found := int64(0), false
	for _, arg := range cc.Values(directive) {
		if v, ok := DeltaSeconds(arg); ok {
			if !found || v > largest {
				largest = v
			}
			found = true
		}
	}
	return largest, found
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

func entryCacheControl(entry *cache.Entry) CacheControl {
	return ParseCacheControl(entry.HeaderValues("Cache-Control"))
}
