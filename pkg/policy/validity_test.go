package policy

import (
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/httpcache/pkg/cache"
)

func TestValidityPolicy_CurrentAge(t *testing.T) {
	p := ValidityPolicy{SharedCache: true}

	tests := []struct {
		name    string
		headers map[string]string
		now     time.Time
		want    int64
	}{
		{
			name: "resident time only",
			now:  at(30),
			want: 30,
		},
		{
			name:    "age header dominates apparent age",
			headers: map[string]string{"Age": "100"},
			now:     at(10),
			want:    110,
		},
		{
			name:    "invalid age header",
			headers: map[string]string{"Age": "soon"},
			now:     at(10),
			want:    MaxAge,
		},
		{
			name:    "date in the future clamps apparent age",
			headers: map[string]string{"Date": at(60).Format(http.TimeFormat)},
			now:     at(5),
			want:    5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := newTestEntry(tt.headers, "")
			if got := p.CurrentAge(entry, tt.now); got != tt.want {
				t.Errorf("CurrentAge() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidityPolicy_CurrentAge_MissingDate(t *testing.T) {
	entry := cache.NewEntry(cache.EntryData{
		StatusCode:   http.StatusOK,
		RequestTime:  baseTime,
		ResponseTime: baseTime,
	})
	if got := (ValidityPolicy{}).CurrentAge(entry, at(1)); got != MaxAge {
		t.Errorf("CurrentAge() = %d, want MaxAge", got)
	}
}

func TestValidityPolicy_CurrentAge_ResponseDelay(t *testing.T) {
	entry := cache.NewEntry(cache.EntryData{
		StatusCode:   http.StatusOK,
		Header:       http.Header{"Date": []string{at(2).Format(http.TimeFormat)}},
		RequestTime:  baseTime,
		ResponseTime: at(2),
	})
	// apparent 0 + delay 2 + resident 3
	if got := (ValidityPolicy{}).CurrentAge(entry, at(5)); got != 5 {
		t.Errorf("CurrentAge() = %d, want 5", got)
	}
}

func TestValidityPolicy_FreshnessLifetime(t *testing.T) {
	tests := []struct {
		name    string
		policy  ValidityPolicy
		headers map[string]string
		want    int64
	}{
		{
			name:    "max-age",
			headers: map[string]string{"Cache-Control": "max-age=60"},
			want:    60,
		},
		{
			name:    "smallest of max-age and s-maxage in shared cache",
			policy:  ValidityPolicy{SharedCache: true},
			headers: map[string]string{"Cache-Control": "max-age=60, s-maxage=10"},
			want:    10,
		},
		{
			name:    "s-maxage ignored by private cache",
			headers: map[string]string{"Cache-Control": "max-age=60, s-maxage=10"},
			want:    60,
		},
		{
			name:    "invalid max-age counts as zero",
			headers: map[string]string{"Cache-Control": "max-age=abc"},
			want:    0,
		},
		{
			name:    "expires minus date",
			headers: map[string]string{"Expires": at(120).Format(http.TimeFormat)},
			want:    120,
		},
		{
			name:    "no explicit expiration",
			headers: map[string]string{"Last-Modified": at(-1000).Format(http.TimeFormat)},
			want:    0,
		},
		{
			name:    "heuristic from last-modified",
			policy:  ValidityPolicy{HeuristicCaching: true, HeuristicCoefficient: 0.1},
			headers: map[string]string{"Last-Modified": at(-1000).Format(http.TimeFormat)},
			want:    100,
		},
		{
			name:   "heuristic default lifetime",
			policy: ValidityPolicy{HeuristicCaching: true, HeuristicCoefficient: 0.1, HeuristicDefaultLifetime: time.Minute},
			want:   60,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := newTestEntry(tt.headers, "")
			if got := tt.policy.FreshnessLifetime(entry); got != tt.want {
				t.Errorf("FreshnessLifetime() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestValidityPolicy_FreshAndStale(t *testing.T) {
	p := ValidityPolicy{}
	entry := newTestEntry(map[string]string{"Cache-Control": "max-age=10"}, "")

	tests := []struct {
		now           time.Time
		wantFresh     bool
		wantStaleness int64
	}{
		{at(9), true, 0},
		{at(10), false, 1},
		{at(11), false, 1},
		{at(15), false, 5},
	}

	for _, tt := range tests {
		if got := p.IsFresh(entry, tt.now); got != tt.wantFresh {
			t.Errorf("IsFresh(%v) = %v, want %v", tt.now.Sub(baseTime), got, tt.wantFresh)
		}
		if got := p.Staleness(entry, tt.now); got != tt.wantStaleness {
			t.Errorf("Staleness(%v) = %d, want %d", tt.now.Sub(baseTime), got, tt.wantStaleness)
		}
	}
}

func TestValidityPolicy_StalenessAgreesWithIsFresh(t *testing.T) {
	p := ValidityPolicy{}
	for _, cc := range []string{"max-age=0", "max-age=10", "no-cache"} {
		entry := newTestEntry(map[string]string{"Cache-Control": cc}, "")
		for s := 0; s <= 20; s++ {
			fresh := p.IsFresh(entry, at(s))
			staleness := p.Staleness(entry, at(s))
			if fresh != (staleness == 0) {
				t.Errorf("%s at %ds: IsFresh = %v, Staleness = %d", cc, s, fresh, staleness)
			}
		}
	}
}

func TestValidityPolicy_Revalidation(t *testing.T) {
	p := ValidityPolicy{}

	tests := []struct {
		name          string
		headers       map[string]string
		revalidatable bool
		mustReval     bool
		proxyReval    bool
	}{
		{"no validators", nil, false, false, false},
		{"etag", map[string]string{"ETag": `"v1"`}, true, false, false},
		{"last-modified", map[string]string{"Last-Modified": at(-60).Format(http.TimeFormat)}, true, false, false},
		{"must-revalidate", map[string]string{"Cache-Control": "max-age=5, must-revalidate"}, false, true, false},
		{"proxy-revalidate", map[string]string{"Cache-Control": "proxy-revalidate"}, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := newTestEntry(tt.headers, "")
			if got := p.IsRevalidatable(entry); got != tt.revalidatable {
				t.Errorf("IsRevalidatable() = %v, want %v", got, tt.revalidatable)
			}
			if got := p.MustRevalidate(entry); got != tt.mustReval {
				t.Errorf("MustRevalidate() = %v, want %v", got, tt.mustReval)
			}
			if got := p.ProxyRevalidate(entry); got != tt.proxyReval {
				t.Errorf("ProxyRevalidate() = %v, want %v", got, tt.proxyReval)
			}
		})
	}
}

func TestValidityPolicy_MayServeStaleWhileRevalidating(t *testing.T) {
	tests := []struct {
		name    string
		policy  ValidityPolicy
		headers map[string]string
		now     time.Time
		want    bool
	}{
		{
			name:    "directive covers staleness",
			headers: map[string]string{"Cache-Control": "max-age=10, stale-while-revalidate=30"},
			now:     at(25),
			want:    true,
		},
		{
			name:    "directive exceeded",
			headers: map[string]string{"Cache-Control": "max-age=10, stale-while-revalidate=30"},
			now:     at(45),
			want:    false,
		},
		{
			name:    "configured window",
			policy:  ValidityPolicy{StaleWhileRevalidate: time.Minute},
			headers: map[string]string{"Cache-Control": "max-age=10"},
			now:     at(15),
			want:    true,
		},
		{
			name:    "directive overrides configured window",
			policy:  ValidityPolicy{StaleWhileRevalidate: time.Minute},
			headers: map[string]string{"Cache-Control": "max-age=10, stale-while-revalidate=2"},
			now:     at(15),
			want:    false,
		},
		{
			name:    "nothing configured",
			headers: map[string]string{"Cache-Control": "max-age=10"},
			now:     at(11),
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := newTestEntry(tt.headers, "")
			if got := tt.policy.MayServeStaleWhileRevalidating(entry, tt.now); got != tt.want {
				t.Errorf("MayServeStaleWhileRevalidating() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidityPolicy_MayServeStaleIfError(t *testing.T) {
	tests := []struct {
		name       string
		policy     ValidityPolicy
		reqHeaders map[string]string
		headers    map[string]string
		want       bool
	}{
		{
			name:    "entry directive",
			headers: map[string]string{"Cache-Control": "max-age=10, stale-if-error=60"},
			want:    true,
		},
		{
			name:       "request directive",
			reqHeaders: map[string]string{"Cache-Control": "stale-if-error=60"},
			headers:    map[string]string{"Cache-Control": "max-age=10"},
			want:       true,
		},
		{
			name:    "window exceeded",
			headers: map[string]string{"Cache-Control": "max-age=10, stale-if-error=5"},
			want:    false,
		},
		{
			name:    "configured window",
			policy:  ValidityPolicy{StaleIfError: time.Minute},
			headers: map[string]string{"Cache-Control": "max-age=10"},
			want:    true,
		},
		{
			name:    "no directive",
			headers: map[string]string{"Cache-Control": "max-age=10"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := newTestEntry(tt.headers, "")
			req := newTestRequest(tt.reqHeaders)
			// 20s stale
			if got := tt.policy.MayServeStaleIfError(req, entry, at(30)); got != tt.want {
				t.Errorf("MayServeStaleIfError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidityPolicy_ContentLengthMatches(t *testing.T) {
	p := ValidityPolicy{}
	if !p.ContentLengthMatches(newTestEntry(map[string]string{"Content-Length": "5"}, "hello")) {
		t.Error("ContentLengthMatches() = false for matching length")
	}
	if p.ContentLengthMatches(newTestEntry(map[string]string{"Content-Length": "9"}, "hello")) {
		t.Error("ContentLengthMatches() = true for truncated body")
	}
	if !p.ContentLengthMatches(newTestEntry(nil, "hello")) {
		t.Error("ContentLengthMatches() = false without Content-Length")
	}
}
