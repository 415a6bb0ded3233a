package policy

import "testing"

func TestParseCacheControl(t *testing.T) {
	cc := ParseCacheControl([]string{
		`max-age=60, No-Cache="Set-Cookie, X-Foo"`,
		`public`,
		`max-age=30`,
	})

	if !cc.Has("no-cache") {
		t.Error("Has(no-cache) = false, want true (case-insensitive names)")
	}
	if got, _ := cc.Get("no-cache"); got != "Set-Cookie, X-Foo" {
		t.Errorf("Get(no-cache) = %q, want quoted list unwrapped", got)
	}
	if !cc.Has("public") {
		t.Error("Has(public) = false, want true")
	}
	if got := cc.Values("max-age"); len(got) != 2 || got[0] != "60" || got[1] != "30" {
		t.Errorf("Values(max-age) = %v, want [60 30]", got)
	}
	if cc.Has("private") {
		t.Error("Has(private) = true, want false")
	}
	if cc.Len() != 3 {
		t.Errorf("Len() = %d, want 3", cc.Len())
	}
}

func TestDeltaSeconds(t *testing.T) {
	tests := []struct {
		arg    string
		want   int64
		wantOK bool
	}{
		{"60", 60, true},
		{" 5 ", 5, true},
		{"-3", 0, true},
		{"abc", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			got, ok := DeltaSeconds(tt.arg)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("DeltaSeconds(%q) = %d, %v, want %d, %v", tt.arg, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
