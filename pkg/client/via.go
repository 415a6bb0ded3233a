package client

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
)

const (
	modulePath  = "github.com/Sternrassler/httpcache"
	productName = "Sternrassler-httpcache"
	unavailable = "UNAVAILABLE"
)

var (
	releaseOnce sync.Once
	release     string
)

// moduleRelease returns the version of this module as recorded in the
// binary's build info.
func moduleRelease() string {
	releaseOnce.Do(func() {
		release = unavailable
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		version := ""
		if info.Main.Path == modulePath {
			version = info.Main.Version
		}
		for _, dep := range info.Deps {
			if dep.Path == modulePath {
				version = dep.Version
			}
		}
		if version != "" && version != "(devel)" {
			release = version
		}
	})
	return release
}

// viaCache memoizes Via header values per protocol version.
type viaCache struct {
	values sync.Map // "proto major.minor" -> string
}

// value returns the Via header value for a message of the given protocol.
// Concurrent first computations are identical, so a lost race is harmless.
func (v *viaCache) value(proto string, major, minor int) string {
	name := proto
	if i := strings.IndexByte(proto, '/'); i >= 0 {
		name = proto[:i]
	}
	if name == "" {
		name = "HTTP"
	}
	if major == 0 && minor == 0 {
		major, minor = 1, 1
	}

	key := fmt.Sprintf("%s %d.%d", name, major, minor)
	if cached, ok := v.values.Load(key); ok {
		return cached.(string)
	}

	var value string
	if strings.EqualFold(name, "http") {
		value = fmt.Sprintf("%d.%d localhost (%s/%s (cache))", major, minor, productName, moduleRelease())
	} else {
		value = fmt.Sprintf("%s/%d.%d localhost (%s/%s (cache))", name, major, minor, productName, moduleRelease())
	}
	v.values.Store(key, value)
	return value
}
