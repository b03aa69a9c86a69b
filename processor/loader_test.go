package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackagesLoader_CacheKey(t *testing.T) {
	base := &PackagesLoader{Dir: "/work", Env: []string{"PATH=/usr/local/go/bin"}}
	key := base.cacheKey("types", "fmt", "os")

	testCases := []struct {
		name   string
		loader *PackagesLoader
		kind   string
		paths  []string
		same   bool
	}{
		{"identical", &PackagesLoader{Dir: "/work", Env: []string{"PATH=/usr/local/go/bin"}}, "types", []string{"fmt", "os"}, true},
		{"other toolchain", &PackagesLoader{Dir: "/work", Env: []string{"PATH=/opt/go1.23/bin"}}, "types", []string{"fmt", "os"}, false},
		{"inherited environment", &PackagesLoader{Dir: "/work"}, "types", []string{"fmt", "os"}, false},
		{"empty environment", &PackagesLoader{Dir: "/work", Env: []string{}}, "types", []string{"fmt", "os"}, false},
		{"environment order", &PackagesLoader{Dir: "/work", Env: []string{"PATH=/usr/local/go/bin", "PATH=/opt/go/bin"}}, "types", []string{"fmt", "os"}, false},
		{"other dir", &PackagesLoader{Dir: "/elsewhere", Env: []string{"PATH=/usr/local/go/bin"}}, "types", []string{"fmt", "os"}, false},
		{"other packages", &PackagesLoader{Dir: "/work", Env: []string{"PATH=/usr/local/go/bin"}}, "types", []string{"fmt"}, false},
		{"other kind", &PackagesLoader{Dir: "/work", Env: []string{"PATH=/usr/local/go/bin"}}, "syntax", []string{"fmt", "os"}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.loader.cacheKey(tc.kind, tc.paths...)
			if tc.same {
				assert.Equal(t, key, got)
			} else {
				assert.NotEqual(t, key, got)
			}
		})
	}
}
