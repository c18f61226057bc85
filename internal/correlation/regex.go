package correlation

import (
	"regexp"
	"sync"
)

var (
	regexCacheMu sync.Mutex
	regexCache   = map[string]*regexp.Regexp{}
)

// regexMatch compiles pattern once per process and caches it, since the
// same rule is evaluated against many rows in one batch run.
func regexMatch(pattern, value string) bool {
	regexCacheMu.Lock()
	re, ok := regexCache[pattern]

	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			regexCacheMu.Unlock()
			return false
		}

		re = compiled
		regexCache[pattern] = re
	}

	regexCacheMu.Unlock()

	return re.MatchString(value)
}
