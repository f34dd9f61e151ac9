package serviceworker

import (
	"net/http"
	"path"
	"strings"
)

// Strategy is the caching policy applied to a request.
type Strategy string

// Caching strategies.
const (
	StrategyCacheFirst   Strategy = "cache-first"
	StrategyNetworkFirst Strategy = "network-first"
	StrategyPage         Strategy = "page"
	StrategyPassthrough  Strategy = "passthrough"
)

var staticExtensions = map[string]struct{}{
	".css": {},
	".js":  {},
	".svg": {},
}

// Classify picks the strategy for a GET request path. Non-GET requests are
// never intercepted.
func Classify(method, p string) Strategy {
	if method != http.MethodGet {
		return StrategyPassthrough
	}
	switch {
	case strings.HasPrefix(p, "/map/tile/"), strings.HasPrefix(p, "/vendor/"):
		return StrategyCacheFirst
	case p == "/health", p == "/spot/score":
		return StrategyNetworkFirst
	case p == "/", strings.EqualFold(path.Ext(p), ".html"):
		return StrategyPage
	}
	if _, ok := staticExtensions[strings.ToLower(path.Ext(p))]; ok {
		return StrategyCacheFirst
	}
	return StrategyPassthrough
}

// RequestKey identifies a cached response: method, path and raw query.
func RequestKey(r *http.Request) string {
	return requestKey(r.Method, r.URL.Path, r.URL.RawQuery)
}

func requestKey(method, p, rawQuery string) string {
	if rawQuery == "" {
		return method + " " + p
	}
	return method + " " + p + "?" + rawQuery
}
