package ws

import (
	"net/http"
	"strings"
)

// originChecker builds a websocket.Upgrader CheckOrigin func from the
// configured allow list. Requests without an Origin header (non-browser
// clients) are accepted; "*" accepts any origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}
