package websocket

import (
	"net/http"
	"strings"
)

// Checks if header equals expected value (case insensitive)
// If yes - returns `"", true`
// If no - returns `"<actual_value>", false`
func headerEquals(h http.Header, header, expectedValue string) (string, bool) {
	actualValue := h.Get(header)
	if strings.EqualFold(expectedValue, actualValue) {
		return "", true
	} else {
		return actualValue, false
	}
}

// Checks if a comma separated header has token among its values (case insensitive)
func headerContainsToken(h http.Header, header, token string) bool {
	for _, v := range h.Values(header) {
		for _, t := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(t), token) {
				return true
			}
		}
	}
	return false
}
