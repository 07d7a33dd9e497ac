package http

import (
	"net/http"
	"strings"
)

const orgHeader = "X-Organization-Id"

// extractBearerToken returns the token of an "Authorization: Bearer" header, or "".
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func extractOrganizationID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(orgHeader))
}
