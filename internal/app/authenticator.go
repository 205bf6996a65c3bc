/**
 * @description
 * Validates that an inbound callback originated from an allow-listed gateway
 * address. An empty allow-list means no restriction - a deliberate
 * operational default for environments where the gateway publishes no stable
 * egress range; the endpoint remains protected by correlation-id
 * unpredictability. Rejected requests are still acknowledged to the gateway
 * with a failure-shaped envelope but never processed.
 *
 * @dependencies
 * - log, net, strings: Standard Go libraries.
 */
package app

import (
	"log"
	"net"
	"strings"
)

// SourceAuthenticator checks callback origin addresses against an allow-list.
type SourceAuthenticator struct {
	allowed map[string]struct{}
	// snapshot preserved for log output on rejection
	sources []string
}

// NewSourceAuthenticator builds an authenticator from the configured sources.
func NewSourceAuthenticator(sources []string) *SourceAuthenticator {
	allowed := make(map[string]struct{}, len(sources))
	kept := make([]string, 0, len(sources))
	for _, source := range sources {
		trimmed := strings.TrimSpace(source)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
		kept = append(kept, trimmed)
	}
	return &SourceAuthenticator{allowed: allowed, sources: kept}
}

// Allow reports whether the remote address may deliver callbacks. The
// address may be "host:port" (http.Request.RemoteAddr) or a bare host from
// an X-Forwarded-For hop.
func (a *SourceAuthenticator) Allow(remoteAddr string) bool {
	if len(a.allowed) == 0 {
		return true
	}

	host := strings.TrimSpace(remoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if _, ok := a.allowed[host]; ok {
		return true
	}

	log.Printf("level=warn component=source_authenticator msg=\"callback source rejected\" source=%s allow_list=%s",
		host, strings.Join(a.sources, ","))
	return false
}
