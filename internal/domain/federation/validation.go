package federation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var domainPattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// ValidatePeerURL validates a federation peer's server_url: https scheme, a
// real registrable domain (no localhost/loopback), no path/query/fragment.
func ValidatePeerURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPeerURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPeerURL, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: must use https, got %q", ErrInvalidPeerURL, u.Scheme)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("%w: must not carry a path", ErrInvalidPeerURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("%w: must not carry a query or fragment", ErrInvalidPeerURL)
	}
	if err := validateHostDomain(u.Host); err != nil {
		return err
	}
	return nil
}

func validateHostDomain(host string) error {
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidPeerURL)
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	if strings.Contains(host, "localhost") || host == "127.0.0.1" || host == "::1" {
		return fmt.Errorf("%w: loopback host not allowed", ErrInvalidPeerURL)
	}
	if !domainPattern.MatchString(host) {
		return fmt.Errorf("%w: invalid domain %q", ErrInvalidPeerURL, host)
	}
	return nil
}
