package tls

import (
	"crypto/tls"
	"fmt"

	"mercator-hq/sentinel/pkg/config"
)

// NewServerConfig builds the server TLS configuration. Certificates are
// served through certs.
func NewServerConfig(cfg *config.TLSConfig, certs *Reloader) (*tls.Config, error) {
	if certs == nil {
		return nil, fmt.Errorf("tls: certificate reloader is required")
	}
	version, err := ParseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	suites, err := ParseCipherSuites(cfg.CipherSuites)
	if err != nil {
		return nil, err
	}
	// #nosec G402 - MinVersion is 1.2 or 1.3
	return &tls.Config{
		MinVersion:     version,
		CipherSuites:   suites,
		GetCertificate: certs.GetCertificate,
	}, nil
}

// ParseVersion maps "1.2" or "1.3" to its constant. Empty means 1.3.
func ParseVersion(v string) (uint16, error) {
	switch v {
	case "1.3", "":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("tls: unsupported minimum version %q", v)
	}
}

// ParseCipherSuites resolves suite names against the secure suites Go
// implements. An empty list keeps Go's defaults.
func ParseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("tls: unknown or insecure cipher suite %q", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
