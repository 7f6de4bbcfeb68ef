// Package tls serves the governance API certificate.
//
// A Reloader loads the configured PEM key pair and re-reads it whenever the
// files change on disk, so renewed certificates take effect without a
// restart. NewServerConfig builds the crypto/tls configuration around a
// Reloader, and Reloader.HealthCheck reports an expired certificate to the
// readiness probe.
package tls
