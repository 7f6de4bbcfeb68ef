package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"mercator-hq/sentinel/pkg/config"
)

// Reloader holds the current key pair and reloads it when the files change.
type Reloader struct {
	certFile string
	keyFile  string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.RWMutex
	cert    *tls.Certificate
	leaf    *x509.Certificate
	certMod time.Time
	keyMod  time.Time
}

// NewReloader loads the configured key pair. The certificate must be valid
// at load time.
func NewReloader(cfg *config.TLSConfig) (*Reloader, error) {
	interval := cfg.ReloadInterval
	if interval <= 0 {
		interval = config.DefaultTLSReload
	}
	r := &Reloader{
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
		interval: interval,
		now:      time.Now,
		logger:   slog.Default().With("component", "security.tls"),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	r.logExpiry()
	return r, nil
}

// Run checks the files every interval until ctx is cancelled. A failed
// reload keeps serving the previous certificate.
func (r *Reloader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.changed() {
				continue
			}
			if err := r.reload(); err != nil {
				r.logger.Error("certificate reload failed", "cert_file", r.certFile, "error", err)
				continue
			}
			r.logger.Info("certificate reloaded", "cert_file", r.certFile)
			r.logExpiry()
		}
	}
}

// GetCertificate serves the current certificate to tls.Config.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// NotAfter is the expiry of the current certificate.
func (r *Reloader) NotAfter() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leaf.NotAfter
}

// HealthCheck fails once the current certificate has expired.
func (r *Reloader) HealthCheck(context.Context) error {
	r.mu.RLock()
	x := r.leaf
	r.mu.RUnlock()
	return CheckValidity(x, r.now())
}

func (r *Reloader) changed() bool {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !certInfo.ModTime().Equal(r.certMod) || !keyInfo.ModTime().Equal(r.keyMod)
}

func (r *Reloader) reload() error {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("tls: load key pair: %w", err)
	}
	x, err := leaf(&cert)
	if err != nil {
		return err
	}
	if err := CheckValidity(x, r.now()); err != nil {
		return err
	}

	r.mu.Lock()
	r.cert, r.leaf = &cert, x
	r.certMod, r.keyMod = certInfo.ModTime(), keyInfo.ModTime()
	r.mu.Unlock()
	return nil
}

func (r *Reloader) logExpiry() {
	r.mu.RLock()
	x := r.leaf
	r.mu.RUnlock()

	remaining := x.NotAfter.Sub(r.now())
	attrs := []any{
		"subject", x.Subject.CommonName,
		"expires_at", x.NotAfter.Format(time.RFC3339),
		"expires_in_days", int(remaining.Hours() / 24),
	}
	if remaining < ExpiryWarning {
		r.logger.Warn("certificate expiring soon", attrs...)
		return
	}
	r.logger.Info("certificate loaded", attrs...)
}
