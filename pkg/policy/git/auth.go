package git

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"mercator-hq/sentinel/pkg/config"
)

// AuthProvider supplies transport credentials for clone and pull.
type AuthProvider interface {
	// GetAuth returns the git transport authentication method.
	GetAuth() (transport.AuthMethod, error)

	// Type returns the auth type for logging.
	Type() string
}

type tokenAuth struct{ token string }

func (a tokenAuth) GetAuth() (transport.AuthMethod, error) {
	if a.token == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}
	// The username is ignored by token-authenticated hosts.
	return &http.BasicAuth{Username: "git", Password: a.token}, nil
}

func (tokenAuth) Type() string { return "token" }

type sshAuth struct {
	keyPath    string
	passphrase string
}

func (a sshAuth) GetAuth() (transport.AuthMethod, error) {
	info, err := os.Stat(a.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access SSH key file: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		return nil, fmt.Errorf("SSH key file permissions too open (%o), should be 0600", mode)
	}
	auth, err := ssh.NewPublicKeysFromFile("git", a.keyPath, a.passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}
	return auth, nil
}

func (sshAuth) Type() string { return "ssh" }

type noAuth struct{}

func (noAuth) GetAuth() (transport.AuthMethod, error) { return nil, nil }

func (noAuth) Type() string { return "none" }

// NewAuthProvider creates an auth provider from configuration.
// Supported types: "token", "ssh", "none".
func NewAuthProvider(cfg *config.GitAuthConfig) (AuthProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("auth config cannot be nil")
	}

	switch cfg.Type {
	case "token":
		if cfg.Token == "" {
			return nil, fmt.Errorf("token auth requires non-empty token")
		}
		return tokenAuth{token: cfg.Token}, nil
	case "ssh":
		if cfg.SSHKeyPath == "" {
			return nil, fmt.Errorf("ssh auth requires ssh_key_path")
		}
		return sshAuth{keyPath: cfg.SSHKeyPath, passphrase: cfg.SSHKeyPassphrase}, nil
	case "none", "":
		return noAuth{}, nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
}
