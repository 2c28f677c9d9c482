// Package ssh copies backup artifacts to a remote host over SFTP.
package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config describes the SFTP endpoint backups are mirrored to. Only key
// authentication is supported since runs are usually unattended.
type Config struct {
	Host string
	Port int
	User string

	// KeyFile is an OpenSSH private key. When empty the usual keys under
	// ~/.ssh are tried in order.
	KeyFile    string
	Passphrase string

	// KnownHostsFile verifies the server key. InsecureIgnoreHostKey
	// disables verification and exists for tests.
	KnownHostsFile        string
	InsecureIgnoreHostKey bool

	Timeout   time.Duration
	RemoteDir string
}

// DefaultConfig returns a Config for user@host on port 22 checked against
// the invoking user's known_hosts.
func DefaultConfig(host, user string) *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Host:           host,
		Port:           22,
		User:           user,
		KnownHostsFile: filepath.Join(home, ".ssh", "known_hosts"),
		Timeout:        30 * time.Second,
	}
}

var defaultKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Validate checks required fields and resolves KeyFile.
func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.User == "" {
		errs = append(errs, errors.New("user is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.RemoteDir == "" {
		errs = append(errs, errors.New("remote_dir is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if !c.InsecureIgnoreHostKey && c.KnownHostsFile == "" {
		errs = append(errs, errors.New("known_hosts file is required"))
	}

	if c.KeyFile == "" {
		home, _ := os.UserHomeDir()
		for _, name := range defaultKeys {
			p := filepath.Join(home, ".ssh", name)
			if _, err := os.Stat(p); err == nil {
				c.KeyFile = p
				break
			}
		}
	}
	if c.KeyFile == "" {
		errs = append(errs, errors.New("no private key configured and none found in ~/.ssh"))
	} else if _, err := os.Stat(c.KeyFile); err != nil {
		errs = append(errs, fmt.Errorf("private key: %w", err))
	}
	return errors.Join(errs...)
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	pem, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	var signer ssh.Signer
	if c.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(c.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("parse private key %s: %w", c.KeyFile, err)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if !c.InsecureIgnoreHostKey {
		if hostKey, err = knownhosts.New(c.KnownHostsFile); err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKey,
		Timeout:         c.Timeout,
	}, nil
}
