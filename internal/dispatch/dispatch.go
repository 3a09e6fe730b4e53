// Package dispatch ships a built bundle into a remote tester's queue
// directory over SSH. The upload lands under a temporary name and is
// renamed into place, so the remote watcher never observes a bundle that
// is still being written.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/vmcheck/courier/internal/courseconf"
)

// A stalled transfer blocks the submitting request, so the dial is bounded.
const dialTimeout = 30 * time.Second

// TransportError wraps any connection, auth, or write failure while
// dispatching. The submission's durable record already exists when this is
// raised; re-dispatching the same bundle is safe and does not duplicate a
// commit.
type TransportError struct {
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to dispatch to %s: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type Dispatcher struct {
	keyPath string
	log     *slog.Logger
}

func New(keyPath string, log *slog.Logger) *Dispatcher {
	return &Dispatcher{keyPath: keyPath, log: log}
}

// Dispatch copies bundlePath into tester's queue directory under its base
// name.
func (d *Dispatcher) Dispatch(ctx context.Context, bundlePath string, tester courseconf.Tester) error {
	addr := net.JoinHostPort(tester.Hostname, fmt.Sprintf("%d", tester.Port))

	cfg, err := d.clientConfig(tester)
	if err != nil {
		return &TransportError{Host: addr, Err: err}
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransportError{Host: addr, Err: fmt.Errorf("dial failed: %w", err)}
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return &TransportError{Host: addr, Err: fmt.Errorf("ssh handshake failed: %w", err)}
	}
	conn := ssh.NewClient(sshConn, chans, reqs)
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return &TransportError{Host: addr, Err: fmt.Errorf("sftp session failed: %w", err)}
	}
	defer client.Close()

	base := filepath.Base(bundlePath)
	// Queue paths are remote; always joined with forward slashes.
	final := path.Join(tester.QueueDir, base)
	tmp := path.Join(tester.QueueDir, "."+base+".part")

	if err := d.upload(client, bundlePath, tmp); err != nil {
		client.Remove(tmp)
		return &TransportError{Host: addr, Err: err}
	}
	if err := client.PosixRename(tmp, final); err != nil {
		client.Remove(tmp)
		return &TransportError{Host: addr, Err: fmt.Errorf("failed to rename into queue: %w", err)}
	}

	d.log.Info("dispatched bundle",
		slog.String("bundle", base), slog.String("tester", tester.Hostname))
	return nil
}

func (d *Dispatcher) upload(client *sftp.Client, local, remote string) error {
	in, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("failed to open bundle: %w", err)
	}
	defer in.Close()

	out, err := client.Create(remote)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close remote file: %w", err)
	}
	return nil
}

func (d *Dispatcher) clientConfig(tester courseconf.Tester) (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(d.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ssh key %s: %w", d.keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh key: %w", err)
	}

	// Without a pinned key the remote identity is not verified. The
	// storer typically runs as a service account with no known_hosts;
	// the deployment assumes a trusted network between it and testers.
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if tester.PinnedHostKey != "" {
		pub, err := readHostKey(tester.PinnedHostKey)
		if err != nil {
			return nil, err
		}
		hostKeyCallback = ssh.FixedHostKey(pub)
	}

	return &ssh.ClientConfig{
		User:            tester.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}, nil
}

func readHostKey(path string) (ssh.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pinned host key %s: %w", path, err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pinned host key: %w", err)
	}
	return pub, nil
}
