package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/joluben/sigsim/internal/domain"
)

// FTPConnector uploads each payload as a uniquely named JSON file over
// FTP or SFTP, depending on the target config.
type FTPConnector struct {
	id  string
	cfg FTPConfig

	mu       sync.Mutex
	ftpConn  *ftp.ServerConn
	sshConn  *ssh.Client
	sftpConn *sftp.Client
}

// NewFTP validates the target config and builds an FTP/SFTP adapter.
func NewFTP(deviceID string, raw map[string]any) (*FTPConnector, error) {
	var cfg FTPConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &FTPConnector{
		id:  deviceID + "_" + domain.TargetKindFTP,
		cfg: cfg,
	}, nil
}

func (c *FTPConnector) ID() string   { return c.id }
func (c *FTPConnector) Kind() string { return domain.TargetKindFTP }

// Connect opens the transfer session. Idempotent on a live session.
func (c *FTPConnector) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	if c.cfg.UseSFTP {
		return c.connectSFTP(addr)
	}
	return c.connectFTP(ctx, addr)
}

func (c *FTPConnector) connectSFTP(addr string) error {
	sshCfg := &ssh.ClientConfig{
		User:    c.cfg.Username,
		Auth:    []ssh.AuthMethod{ssh.Password(c.cfg.Password)},
		Timeout: connectTimeout,
		// Simulated targets are lab endpoints; host keys are not pinned.
		// #nosec G106
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	sshConn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return fmt.Errorf("%w: sftp dial %s: %v", domain.ErrConnectionFailed, addr, err)
	}

	sftpConn, err := sftp.NewClient(sshConn)
	if err != nil {
		_ = sshConn.Close()
		return fmt.Errorf("%w: sftp session %s: %v", domain.ErrConnectionFailed, addr, err)
	}

	c.mu.Lock()
	c.sshConn = sshConn
	c.sftpConn = sftpConn
	c.mu.Unlock()
	return nil
}

func (c *FTPConnector) connectFTP(ctx context.Context, addr string) error {
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(connectTimeout))
	if err != nil {
		return fmt.Errorf("%w: ftp dial %s: %v", domain.ErrConnectionFailed, addr, err)
	}
	if err := conn.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = conn.Quit()
		return fmt.Errorf("%w: ftp login %s: %v", domain.ErrConnectionFailed, addr, err)
	}

	c.mu.Lock()
	c.ftpConn = conn
	c.mu.Unlock()
	return nil
}

// Send uploads the payload as an indented JSON file named after the
// current UTC instant.
func (c *FTPConnector) Send(_ context.Context, payload map[string]any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", domain.ErrSendFailed, err)
	}

	remotePath := path.Join(c.cfg.Path, payloadFileName(time.Now().UTC()))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.UseSFTP {
		if c.sftpConn == nil {
			return fmt.Errorf("%w: sftp session not connected", domain.ErrSendFailed)
		}
		return c.uploadSFTP(remotePath, data)
	}
	if c.ftpConn == nil {
		return fmt.Errorf("%w: ftp session not connected", domain.ErrSendFailed)
	}
	return c.uploadFTP(remotePath, data)
}

func (c *FTPConnector) uploadSFTP(remotePath string, data []byte) error {
	// Advisory: the directory may already exist or the account may lack
	// mkdir rights.
	_ = c.sftpConn.MkdirAll(c.cfg.Path)

	f, err := c.sftpConn.Create(remotePath)
	if err != nil {
		return fmt.Errorf("%w: sftp create %s: %v", domain.ErrSendFailed, remotePath, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: sftp write %s: %v", domain.ErrSendFailed, remotePath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: sftp close %s: %v", domain.ErrSendFailed, remotePath, err)
	}
	return nil
}

func (c *FTPConnector) uploadFTP(remotePath string, data []byte) error {
	_ = c.ftpConn.MakeDir(c.cfg.Path)

	if err := c.ftpConn.Stor(remotePath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: ftp store %s: %v", domain.ErrSendFailed, remotePath, err)
	}
	return nil
}

// Disconnect closes the transfer session, ignoring teardown errors.
func (c *FTPConnector) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftpConn != nil {
		_ = c.sftpConn.Close()
		c.sftpConn = nil
	}
	if c.sshConn != nil {
		_ = c.sshConn.Close()
		c.sshConn = nil
	}
	if c.ftpConn != nil {
		_ = c.ftpConn.Quit()
		c.ftpConn = nil
	}
	return nil
}

func (c *FTPConnector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.UseSFTP {
		return c.sftpConn != nil
	}
	return c.ftpConn != nil
}

// payloadFileName renders the upload name for one payload, unique to
// the microsecond.
func payloadFileName(t time.Time) string {
	return fmt.Sprintf("payload_%s_%06d.json", t.Format("20060102_150405"), t.Nanosecond()/1000)
}
