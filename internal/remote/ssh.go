package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/anstrom/inventorama/internal/errors"
	"github.com/anstrom/inventorama/internal/logging"
)

const (
	defaultSSHPort           = 22
	defaultSSHTimeout        = 10 * time.Second
	defaultSSHCommandTimeout = 30 * time.Second
)

// SSHConfig holds credentials and timeouts for the SSH backend.
type SSHConfig struct {
	Port           int           `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	KeyFile        string        `yaml:"key_file"`
	Passphrase     string        `yaml:"passphrase"`
	Timeout        time.Duration `yaml:"timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// DefaultSSHConfig returns port 22 with default timeouts.
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		Port:           defaultSSHPort,
		Timeout:        defaultSSHTimeout,
		CommandTimeout: defaultSSHCommandTimeout,
	}
}

// SSHQuerier runs PowerShell CIM queries on Windows hosts that expose
// OpenSSH.
type SSHQuerier struct {
	config       SSHConfig
	clientConfig *ssh.ClientConfig
	logger       *logging.Logger
}

// NewSSHQuerier validates the credentials and prepares the client config.
func NewSSHQuerier(cfg SSHConfig, logger *logging.Logger) (*SSHQuerier, error) {
	if cfg.Port == 0 {
		cfg.Port = defaultSSHPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSSHTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultSSHCommandTimeout
	}

	clientConfig, err := buildSSHConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &SSHQuerier{
		config:       cfg,
		clientConfig: clientConfig,
		logger:       logger.WithComponent("remote.ssh"),
	}, nil
}

func buildSSHConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("ssh username is required")
	}

	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		keyData, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key: %w", err)
		}
		var signer ssh.Signer
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh password or key_file is required")
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         cfg.Timeout,
	}, nil
}

// Connect dials the host and completes the SSH handshake.
func (q *SSHQuerier) Connect(ctx context.Context, address string) (Session, error) {
	addr := net.JoinHostPort(address, strconv.Itoa(q.config.Port))
	dialer := &net.Dialer{Timeout: q.config.Timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.ErrRemoteConnection(address, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, q.clientConfig)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, errors.ErrPermissionDenied(address, err)
		}
		return nil, errors.ErrRemoteConnection(address, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	q.logger.Debug("ssh session opened", "target", address)
	return newCIMSession(address, &sshRunner{client: client, timeout: q.config.CommandTimeout}), nil
}

// commandRunner executes one remote command.
type commandRunner interface {
	Run(ctx context.Context, cmd string) ([]byte, error)
	Close() error
}

type sshRunner struct {
	client  *ssh.Client
	timeout time.Duration
}

func (r *sshRunner) Run(ctx context.Context, cmd string) ([]byte, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return nil, fmt.Errorf("command failed: %s", msg)
			}
			return nil, fmt.Errorf("command failed: %w", err)
		}
		return stdout.Bytes(), nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case <-timer.C:
		_ = session.Signal(ssh.SIGKILL)
		return nil, fmt.Errorf("command timeout after %s", r.timeout)
	}
}

func (r *sshRunner) Close() error {
	return r.client.Close()
}

// cimSession answers property queries with Get-CimInstance.
type cimSession struct {
	address string
	runner  commandRunner
}

func newCIMSession(address string, runner commandRunner) *cimSession {
	return &cimSession{address: address, runner: runner}
}

// cimQuery builds a PowerShell command that prints the selected properties
// of a CIM class as compressed JSON.
func cimQuery(class string, first int, properties ...string) string {
	selectExpr := "Select-Object " + strings.Join(properties, ",")
	if first > 0 {
		selectExpr += " -First " + strconv.Itoa(first)
	}
	return fmt.Sprintf(
		`powershell -NoProfile -NonInteractive -Command "Get-CimInstance -ClassName %s | %s | ConvertTo-Json -Compress"`,
		class, selectExpr)
}

func (s *cimSession) ComputerSystem(ctx context.Context) (ComputerSystem, error) {
	var rows []struct {
		Name     string `json:"Name"`
		Model    string `json:"Model"`
		UserName string `json:"UserName"`
	}
	if err := s.query(ctx, "Win32_ComputerSystem", cimQuery("Win32_ComputerSystem", 0, "Name", "Model", "UserName"), &rows); err != nil {
		return ComputerSystem{}, err
	}
	if len(rows) == 0 {
		return ComputerSystem{}, nil
	}
	return ComputerSystem{Name: rows[0].Name, Model: rows[0].Model, UserName: rows[0].UserName}, nil
}

func (s *cimSession) ProductVersion(ctx context.Context) (string, error) {
	var rows []struct {
		Version string `json:"Version"`
	}
	if err := s.query(ctx, "Win32_ComputerSystemProduct", cimQuery("Win32_ComputerSystemProduct", 0, "Version"), &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Version, nil
}

func (s *cimSession) InstalledProducts(ctx context.Context, limit int) ([]Product, error) {
	var rows []struct {
		Name    string `json:"Name"`
		Version string `json:"Version"`
	}
	if err := s.query(ctx, "Win32_Product", cimQuery("Win32_Product", limit, "Name", "Version"), &rows); err != nil {
		return nil, err
	}
	products := make([]Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, Product{Name: r.Name, Version: r.Version})
	}
	return products, nil
}

func (s *cimSession) MemoryModules(ctx context.Context) ([]uint64, error) {
	var rows []struct {
		Capacity uint64 `json:"Capacity"`
	}
	if err := s.query(ctx, "Win32_PhysicalMemory", cimQuery("Win32_PhysicalMemory", 0, "Capacity"), &rows); err != nil {
		return nil, err
	}
	capacities := make([]uint64, 0, len(rows))
	for _, r := range rows {
		capacities = append(capacities, r.Capacity)
	}
	return capacities, nil
}

func (s *cimSession) OperatingSystem(ctx context.Context) (OperatingSystem, error) {
	var rows []struct {
		Caption     string `json:"Caption"`
		BuildNumber string `json:"BuildNumber"`
	}
	if err := s.query(ctx, "Win32_OperatingSystem", cimQuery("Win32_OperatingSystem", 0, "Caption", "BuildNumber"), &rows); err != nil {
		return OperatingSystem{}, err
	}
	if len(rows) == 0 {
		return OperatingSystem{}, nil
	}
	return OperatingSystem{Caption: rows[0].Caption, BuildNumber: rows[0].BuildNumber}, nil
}

func (s *cimSession) Close() error {
	return s.runner.Close()
}

// query runs cmd and decodes its JSON output into out, which must point to
// a slice. ConvertTo-Json emits a bare object for a single row, so that case
// is wrapped into a one element array first.
func (s *cimSession) query(ctx context.Context, op, cmd string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := s.runner.Run(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if strings.Contains(strings.ToLower(err.Error()), "access is denied") {
			return errors.ErrPermissionDenied(s.address, err).WithOperation(op)
		}
		return errors.ErrRemoteProtocol(s.address, err).WithOperation(op)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '{' {
		raw = append(append([]byte{'['}, raw...), ']')
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.ErrRemoteProtocol(s.address, fmt.Errorf("decode %s: %w", op, err)).WithOperation(op)
	}
	return nil
}
