package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/inventorama/internal/auth"
	"github.com/anstrom/inventorama/internal/config"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/probe"
	"github.com/anstrom/inventorama/internal/remote"
	"github.com/anstrom/inventorama/internal/targets"
)

// execute runs the command tree with args against a config file that does
// not exist, so every test starts from the defaults.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("INVENTORAMA_LOGGING_LEVEL", "error")
	t.Setenv("INVENTORAMA_OUTPUT_PATH", filepath.Join(t.TempDir(), "default.csv"))

	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// listener accepts connections on a loopback port so the tcp probe reports
// 127.0.0.1 as reachable.
func listener(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	content := `hosts:
  127.0.0.1:
    computer_system:
      name: WS-042
      model: OptiPlex 7090
      user_name: CORP\jdoe
    operating_system:
      caption: Microsoft Windows 10 Pro
      build_number: "19045"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExpand(t *testing.T) {
	stdout, stderr, err := execute(t, "expand", "10.0.0")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 256)
	assert.Equal(t, "10.0.0.0", lines[0])
	assert.Equal(t, "10.0.0.255", lines[255])
	assert.Contains(t, stderr, "256 targets, 0 invalid")
}

func TestExpandList(t *testing.T) {
	stdout, stderr, err := execute(t, "expand", "--kind", "list", "10.0.0.1,999.1.1.1")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1\n", stdout)
	assert.Contains(t, stderr, `invalid target "999.1.1.1"`)
	assert.Contains(t, stderr, "2 targets, 1 invalid")
}

func TestExpandUnknownKind(t *testing.T) {
	_, _, err := execute(t, "expand", "--kind", "range", "10.0.0.1")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "inventorama dev")
	assert.Contains(t, stdout, "go version")
}

func TestScanRequiresInput(t *testing.T) {
	_, _, err := execute(t, "scan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no targets")

	_, _, err = execute(t, "scan", "--ip", "10.0.0.1", "--segment", "10.0.0")
	assert.Error(t, err)

	_, _, err = execute(t, "scan", "--ip", "10.0.0.1", "10.0.0.2")
	assert.Error(t, err)
}

func TestScanRejectsInvalidSettings(t *testing.T) {
	_, _, err := execute(t, "scan", "--ip", "10.0.0.1", "--concurrency", "0")
	assert.Error(t, err)

	_, _, err = execute(t, "scan", "--ip", "10.0.0.1", "--capabilities", "bios")
	assert.Error(t, err)
}

func TestScanWithFixture(t *testing.T) {
	port := listener(t)
	fixture := writeFixture(t)
	csvPath := filepath.Join(t.TempDir(), "inventory.csv")

	stdout, _, err := execute(t, "scan", "127.0.0.1",
		"--probe", "tcp",
		"--tcp-ports", fmt.Sprint(port),
		"--timeout", "2000",
		"--fixture", fixture,
		"--capabilities", "hostname,last-logged-user,windows-release",
		"--output", csvPath,
		"--auto-save=false",
	)
	require.NoError(t, err)

	assert.Contains(t, stdout, "WS-042")
	assert.Contains(t, stdout, "Windows 10 21H2")
	assert.Contains(t, stdout, "Scanned 1 targets")
	assert.Contains(t, stdout, "Complete")
	assert.Contains(t, stdout, "Results written to "+csvPath)

	content, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `"IP","Hostname","LastLoggedUser","WindowsBuild","Date","Time","Status","ErrorDetails"`, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], `"127.0.0.1","WS-042","CORP\jdoe","Windows 10 21H2",`), lines[1])
	assert.True(t, strings.HasSuffix(lines[1], `"Complete",""`), lines[1])
}

func TestScanAutoSaveAppends(t *testing.T) {
	port := listener(t)
	fixture := writeFixture(t)
	csvPath := filepath.Join(t.TempDir(), "inventory.csv")

	list := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(list, []byte("127.0.0.1\n300.1.1.1\n"), 0o600))

	args := []string{"scan", "--file", list,
		"--probe", "tcp",
		"--tcp-ports", fmt.Sprint(port),
		"--timeout", "2000",
		"--fixture", fixture,
		"--capabilities", "hostname",
		"--output", csvPath,
		"--auto-save",
		"--quiet",
	}

	for range 2 {
		stdout, _, err := execute(t, args...)
		require.NoError(t, err)
		assert.NotContains(t, stdout, "WS-042", "table should be suppressed")
		assert.Contains(t, stdout, "Invalid")
	}

	content, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 5, "one header and two rows per run")
	assert.Equal(t, 1, strings.Count(string(content), `"IP","Hostname"`))
	assert.Equal(t, 2, strings.Count(string(content), `"WS-042"`))
	assert.Equal(t, 2, strings.Count(string(content), `"300.1.1.1"`))
}

func TestScanRefusedPortCountsAsReachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	// A closed port refuses the connection, which still counts as alive.
	stdout, stderr, err := execute(t, "scan", "--ip", "127.0.0.1", "--verbose",
		"--probe", "tcp", "--tcp-ports", fmt.Sprint(port),
		"--timeout", "1000", "--capabilities", "none")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Complete")
	assert.Contains(t, stderr, "Probing")
}

func TestHistoryRequiresDatabase(t *testing.T) {
	_, _, err := execute(t, "history", "10.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is disabled")

	_, _, err = execute(t, "history", "10.0.0.999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid address")
}

func TestDBResetRequiresForce(t *testing.T) {
	_, _, err := execute(t, "db", "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")
}

func TestServeRequiresEnabledAPI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  enabled: false\n"), 0o600))

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", path, "serve"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API server is disabled")
}

func TestScanInput(t *testing.T) {
	list := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(list, []byte("10.0.0.1\n10.0.1\n"), 0o600))

	tests := []struct {
		name    string
		opts    scanOptions
		args    []string
		want    int
		wantErr bool
	}{
		{name: "ip flag", opts: scanOptions{ip: "10.0.0.1"}, want: 1},
		{name: "segment flag", opts: scanOptions{segment: "10.0.0"}, want: 256},
		{name: "file flag", opts: scanOptions{file: list}, want: 257},
		{name: "address argument", args: []string{"10.0.0.7"}, want: 1},
		{name: "segment argument", args: []string{"10.0.0"}, want: 256},
		{name: "missing file", opts: scanOptions{file: filepath.Join(t.TempDir(), "nope.txt")}, wantErr: true},
		{name: "nothing", wantErr: true},
		{name: "flag and argument", opts: scanOptions{ip: "10.0.0.1"}, args: []string{"10.0.0.2"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := scanInput(&tt.opts, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, targets.Collect(in), tt.want)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("INVENTORAMA_SCAN_MAX_CONCURRENCY", "7")
	t.Setenv("INVENTORAMA_SCAN_PROBE_TIMEOUT", "250ms")
	t.Setenv("INVENTORAMA_SCAN_CAPABILITIES", "hostname, ram-size")
	t.Setenv("INVENTORAMA_PROBE_METHOD", "tcp")
	t.Setenv("INVENTORAMA_REMOTE_BACKEND", "ssh")
	t.Setenv("INVENTORAMA_REMOTE_SSH_PASSWORD", "s3cret")
	t.Setenv("INVENTORAMA_LOGGING_LEVEL", "warn")
	t.Setenv("INVENTORAMA_DATABASE_ENABLED", "true")
	t.Setenv("INVENTORAMA_SCHEDULE_CRON", "@hourly")

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := config.Default()
	applyEnvOverrides(v, cfg)

	assert.Equal(t, 7, cfg.Scan.MaxConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Scan.ProbeTimeout)
	assert.Equal(t, []string{"hostname", "ram-size"}, cfg.Scan.Capabilities)
	assert.Equal(t, probe.MethodTCP, cfg.Probe.Method)
	assert.Equal(t, remote.BackendSSH, cfg.Remote.Backend)
	assert.Equal(t, "s3cret", cfg.Remote.SSH.Password)
	assert.Equal(t, logging.LevelWarn, cfg.Logging.Level)
	assert.True(t, cfg.Database.Enabled)
	assert.Equal(t, "@hourly", cfg.Schedule.Cron)

	// Unset keys keep their defaults.
	assert.Equal(t, config.Default().Output.Path, cfg.Output.Path)
	assert.Equal(t, config.Default().API.Port, cfg.API.Port)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a ,, b,"))
	assert.Nil(t, splitList(""))
}

func TestAPIKeyGenerate(t *testing.T) {
	stdout, _, err := execute(t, "apikey", "generate", "--json")
	require.NoError(t, err)

	var generated auth.GeneratedAPIKey
	require.NoError(t, json.Unmarshal([]byte(stdout), &generated))
	assert.True(t, auth.IsValidAPIKeyFormat(generated.Key))
	assert.True(t, auth.ValidateAPIKey(generated.Key, generated.Hash))

	ring, err := auth.NewKeyRing([]string{generated.Hash})
	require.NoError(t, err)
	assert.True(t, ring.Verify(generated.Key))
}

func TestAPIKeyHash(t *testing.T) {
	key := "ik_abcdefghijklmnopqrstuvwxyz234567"
	stdout, _, err := execute(t, "apikey", "hash", key)
	require.NoError(t, err)
	assert.True(t, auth.ValidateAPIKey(key, strings.TrimSpace(stdout)))

	_, _, err = execute(t, "apikey", "hash", "not-a-key")
	assert.Error(t, err)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "inventorama.yaml")

	stdout, _, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, stdout, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Scan.Capabilities, cfg.Scan.Capabilities)

	_, _, err = execute(t, "--config", path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	_, _, err = execute(t, "--config", path, "config", "init", "--force")
	assert.NoError(t, err)
}
