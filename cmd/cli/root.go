// Package cli provides the command-line interface of inventorama: one-shot
// scans, target expansion, the long-running API server and history
// queries.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/inventorama/internal/config"
	"github.com/anstrom/inventorama/internal/logging"
	"github.com/anstrom/inventorama/internal/probe"
	"github.com/anstrom/inventorama/internal/remote"
)

const (
	envPrefix         = "INVENTORAMA"
	defaultConfigFile = "inventorama.yaml"
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// app carries the global flags and the viper instance shared by every
// subcommand of one invocation.
type app struct {
	configFile string
	verbose    bool
	viper      *viper.Viper
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{viper: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "inventorama",
		Short: "IP scanner and host inventory collector",
		Long: `Inventorama expands addresses, /24 segments or list files into targets,
checks which hosts answer and queries reachable hosts for inventory
properties such as host name, logged-in user, installed software and OS
build. Results are shown as a table and appended to a CSV file.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "",
		"config file (default is ./"+defaultConfigFile+")")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false,
		"stream record transitions and log at debug level")

	rootCmd.AddCommand(
		newScanCmd(a),
		newExpandCmd(),
		newServeCmd(a),
		newHistoryCmd(a),
		newDBCmd(a),
		newAPIKeyCmd(),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command. It is called by main.main.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}

func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// initConfig binds the environment: INVENTORAMA_CONFIG names the config
// file and INVENTORAMA_<SECTION>_<KEY> overrides single settings.
func (a *app) initConfig(cmd *cobra.Command) error {
	v := a.viper
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetDefault("config", defaultConfigFile)

	if err := v.BindPFlag("config", cmd.Root().PersistentFlags().Lookup("config")); err != nil {
		return fmt.Errorf("failed to bind config flag: %w", err)
	}
	return nil
}

// loadConfig reads the config file and applies environment overrides. The
// result is not validated; commands validate after applying their flags.
func (a *app) loadConfig() (*config.Config, error) {
	path := a.viper.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(a.viper, cfg)
	if a.verbose {
		cfg.Logging.Level = logging.LevelDebug
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the default.
func (a *app) newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.SetDefault(logger)
	return logger, nil
}

// envBindings maps config keys to the field they override.
var envBindings = map[string]func(*config.Config) any{
	"scan.max_concurrency":  func(c *config.Config) any { return &c.Scan.MaxConcurrency },
	"scan.probe_timeout":    func(c *config.Config) any { return &c.Scan.ProbeTimeout },
	"scan.capabilities":     func(c *config.Config) any { return &c.Scan.Capabilities },
	"scan.auto_save":        func(c *config.Config) any { return &c.Scan.AutoSave },
	"scan.dns_server":       func(c *config.Config) any { return &c.Scan.DNSServer },
	"probe.method":          func(c *config.Config) any { return &c.Probe.Method },
	"remote.backend":        func(c *config.Config) any { return &c.Remote.Backend },
	"remote.snmp.community": func(c *config.Config) any { return &c.Remote.SNMP.Community },
	"remote.ssh.username":   func(c *config.Config) any { return &c.Remote.SSH.Username },
	"remote.ssh.password":   func(c *config.Config) any { return &c.Remote.SSH.Password },
	"remote.ssh.key_file":   func(c *config.Config) any { return &c.Remote.SSH.KeyFile },
	"remote.fixture.path":   func(c *config.Config) any { return &c.Remote.Fixture.Path },
	"output.path":           func(c *config.Config) any { return &c.Output.Path },
	"output.overwrite":      func(c *config.Config) any { return &c.Output.Overwrite },
	"logging.level":         func(c *config.Config) any { return &c.Logging.Level },
	"logging.format":        func(c *config.Config) any { return &c.Logging.Format },
	"logging.output":        func(c *config.Config) any { return &c.Logging.Output },
	"api.listen_addr":       func(c *config.Config) any { return &c.API.ListenAddr },
	"api.port":              func(c *config.Config) any { return &c.API.Port },
	"api.request_timeout":   func(c *config.Config) any { return &c.API.RequestTimeout },
	"api.auth.enabled":      func(c *config.Config) any { return &c.API.Auth.Enabled },
	"api.auth.key_hashes":   func(c *config.Config) any { return &c.API.Auth.KeyHashes },
	"database.enabled":      func(c *config.Config) any { return &c.Database.Enabled },
	"database.host":         func(c *config.Config) any { return &c.Database.Host },
	"database.port":         func(c *config.Config) any { return &c.Database.Port },
	"database.database":     func(c *config.Config) any { return &c.Database.Database },
	"database.username":     func(c *config.Config) any { return &c.Database.Username },
	"database.password":     func(c *config.Config) any { return &c.Database.Password },
	"database.ssl_mode":     func(c *config.Config) any { return &c.Database.SSLMode },
	"schedule.enabled":      func(c *config.Config) any { return &c.Schedule.Enabled },
	"schedule.cron":         func(c *config.Config) any { return &c.Schedule.Cron },
	"schedule.input":        func(c *config.Config) any { return &c.Schedule.Input },
	"schedule.kind":         func(c *config.Config) any { return &c.Schedule.Kind },
}

func applyEnvOverrides(v *viper.Viper, cfg *config.Config) {
	for key, field := range envBindings {
		if !v.IsSet(key) {
			continue
		}
		switch p := field(cfg).(type) {
		case *string:
			*p = v.GetString(key)
		case *int:
			*p = v.GetInt(key)
		case *bool:
			*p = v.GetBool(key)
		case *time.Duration:
			*p = v.GetDuration(key)
		case *[]string:
			*p = splitList(v.GetString(key))
		case *probe.Method:
			*p = probe.Method(v.GetString(key))
		case *remote.Backend:
			*p = remote.Backend(v.GetString(key))
		case *logging.LogLevel:
			*p = logging.LogLevel(v.GetString(key))
		case *logging.LogFormat:
			*p = logging.LogFormat(v.GetString(key))
		}
	}
}

// splitList splits a comma separated value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
