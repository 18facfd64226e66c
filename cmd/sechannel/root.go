package main

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/floegence/sechannel/config"
	"github.com/floegence/sechannel/internal/cmdutil"
	"github.com/floegence/sechannel/internal/logging"
)

const envPrefix = "SECHANNEL_"

// app carries state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log *logrus.Logger
}

func newRootCmd(stdout io.Writer, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "sechannel",
		Short:         "Mutually authenticated encrypted channels over an untrusted hub",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "TOML config file (env: SECHANNEL_CONFIG)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level (env: SECHANNEL_LOG_LEVEL)")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text or json (env: SECHANNEL_LOG_FORMAT)")

	root.AddCommand(newKeygenCmd(a), newHubCmd(a), newEchoCmd(a), newPingCmd(a), newVersionCmd(a))
	return root
}

// setup resolves configuration in order: defaults, config file, environment,
// global flags. Subcommands apply their own flags on top.
func (a *app) setup() error {
	env := cmdutil.Env{Prefix: envPrefix}
	if a.configPath == "" {
		env.String("CONFIG", &a.configPath)
	}
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.LoadFile(a.configPath)
		if err != nil {
			return &cmdutil.UsageError{Msg: err.Error()}
		}
		cfg = loaded
	}
	if err := applyEnv(env, cfg); err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return &cmdutil.UsageError{Msg: err.Error()}
	}
	l, err := logging.New(cfg.Log, a.stderr)
	if err != nil {
		return &cmdutil.UsageError{Msg: err.Error()}
	}
	a.cfg, a.log = cfg, l
	return nil
}

// revalidate checks the configuration again after subcommand flags were
// applied.
func (a *app) revalidate() error {
	if err := a.cfg.Validate(); err != nil {
		return &cmdutil.UsageError{Msg: err.Error()}
	}
	return nil
}
