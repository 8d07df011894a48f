package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/das-developers/das2py-server-sub000/config"
	"github.com/das-developers/das2py-server-sub000/errors"
)

const envPrefix = "DASFLEX"

// command carries the state shared by every subcommand: the resolved
// configuration, the logger built from it and the process streams.
type command struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	v          *viper.Viper
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
}

// NewRootCommand builds the dasflex command tree.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	c := &command{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		v:      viper.New(),
		cfg:    config.Default(),
	}

	root := &cobra.Command{
		Use:   appName,
		Short: "das2/das3/HAPI data server",
		Long: `dasflex answers das2, das3 and HAPI data requests by running the reader
pipelines described by data source definitions, and fills the block cache
through a shared work queue.

Every flag can also be set in the config file (nested by its dotted prefix)
or through a DASFLEX_ environment variable, e.g. DASFLEX_SERVER_SOURCE_ROOT.`,
		Version:      fmt.Sprintf("%s (built %s)", Version, BuildTime),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.Flags())
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "configuration file (yaml or json)")
	config.RegisterFlags(flags, c.cfg)

	root.AddCommand(
		newServeCommand(c),
		newWorkerCommand(c),
		newValidateCommand(c),
		newCatalogCommand(c),
		newConfigCommand(c),
		newHashPasswordCommand(c),
	)
	return root
}

// setup resolves flags, environment and config file into c.cfg and builds
// the logger.
func (c *command) setup(flags *pflag.FlagSet) error {
	if err := setAllConfig(c.v, flags, envPrefix); err != nil {
		return errors.WrapInvalid(err, "CLI", "setup", "resolve configuration")
	}
	// user names, groups and variable names are case sensitive, which
	// viper keys are not
	if c.configPath != "" {
		fileCfg, err := config.LoadFile(c.configPath)
		if err != nil {
			return errors.WrapInvalid(err, "CLI", "setup", "read config file")
		}
		c.cfg.Auth.Users = fileCfg.Auth.Users
		c.cfg.Auth.Groups = fileCfg.Auth.Groups
		if f := flags.Lookup("server.vars"); len(fileCfg.Server.Vars) > 0 && (f == nil || !f.Changed) {
			c.cfg.Server.Vars = fileCfg.Server.Vars
		}
	}
	c.logger = setupLogger(c.stderr, c.cfg.Log.Level, c.cfg.Log.Format)
	slog.SetDefault(c.logger)
	return nil
}

// validConfig checks the resolved configuration before a long running
// command starts.
func (c *command) validConfig() error {
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err)
	}
	return nil
}

// setAllConfig layers flags over environment over config file: flags are
// bound into viper, and every flag not given on the command line is then
// set from what viper resolved.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet, envPrefix string) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		var value string
		switch f.Value.Type() {
		case "stringSlice":
			// a list from a config file is not visible to GetString
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		case "stringToString":
			m := v.GetStringMapString(f.Name)
			if len(m) == 0 {
				return
			}
			pairs := make([]string, 0, len(m))
			for k, val := range m {
				pairs = append(pairs, k+"="+val)
			}
			sort.Strings(pairs)
			value = strings.Join(pairs, ",")
		default:
			value = v.GetString(f.Name)
		}
		flagErr = f.Value.Set(value)
	})
	return flagErr
}
