package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/vidgen/internal/poller"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultServer = "http://localhost:8080"

// app carries the resolved global settings for every subcommand
type app struct {
	v            *viper.Viper
	cfgFile      string
	server       string
	outputFormat string
}

// NewRootCmd builds the genctl command tree
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "genctl",
		Short:         "CLI for the vidgen generation API",
		Long:          `genctl submits video and image generation requests to vidgen and follows them until the output is ready.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.genctl/config.yaml)")
	root.PersistentFlags().StringVar(&a.server, "server", "", "API base URL (default from config, GENCTL_SERVER or "+defaultServer+")")
	root.PersistentFlags().StringVar(&a.outputFormat, "output", "table", "output format: table or json")
	root.PersistentFlags().Duration("interval", poller.DefaultInterval, "status polling interval")
	root.PersistentFlags().Duration("poll-timeout", poller.DefaultPollTimeout, "timeout of a single status check")
	root.PersistentFlags().Int("max-timeouts", poller.DefaultMaxTimeouts, "consecutive failed checks before polling stops")

	_ = a.v.BindPFlag("poll_interval", root.PersistentFlags().Lookup("interval"))
	_ = a.v.BindPFlag("poll_timeout", root.PersistentFlags().Lookup("poll-timeout"))
	_ = a.v.BindPFlag("max_timeouts", root.PersistentFlags().Lookup("max-timeouts"))

	root.AddCommand(
		newSubmitCmd(a),
		newStatusCmd(a),
		newWatchCmd(a),
		newHistoryCmd(a),
	)
	return root
}

// initConfig reads the optional config file and GENCTL_* variables
func (a *app) initConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(filepath.Join(home, ".genctl"))
		a.v.SetConfigName("config")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix("GENCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	_ = a.v.BindEnv("server", "GENCTL_SERVER")

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if a.server == "" {
		a.server = a.v.GetString("server")
	}
	if a.server == "" {
		a.server = defaultServer
	}
	a.server = strings.TrimRight(a.server, "/")
	return nil
}

func (a *app) jsonOutput() bool {
	return a.outputFormat == "json"
}

func (a *app) newPoller(opts ...poller.Option) *poller.Poller {
	base := []poller.Option{
		poller.WithInterval(a.v.GetDuration("poll_interval")),
		poller.WithPollTimeout(a.v.GetDuration("poll_timeout")),
		poller.WithMaxTimeouts(a.v.GetInt("max_timeouts")),
	}
	return poller.New(a.server, append(base, opts...)...)
}
