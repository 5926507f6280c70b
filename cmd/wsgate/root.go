package main

import (
	"github.com/spf13/cobra"

	"dqx0.com/go/wsgate/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wsgate",
	Short: "wsgate - HTTP to service endpoint gateway",
	Long: `wsgate accepts HTTP/1.x requests, routes them by context path to
registered service endpoints and writes the endpoint's response back,
honoring keep-alive.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("wsgate version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to a config file (yaml, json or toml); defaults to ./wsgate.* or /etc/wsgate/wsgate.*")
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
