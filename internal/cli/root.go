// Package cli implements the dicomctl command-line interface: batch
// anonymization of local studies, optional transmission to a DICOMweb
// server, connection checks and share links.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/otcheredev/ris-dicom-relay/internal/config"
	"github.com/otcheredev/ris-dicom-relay/internal/models"
	"github.com/otcheredev/ris-dicom-relay/pkg/logger"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configFile string
	logLevel   string
}

// serverFlags describe a DICOMweb destination on the command line
type serverFlags struct {
	url      string
	token    string
	username string
	password string
	headers  map[string]string
	timeout  time.Duration
}

func (f *serverFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "server-url", "", "DICOMweb base URL")
	cmd.Flags().StringVar(&f.token, "token", "", "Bearer token")
	cmd.Flags().StringVar(&f.username, "username", "", "Basic auth username")
	cmd.Flags().StringVar(&f.password, "password", "", "Basic auth password")
	cmd.Flags().StringToStringVar(&f.headers, "header", nil, "Extra request header as name=value (repeatable)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Per-request timeout")
}

func (f *serverFlags) config() (models.ServerConfig, error) {
	server := models.ServerConfig{
		URL:      f.url,
		AuthType: models.AuthNone,
		Headers:  f.headers,
		Timeout:  f.timeout,
	}
	switch {
	case f.token != "" && f.username != "":
		return server, models.ConfigError("--token and --username are mutually exclusive")
	case f.token != "":
		server.AuthType = models.AuthBearer
		server.Token = f.token
	case f.username != "":
		server.AuthType = models.AuthBasic
		server.Username = f.username
		server.Password = f.password
	}
	return server, server.Validate()
}

// NewRootCommand builds the dicomctl command tree
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "dicomctl",
		Short: "Anonymize DICOM studies and relay them to a DICOMweb server",
		Long: `dicomctl groups DICOM files (or ZIP archives of them) into studies,
de-identifies every study with a consistent pseudonym per identifier, and
optionally uploads the result to a DICOMweb STOW-RS endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(opts.logLevel, "console")
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newTestConnectionCommand())
	root.AddCommand(newShareCommand())
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func shortUID(uid string) string {
	if len(uid) <= 24 {
		return uid
	}
	return "..." + uid[len(uid)-21:]
}

func describe(err error) string {
	if err == nil {
		return ""
	}
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
