package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/otcheredev/ris-dicom-relay/internal/adapters"
	"github.com/otcheredev/ris-dicom-relay/internal/sharelink"
	"github.com/otcheredev/ris-dicom-relay/internal/storage"
	"github.com/otcheredev/ris-dicom-relay/internal/transmitter"
	"github.com/spf13/cobra"
)

func newTestConnectionCommand() *cobra.Command {
	var server serverFlags
	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that a DICOMweb server answers a study query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.config()
			if err != nil {
				return err
			}

			factory := adapters.NewAdapterFactory()
			defer factory.CloseAll()
			tr := transmitter.New(storage.NewMemoryBinaryStore(0), factory)

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			start := time.Now()
			if !tr.TestConnection(ctx, cfg) {
				return fmt.Errorf("server %s is not reachable", cfg.BaseURL())
			}
			printf(cmd, "Connected to %s in %s\n", cfg.BaseURL(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	server.register(cmd)
	return cmd
}

func newShareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Encode or decode project share links",
	}
	cmd.AddCommand(newShareEncodeCommand(), newShareDecodeCommand())
	return cmd
}

func newShareEncodeCommand() *cobra.Command {
	var (
		server     serverFlags
		name       string
		base       string
		policyFile string
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print a link carrying a server configuration and policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state := sharelink.ProjectState{ID: uuid.NewString(), Name: name}
			created := time.Now().UTC().Truncate(time.Second)
			state.CreatedAt = &created

			if server.url != "" {
				cfg, err := server.config()
				if err != nil {
					return err
				}
				state.ServerConfig = &cfg
			}
			policy, err := loadPolicy(policyFile)
			if err != nil {
				return err
			}
			state.Policy = &policy
			if err := state.Validate(); err != nil {
				return err
			}

			if base == "" {
				encoded, err := sharelink.Encode(state)
				if err != nil {
					return err
				}
				printf(cmd, "%s\n", encoded)
				return nil
			}
			link, err := sharelink.ToURL(base, state)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", link)
			return nil
		},
	}
	server.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Project name")
	cmd.Flags().StringVar(&base, "base", "", "Base URL for the link (prints the bare parameter when empty)")
	cmd.Flags().StringVar(&policyFile, "policy", "", "JSON anonymization policy (default policy when empty)")
	return cmd
}

func newShareDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <link|parameter>",
		Short: "Print the project carried by a share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				state *sharelink.ProjectState
				err   error
			)
			if strings.Contains(args[0], "?") {
				u, perr := url.Parse(args[0])
				if perr != nil {
					return perr
				}
				state, _, err = sharelink.FromURL(u)
			} else {
				state, err = sharelink.Decode(args[0])
			}
			if err != nil {
				return err
			}

			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			return out.Encode(state)
		},
	}
}
