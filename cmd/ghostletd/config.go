package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/Paranoid-AF/ghostlet"
	defaults "github.com/Paranoid-AF/ghostlet/default"
	"github.com/Paranoid-AF/ghostlet/errors"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect ghostlet configuration",
		Long: fmt.Sprintf(`Inspect ghostlet configuration.

The config file is read from %s.
Environment variables GHOSTLET_GENERATION_API_KEY, GHOSTLET_GENERATION_API_BASE_URL,
GHOSTLET_GENERATION_MODEL and GHOSTLET_TELEMETRY_ENDPOINT override it.`, ghostlet.ConfigPath()),
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := ghostlet.LoadConfig()
				if err != nil {
					return err
				}
				return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
			},
		},
		&cobra.Command{
			Use:   "defaults",
			Short: "Print the built-in default configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				_, err := cmd.OutOrStdout().Write(defaults.DefaultConfigTOML)
				return err
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration for problems",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := ghostlet.LoadConfig()
				if err != nil {
					return err
				}
				warnings := ghostlet.ValidateConfig(cfg)
				out := cmd.OutOrStdout()
				if len(warnings) == 0 {
					fmt.Fprintln(out, "config OK")
					return nil
				}
				for _, w := range warnings {
					fmt.Fprintln(out, "warning:", w)
				}
				return errors.Newf("%d config warning(s)", len(warnings))
			},
		},
		&cobra.Command{
			Use:   "prompt",
			Short: "Print the system prompt template in use",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				prompt := defaults.DefaultPrompt
				if data, err := os.ReadFile(ghostlet.PromptPath()); err == nil {
					prompt = string(data)
				}
				_, err := fmt.Fprint(cmd.OutOrStdout(), prompt)
				return err
			},
		},
	)
	return cmd
}
