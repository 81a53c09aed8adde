package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/pollbridge/internal/config"
	"github.com/mattjoyce/pollbridge/internal/doctor"
)

// loadConfig resolves --config (or discovery) into a Config, falling back to
// the defaults when no file exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.LoadOrDefault(path)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(configCheckCmd(), configShowCmd())
	return cmd
}

func configCheckCmd() *cobra.Command {
	var (
		jsonOut bool
		static  bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and the environment it will run in",
		Long: `Validate configuration and the environment it will run in.

Exit codes: 0 when all checks pass, 1 on errors, 2 when only warnings were found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			d := doctor.New(cfg)
			result := d.Validate()
			if !static {
				d.CheckEnvironment(result)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				data, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, data)
			} else {
				fmt.Fprintf(out, "Config: %s\n", configSource(cfg))
				fmt.Fprint(out, doctor.FormatHuman(result))
			}

			switch {
			case !result.Valid:
				return exitError{code: 1}
			case len(result.Warnings) > 0:
				return exitError{code: 2}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the result as JSON")
	cmd.Flags().BoolVar(&static, "static", false, "Skip listener, filesystem and lock checks")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

func printConfig(w io.Writer, cfg *config.Config) error {
	fingerprint, err := config.Fingerprint(cfg)
	if err != nil {
		return err
	}
	data, err := config.Render(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "# source: %s\n", configSource(cfg))
	fmt.Fprintf(w, "# fingerprint: %s\n", fingerprint)
	_, err = w.Write(data)
	return err
}
