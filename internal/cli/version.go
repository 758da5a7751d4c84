package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewVersionCmd creates the version command.
func NewVersionCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			version := app.version
			if version == "" {
				version = "dev"
			}
			fmt.Fprintf(os.Stdout, "taskd %s", version)
			if app.commit != "" {
				fmt.Fprintf(os.Stdout, " (%s)", app.commit)
			}
			if app.date != "" {
				fmt.Fprintf(os.Stdout, " built %s", app.date)
			}
			fmt.Fprintln(os.Stdout)
		},
	}
}

// NewConfigCmd creates the config command, which prints the effective
// configuration after file and environment overrides.
func NewConfigCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			fmt.Fprint(os.Stdout, out)
			return nil
		},
	}
}
