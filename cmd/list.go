package cmd

import (
	"fmt"
	"strings"

	"github.com/signalnine/recipeforge/internal/config"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the step vocabulary and engine settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Design: %s (%s)\n", cfg.Design.Name, cfg.Design.Path)
			fmt.Fprintf(out, "  read:  %s\n", cfg.Design.ReadDirective())
			if cfg.Design.RCFile != "" {
				fmt.Fprintf(out, "  rc:    %s\n", cfg.Design.RCFile)
			}
			if cfg.Design.WriteDesign {
				write, _ := cfg.Design.WriteDirective()
				fmt.Fprintf(out, "  write: %s\n", write)
			}

			fmt.Fprintf(out, "\nVocabulary (%d steps, recipes of %d):\n", len(cfg.Recipe.Vocabulary), cfg.Recipe.Length)
			for _, s := range cfg.Recipe.Vocabulary {
				fmt.Fprintf(out, "  - %s\n", s)
			}

			fmt.Fprintf(out, "\nEngine (%s):\n", cfg.Engine.Backend)
			fmt.Fprintf(out, "  binary:  %s %s\n", cfg.Engine.Binary, strings.Join(cfg.Engine.Args, " "))
			fmt.Fprintf(out, "  timeout: %s\n", cfg.Engine.Timeout)
			fmt.Fprintf(out, "  closing: %s\n", strings.Join(cfg.Engine.Closing, "; "))
			if cfg.Engine.Backend == config.BackendDocker {
				fmt.Fprintf(out, "  image:   %s\n", cfg.Engine.Image)
			}
			marker, err := cfg.MarkerPattern()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  marker:  %s\n", marker)
			return nil
		},
	}
}
