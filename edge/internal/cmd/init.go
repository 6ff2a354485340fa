package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/loqui-im/loqui/edge/internal/config"
	"github.com/loqui-im/loqui/pkg/cli"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard to generate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			return runInit(cli.DefaultPrompter(), output)
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: ./edge-config.json)")
	return cmd
}

func runInit(p *cli.Prompter, outputPath string) error {
	fmt.Fprintln(p.Out)
	fmt.Fprintln(p.Out, "  Loqui Edge Node — Configuration Wizard")
	fmt.Fprintln(p.Out, strings.Repeat("─", 42))
	fmt.Fprintln(p.Out)

	cfg := &config.Config{}

	fmt.Fprintln(p.Out, "Edge Node")
	defaultName := "edge-" + uuid.New().String()[:8]
	cfg.Edge.Name = p.Ask("  Node name", defaultName)
	cfg.Edge.Addr = p.Ask("  Client listen address", ":7070")
	fmt.Fprintln(p.Out)

	fmt.Fprintln(p.Out, "Logic Tier")
	cfg.Logic.LinkTargets = p.Ask("  Agent link targets (comma-separated)", "ws://localhost:8080/ws/link")
	cfg.Logic.APIURL = p.Ask("  HTTP API URL", "http://localhost:8080")
	cfg.Logic.ServiceToken = p.AskSecret("  Service token")
	fmt.Fprintln(p.Out)

	fmt.Fprintln(p.Out, "Client Authentication")
	cfg.Auth.Mode = p.Choose("  Select token validation mode", []string{"hs256", "jwks", "none"}, 0)
	switch cfg.Auth.Mode {
	case "jwks":
		cfg.Auth.JWKSIssuer = p.Ask("  Issuer URL", "")
	case "hs256":
		cfg.Auth.JWTSecret = p.AskSecret("  Shared JWT secret (min 32 chars)")
	}
	fmt.Fprintln(p.Out)

	cfg.Logging.Level = p.Ask("Log level (debug/info/warn/error)", "info")

	fmt.Fprintln(p.Out)
	if outputPath == "" {
		outputPath = p.Ask("Config file output path", "./edge-config.json")
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(outputPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(p.Out, "\n  Config written to %s\n", outputPath)
	fmt.Fprintln(p.Out)
	fmt.Fprintln(p.Out, "  Next steps:")
	fmt.Fprintf(p.Out, "    loqui-edge run %s\n\n", outputPath)
	return nil
}
