package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/olksdr/minidump-viewer/internal/config"
	"github.com/olksdr/minidump-viewer/internal/difprobe"
	"github.com/olksdr/minidump-viewer/internal/report"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema [overview|probe|config]",
		Short:     "Generate JSON schema",
		Long:      "Generate the JSON schema of the triage report, the probe result or the service configuration",
		Hidden:    true,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"overview", "probe", "config"},
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "overview"
			if len(args) == 1 {
				which = args[0]
			}
			var s *jsonschema.Schema
			reflector := new(jsonschema.Reflector)
			switch which {
			case "overview":
				s = reflector.Reflect(&report.Overview{})
			case "probe":
				s = reflector.Reflect(&difprobe.Meta{})
			case "config":
				s = config.Schema()
			default:
				return fmt.Errorf("unknown schema %q", which)
			}
			bts, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(bts))
			return nil
		},
	}
}
