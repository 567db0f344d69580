package commands

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/schema"
)

func newTemplateCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "template <entity>",
		Short: "Print the sample CSV for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			registry, err := schema.Load(cfg.Import.SchemaFile)
			if err != nil {
				return err
			}
			sc, err := registry.Schema(core.EntityKind(args[0]))
			if err != nil {
				return err
			}

			csv := schema.TemplateCSV(sc)
			if out == "" {
				_, err = io.WriteString(cmd.OutOrStdout(), csv)
				return err
			}
			return os.WriteFile(out, []byte(csv), 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newSchemasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "List importable entities and their columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			registry, err := schema.Load(cfg.Import.SchemaFile)
			if err != nil {
				return err
			}
			return printSchemas(cmd.OutOrStdout(), registry.Schemas())
		},
	}
}

func printSchemas(w io.Writer, schemas []*core.Schema) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tLABEL\tCOLUMNS")
	for _, sc := range schemas {
		cols := make([]string, len(sc.Fields))
		for i, f := range sc.Fields {
			cols[i] = f.Name
			if f.Required {
				cols[i] += "*"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", sc.Entity, sc.Label, strings.Join(cols, ", "))
	}
	return tw.Flush()
}
