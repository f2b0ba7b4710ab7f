package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/koustreak/pgshape/internal/registry"
	"github.com/spf13/cobra"
)

var TypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the type names the validator knows",
	Long: `List the type names the validator checks directly and the ones that
carry a coercion. A user-defined column whose type is listed resolves as a
plain column instead of being expanded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeTypes(cmd.OutOrStdout(), registry.Default())
	},
}

func writeTypes(w io.Writer, r *registry.Registry) error {
	_, err := fmt.Fprintf(w, "known:     %s\ncoercible: %s\n",
		strings.Join(r.KnownTypes(), " "),
		strings.Join(r.CoercibleTypes(), " "))
	return err
}
