package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/table"
	"github.com/koustreak/pgshape/internal/validate"
	"github.com/spf13/cobra"
)

var ValidateCmd = &cobra.Command{
	Use:   "validate <table> [file]",
	Short: "Validate and normalize a JSON row",
	Long: `Validate a JSON object against the table's schema and print the
normalized row. The row is read from file, or from stdin when no file is
given. Field errors are printed one per line and the command fails.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runValidate,
}

// modelSource is the part of *table.Registry validate needs.
type modelSource interface {
	Model(ctx context.Context, table string) (*table.Model, error)
}

func runValidate(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 2 {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	return validateRow(cmd.Context(), a.models, args[0], in, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

func validateRow(ctx context.Context, models modelSource, tbl string, in io.Reader, out, errOut io.Writer) error {
	var row map[string]any
	if err := json.NewDecoder(in).Decode(&row); err != nil {
		return errs.Wrap(errs.ErrKindInvalidInput, "row is not a JSON object", err)
	}

	m, err := models.Model(ctx, tbl)
	if err != nil {
		return err
	}
	normalized, err := m.Normalize(row)
	if fields, ok := validate.FieldErrors(err); ok {
		for _, f := range fields {
			fmt.Fprintf(errOut, "%s: %s\n", f.Path, f.Message)
		}
		return fmt.Errorf("row rejected for table %q: %d field error(s)", tbl, len(fields))
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(normalized)
}
