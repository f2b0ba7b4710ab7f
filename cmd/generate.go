package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/koustreak/pgshape/internal/schema"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	save        bool
	parallelism int
)

var GenerateCmd = &cobra.Command{
	Use:   "generate [tables...]",
	Short: "Print table schemas",
	Long: `Generate the validation schema of each table and print them as one JSON
object keyed by table name.

Without arguments the configured tables are generated, or every table of
the catalog schema when none are configured. With --save each schema is
also written to the configured cache.`,
	RunE: runGenerate,
}

func init() {
	GenerateCmd.Flags().BoolVar(&save, "save", false, "Write generated schemas to the cache")
	GenerateCmd.Flags().IntVarP(&parallelism, "parallel", "p", 4, "Tables generated concurrently")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	tables := args
	if len(tables) == 0 {
		tables = cfg.TableNames()
	}
	if len(tables) == 0 {
		if tables, err = a.catalog.Tables(ctx); err != nil {
			return err
		}
	}

	generate := func(ctx context.Context, tbl string) (*schema.TableSchema, error) {
		keys, err := a.keysFor(ctx, cfg, tbl)
		if err != nil {
			return nil, err
		}
		if save {
			return a.cached.Refresh(ctx, tbl, keys)
		}
		return a.gen.Generate(ctx, tbl, keys)
	}

	schemas, err := generateAll(ctx, tables, parallelism, generate)
	if err != nil {
		return err
	}
	return writeSchemas(cmd.OutOrStdout(), schemas)
}

// generateAll runs generate for every table, at most limit at a time. The
// first failure cancels the rest.
func generateAll(ctx context.Context, tables []string, limit int,
	generate func(context.Context, string) (*schema.TableSchema, error),
) ([]*schema.TableSchema, error) {
	out := make([]*schema.TableSchema, len(tables))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, tbl := range tables {
		g.Go(func() error {
			s, err := generate(ctx, tbl)
			if err != nil {
				return fmt.Errorf("generate %q: %w", tbl, err)
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func writeSchemas(w io.Writer, schemas []*schema.TableSchema) error {
	byTable := make(map[string]*schema.TableSchema, len(schemas))
	for _, s := range schemas {
		byTable[s.Table] = s
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(byTable)
}
