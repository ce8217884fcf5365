package main

import (
	"context"
	"fmt"
	"io"
	"net/url"

	sq "github.com/Masterminds/squirrel"
	"github.com/edgeflare/pgrest/pkg/rest"
	"github.com/edgeflare/pgrest/pkg/rest/compiler"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

var compileCmd = &cobra.Command{
	Use:   "compile <resource> [query]",
	Short: "Print the SQL of a query without running it",
	Long: `Parses a PostgREST query string and prints the root statement, its count
statement and one statement per embedded association. Preload statements show
$parent_keys where the parent keys are bound at run time.`,
	Example: `  pgrest compile users 'select=id,posts(title)&posts.limit=3&status=eq.active' -r resources.yaml`,
	Args:    cobra.RangeArgs(1, 2),
	RunE:    runCompile,
}

func runCompile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var pool *pgxpool.Pool
	if cfg.REST.ResourcesFile == "" {
		var err error
		if pool, err = connect(ctx); err != nil {
			return err
		}
		defer pool.Close()
	}
	reg, err := loadRegistry(ctx, pool)
	if err != nil {
		return err
	}
	res, err := reg.Lookup(args[0])
	if err != nil {
		return fmt.Errorf("%w, registered: %v", err, reg.Names())
	}

	var raw string
	if len(args) > 1 {
		raw = args[1]
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return err
	}

	p, err := newPipeline(nil)
	if err != nil {
		return err
	}
	req, err := p.Parse(res, values)
	if err != nil {
		return err
	}
	plan, err := p.Compile(ctx, res, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := printStatement(out, res.Name, plan.Query); err != nil {
		return err
	}
	if err := printStatement(out, "count", rest.CountQuery(plan)); err != nil {
		return err
	}
	return printPreloads(ctx, out, plan.Preloads)
}

func printPreloads(ctx context.Context, out io.Writer, preloads []*compiler.Preload) error {
	for _, pl := range preloads {
		if pl.Empty {
			fmt.Fprintf(out, "-- preload %s: skipped, anti-join parents have no rows\n", pl.Path)
			continue
		}
		related := pl.Resource()
		q := pl.Query(related.Hooks.Scope(ctx, compiler.From(related)), []any{"$parent_keys"})
		if err := printStatement(out, "preload "+pl.Path+" as "+pl.Key, q); err != nil {
			return err
		}
		if err := printPreloads(ctx, out, pl.Children()); err != nil {
			return err
		}
	}
	return nil
}

func printStatement(out io.Writer, title string, q sq.Sqlizer) error {
	sql, args, err := q.ToSql()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "-- %s\n%s;\n", title, sql)
	if len(args) > 0 {
		fmt.Fprintf(out, "-- args: %v\n", args)
	}
	return nil
}
