package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	pg "github.com/edgeflare/pgrest/pkg/pgx"
	"github.com/edgeflare/pgrest/pkg/resource"
	"github.com/edgeflare/pgrest/pkg/rest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var readCmd = &cobra.Command{
	Use:     "read <resource> [query]",
	Short:   "Run a read and print the rows as JSON",
	Example: `  pgrest read users 'select=id,name,posts(title)&order=id&limit=10' --count exact`,
	Args:    cobra.RangeArgs(1, 2),
	RunE:    runRead,
}

func init() {
	addCountFlags(readCmd)
}

func addCountFlags(cmd *cobra.Command) {
	cmd.Flags().String("count", "", "count mode (exact, planned, estimated)")
	cmd.Flags().String("prefer", "", "Prefer header value, e.g. count=planned")
}

// readArgs is a parsed `<resource> [query]` invocation.
type readArgs struct {
	resource string
	values   url.Values
	mode     rest.CountMode
}

func parseReadArgs(cmd *cobra.Command, args []string) (*readArgs, error) {
	var raw string
	if len(args) > 1 {
		raw = args[1]
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, err
	}

	countFlag, _ := cmd.Flags().GetString("count")
	preferFlag, _ := cmd.Flags().GetString("prefer")
	mode, err := rest.ParseCountMode(countFlag)
	if err != nil {
		return nil, err
	}
	if mode == rest.CountNone {
		mode = rest.ParsePrefer(preferFlag).CountMode()
	}
	return &readArgs{resource: args[0], values: values, mode: mode}, nil
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ra, err := parseReadArgs(cmd, args)
	if err != nil {
		return err
	}

	pool, err := connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	reg, err := loadRegistry(ctx, pool)
	if err != nil {
		return err
	}
	p, err := newPipeline(pg.NewDB(pool))
	if err != nil {
		return err
	}
	return readTo(ctx, cmd.OutOrStdout(), p, reg, ra)
}

// readTo runs ra against reg and writes the rows as indented JSON.
func readTo(ctx context.Context, out io.Writer, p *rest.Pipeline, reg *resource.Registry, ra *readArgs) error {
	res, err := reg.Lookup(ra.resource)
	if err != nil {
		return fmt.Errorf("%w, registered: %v", err, reg.Names())
	}
	req, err := p.Parse(res, ra.values)
	if err != nil {
		return err
	}
	result, err := p.Read(ctx, res, req, ra.mode)
	if err != nil {
		return err
	}

	if result.Range != nil {
		logger.Info("range",
			zap.String("resource", res.Name),
			zap.String("content_range", result.Range.ContentRange()),
			zap.Stringer("status", result.Range.Status()))
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result.Rows)
}
