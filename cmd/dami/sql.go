package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/cobra"

	"github.com/whiro/dami/internal/container"
	infra "github.com/whiro/dami/internal/infra/bigquery"
)

var (
	querySQL    string
	queryParams []string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a parameterised SQL query and print the rows as JSON",
	Example: `  dami query --sql 'SELECT major_category, SUM(amount) AS total
    FROM moneyforward.transactions WHERE date BETWEEN @start AND @end
    GROUP BY 1' --param start=2024-01-01 --param end=2024-01-31`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(querySQL) == "" {
			return fmt.Errorf("--sql is required")
		}
		values, err := parseParams(queryParams)
		if err != nil {
			return err
		}
		params, err := infra.Params(values)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		return withContainer(func(c *container.Container) error {
			warehouse, err := c.Warehouse(ctx)
			if err != nil {
				return err
			}
			f, err := warehouse.QueryFrame(ctx, querySQL, params)
			if err != nil {
				return err
			}
			log.Debug().Msg(f.Head(5))
			log.Info().Int("rows", f.Height()).Strs("columns", f.Columns()).Msg("query finished")
			return printJSON(f.Rows())
		})
	},
}

func init() {
	queryCmd.Flags().StringVar(&querySQL, "sql", "", "standard SQL with @named parameters")
	queryCmd.Flags().StringArrayVar(&queryParams, "param", nil, "name=value; a comma-separated value becomes an ARRAY parameter")
}

// parseParams turns name=value flags into typed values. Values are read as
// INT64, FLOAT64, BOOL, DATE (YYYY-MM-DD), TIMESTAMP (RFC 3339) or STRING,
// in that order.
func parseParams(flags []string) (map[string]any, error) {
	values := make(map[string]any, len(flags))
	for _, p := range flags {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --param %q (want name=value)", p)
		}
		if _, dup := values[name]; dup {
			return nil, fmt.Errorf("duplicate --param %q", name)
		}
		if strings.Contains(raw, ",") {
			var items []any
			for _, item := range strings.Split(raw, ",") {
				items = append(items, paramScalar(strings.TrimSpace(item)))
			}
			values[name] = items
			continue
		}
		values[name] = paramScalar(raw)
	}
	return values, nil
}

func paramScalar(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if s == "true" || s == "false" {
		return s == "true"
	}
	if d, err := civil.ParseDate(s); err == nil {
		return d
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return s
}
