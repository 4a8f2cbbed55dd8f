package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whiro/dami/internal/container"
	infra "github.com/whiro/dami/internal/infra/bigquery"
	"github.com/whiro/dami/internal/schema"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the datasets and tables if they do not exist",
	Long: `Creates the transactions table, the raw landing table and the import_runs
table. Existing tables are left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withContainer(func(c *container.Container) error {
			tables, err := migrationTables(c)
			if err != nil {
				return err
			}
			warehouse, err := c.Warehouse(ctx)
			if err != nil {
				return err
			}
			for _, t := range tables {
				log.Info().Str("table", t.ID()).Msg("ensuring table")
				if err := warehouse.EnsureTable(ctx, t); err != nil {
					return fmt.Errorf("migrate %s: %w", t.ID(), err)
				}
			}
			log.Info().Int("tables", len(tables)).Msg("migration completed")
			return nil
		})
	},
}

func migrationTables(c *container.Container) ([]schema.Table, error) {
	transactions, err := c.TransactionsTable()
	if err != nil {
		return nil, err
	}
	raw, err := c.RawTable()
	if err != nil {
		return nil, err
	}
	s := c.Settings()
	return []schema.Table{
		transactions,
		raw,
		infra.ImportRunsTable(s.GCPProject, s.RunsDataset),
	}, nil
}
