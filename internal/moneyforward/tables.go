package moneyforward

import (
	_ "embed"
	"fmt"

	"github.com/whiro/dami/internal/schema"
)

//go:embed transactions.yaml
var transactionsYAML []byte

//go:embed raw_transactions.yaml
var rawTransactionsYAML []byte

// TableSchema returns the transactions table. Empty arguments keep the
// defaults from the embedded definition.
func TableSchema(project, dataset, table string) (schema.Table, error) {
	return embeddedTable(transactionsYAML, project, dataset, table)
}

// RawTableSchema returns the landing table the raw loader writes to.
func RawTableSchema(project, dataset, table string) (schema.Table, error) {
	return embeddedTable(rawTransactionsYAML, project, dataset, table)
}

func embeddedTable(data []byte, project, dataset, table string) (schema.Table, error) {
	t, err := schema.Parse(data)
	if err != nil {
		return schema.Table{}, fmt.Errorf("moneyforward: embedded schema: %w", err)
	}
	return t.WithLocation(project, dataset, table), nil
}
