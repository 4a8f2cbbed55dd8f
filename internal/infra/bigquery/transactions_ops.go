package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/whiro/dami/internal/schema"
)

// QueryTransactionsByDateRangeWithClient returns the transactions of table
// dated between startDate and endDate, both inclusive, ordered by date and id.
func QueryTransactionsByDateRangeWithClient(ctx context.Context, client *bigquery.Client, table schema.Table, startDate, endDate time.Time) ([]*TransactionRow, error) {
	q := client.Query(transactionsByDateSQL(table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: civil.DateOf(startDate)},
		{Name: "end_date", Value: civil.DateOf(endDate)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactionsByDateRange: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactionsByDateRange: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

func transactionsByDateSQL(table schema.Table) string {
	cols := make([]string, len(transactionColumns))
	for i, c := range transactionColumns {
		cols[i] = "t." + quoteIdent(c)
	}
	return fmt.Sprintf(`
		SELECT
			%s
		FROM %s t
		WHERE t.date >= @start_date
		  AND t.date <= @end_date
		ORDER BY t.date, t.id
	`, strings.Join(cols, ",\n\t\t\t"), quoteTable(table.Project, table.Dataset, table.Table))
}
