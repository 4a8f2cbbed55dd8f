package bigquery

import (
	bq "github.com/whiro/dami/internal/bigquery"
)

// Re-export row types from the shared package.
type TransactionRow = bq.TransactionRow
type ImportRunRow = bq.ImportRunRow

// transactionColumns is the column list read back by the transaction queries.
var transactionColumns = []string{
	"id",
	"is_target",
	"date",
	"content",
	"amount",
	"institution",
	"major_category",
	"minor_category",
	"memo",
	"is_transfer",
	"source",
	"loaded_at",
}
