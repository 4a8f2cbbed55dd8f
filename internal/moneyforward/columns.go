// Package moneyforward adapts MoneyForward ME "income and expense detail"
// CSV exports (収入・支出詳細) to the transactions table.
package moneyforward

// Destination column names.
const (
	ColumnIsTarget      = "is_target"
	ColumnDate          = "date"
	ColumnContent       = "content"
	ColumnAmount        = "amount"
	ColumnInstitution   = "institution"
	ColumnMajorCategory = "major_category"
	ColumnMinorCategory = "minor_category"
	ColumnMemo          = "memo"
	ColumnIsTransfer    = "is_transfer"
	ColumnID            = "id"
	ColumnSource        = "source"
	ColumnLoadedAt      = "loaded_at"
)

// DateLayout is the layout of the 日付 column.
const DateLayout = "2006/01/02"

// DefaultEncoding is the label of the charset MoneyForward exports use.
const DefaultEncoding = "shift-jis"

type exportColumn struct {
	Header string
	Column string
}

// exportColumns lists the export header in file order.
var exportColumns = []exportColumn{
	{Header: "計算対象", Column: ColumnIsTarget},
	{Header: "日付", Column: ColumnDate},
	{Header: "内容", Column: ColumnContent},
	{Header: "金額（円）", Column: ColumnAmount},
	{Header: "保有金融機関", Column: ColumnInstitution},
	{Header: "大項目", Column: ColumnMajorCategory},
	{Header: "中項目", Column: ColumnMinorCategory},
	{Header: "メモ", Column: ColumnMemo},
	{Header: "振替", Column: ColumnIsTransfer},
	{Header: "ID", Column: ColumnID},
}

// HeaderMapping returns export header to destination column.
func HeaderMapping() map[string]string {
	m := make(map[string]string, len(exportColumns))
	for _, c := range exportColumns {
		m[c.Header] = c.Column
	}
	return m
}
