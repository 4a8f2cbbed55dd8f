package moneyforward

import (
	"bytes"
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"

	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/schema"
)

const exportCSV = `"計算対象","日付","内容","金額（円）","保有金融機関","大項目","中項目","メモ","振替","ID"
"1","2024/01/31","コンビニ","-540","楽天カード","食費","食料品","","0","aB3xYz01"
"1","2024/01/05","給与","250000","三井住友銀行","収入","給与","1月分","0","aB3xYz02"
"0","2024/01/10","カード引き落とし","-30000","三井住友銀行","未分類","未分類","","1","aB3xYz03"
`

func readExport(t *testing.T) *frame.Frame {
	t.Helper()
	sjis, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(exportCSV))
	require.NoError(t, err)
	f, err := frame.ReadCSV(bytes.NewReader(sjis), frame.CSVOptions{Encoding: japanese.ShiftJIS})
	require.NoError(t, err)
	return f
}

func TestNormalize(t *testing.T) {
	updated := time.Date(2024, 2, 1, 3, 0, 0, 0, time.UTC)
	loadedAt := time.Date(2024, 2, 1, 4, 0, 0, 0, time.UTC)
	src := Source{URI: "gs://whiro-dami-storage/mf_records/export.csv", Updated: updated}

	f, err := Normalize(readExport(t), src, loadedAt)
	require.NoError(t, err)

	assert.Equal(t, OutputColumns(), f.Columns())
	assert.Equal(t, 3, f.Height())

	row := f.Row(0)
	assert.Equal(t, true, row[ColumnIsTarget])
	assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 31}, row[ColumnDate])
	assert.Equal(t, "コンビニ", row[ColumnContent])
	assert.Equal(t, int64(-540), row[ColumnAmount])
	assert.Equal(t, "楽天カード", row[ColumnInstitution])
	assert.Nil(t, row[ColumnMemo])
	assert.Equal(t, false, row[ColumnIsTransfer])
	assert.Equal(t, "aB3xYz01", row[ColumnID])
	assert.Equal(t, map[string]any{"uri": src.URI, "updated": updated}, row[ColumnSource])
	assert.Equal(t, loadedAt, row[ColumnLoadedAt])

	assert.Equal(t, "1月分", f.Row(1)[ColumnMemo])
	assert.Equal(t, true, f.Row(2)[ColumnIsTransfer])

	table, err := TableSchema("", "", "")
	require.NoError(t, err)
	require.NoError(t, schema.Validate(f, table))
	require.NoError(t, schema.CheckRequired(f, table))
}

func TestNormalize_NumericIDsBecomeStrings(t *testing.T) {
	raw, err := frame.ReadCSV(bytes.NewBufferString(
		"計算対象,日付,内容,金額（円）,保有金融機関,大項目,中項目,メモ,振替,ID\n"+
			"1,2024/03/01,a,-100,b,c,d,,0,12345\n"), frame.CSVOptions{})
	require.NoError(t, err)

	f, err := Normalize(raw, Source{URI: "gs://b/x.csv"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "12345", f.Row(0)[ColumnID])
	assert.Equal(t, map[string]any{"uri": "gs://b/x.csv", "updated": nil}, f.Row(0)[ColumnSource])
}

func TestNormalize_Errors(t *testing.T) {
	const header = "計算対象,日付,内容,金額（円）,保有金融機関,大項目,中項目,メモ,振替,ID\n"
	read := func(t *testing.T, body string) *frame.Frame {
		t.Helper()
		f, err := frame.ReadCSV(bytes.NewBufferString(header+body), frame.CSVOptions{})
		require.NoError(t, err)
		return f
	}

	missing, err := readExport(t).Select("日付", "内容")
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  *frame.Frame
		want string
	}{
		{"missing column", missing, `missing column "計算対象"`},
		{"bad date", read(t, "1,2024-03-01,a,-100,b,c,d,,0,x\n"), "parse date"},
		{"bad flag", read(t, "2,2024/03/01,a,-100,b,c,d,,0,x\n"), "is_target"},
		{"bad amount", read(t, "1,2024/03/01,a,百円,b,c,d,,0,x\n"), "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw, Source{}, time.Now())
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.want)

			var exportErr *ExportError
			assert.ErrorAs(t, err, &exportErr)
		})
	}
}

func TestTableSchema(t *testing.T) {
	table, err := TableSchema("proj", "", "")
	require.NoError(t, err)
	assert.Equal(t, "proj.moneyforward.transactions", table.ID())
	assert.Equal(t, ColumnDate, table.PartitionField)
	assert.Equal(t, OutputColumns(), table.ColumnNames())

	raw, err := RawTableSchema("", "landing", "")
	require.NoError(t, err)
	assert.Equal(t, "strange-oxide-138404.landing.raw_transactions", raw.ID())
	assert.Len(t, raw.Fields, len(exportColumns))
}

func TestRawProjector(t *testing.T) {
	rec := []string{"1", "2024/01/31", "コンビニ", "-1,540", "楽天カード", "食費", "食料品", "", "0", "id1"}
	got, err := rawProjector(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-31", got[1])
	assert.Equal(t, "-1540", got[3])

	_, err = rawProjector(context.Background(), []string{"1", "2024/01/31"})
	assert.ErrorContains(t, err, "want 10")

	rec[1] = "31/01/2024"
	_, err = rawProjector(context.Background(), rec)
	assert.Error(t, err)
}

func TestRawLoadHandler(t *testing.T) {
	table, err := RawTableSchema("", "", "")
	require.NoError(t, err)

	h, err := RawLoadHandler("MoneyForward", `^mf_records/.+\.csv$`, table, nil)
	require.NoError(t, err)
	assert.Equal(t, "MoneyForward", h.Name)
	assert.True(t, h.Pattern.MatchString("mf_records/収入・支出詳細_2024-01-01_2024-01-31.csv"))
	assert.False(t, h.Pattern.MatchString("other/x.csv"))
	assert.Equal(t, "raw_transactions", h.Table)
	assert.Equal(t, japanese.ShiftJIS, h.Encoding)

	_, err = RawLoadHandler("bad", "(", table, nil)
	assert.Error(t, err)
}
