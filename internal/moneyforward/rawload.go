package moneyforward

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.nownabe.dev/bqloader"
	"golang.org/x/text/encoding/japanese"

	"github.com/whiro/dami/internal/schema"
)

// RawLoadHandler builds a bqloader handler that lands every export matching
// pattern, unmodified apart from date formatting, into the raw table.
func RawLoadHandler(name, pattern string, table schema.Table, notifier bqloader.Notifier) (*bqloader.Handler, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("RawLoadHandler: pattern: %w", err)
	}

	return &bqloader.Handler{
		Name:            name,
		Pattern:         re,
		SkipLeadingRows: 1,

		Encoding:  japanese.ShiftJIS,
		Parser:    bqloader.CSVParser(),
		Projector: rawProjector,
		Notifier:  notifier,

		Project: table.Project,
		Dataset: table.Dataset,
		Table:   table.Table,
	}, nil
}

// rawProjector rewrites the 日付 column to ISO format and drops thousands
// separators from the amount.
func rawProjector(_ context.Context, r []string) ([]string, error) {
	if len(r) != len(exportColumns) {
		return nil, fmt.Errorf("raw record has %d columns, want %d", len(r), len(exportColumns))
	}

	// 1: date (日付)
	t, err := time.Parse(DateLayout, strings.TrimSpace(r[1]))
	if err != nil {
		return nil, err
	}
	r[1] = t.Format("2006-01-02")

	// 3: amount (金額（円）)
	r[3] = strings.ReplaceAll(strings.TrimSpace(r[3]), ",", "")

	return r, nil
}
