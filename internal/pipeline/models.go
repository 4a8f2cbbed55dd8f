package pipeline

import (
	"fmt"
	"strings"

	bq "github.com/whiro/dami/internal/bigquery"
)

// ReplaceMode selects how the date window is replaced in the destination.
type ReplaceMode string

const (
	// ReplaceStaged loads into a staging table and swaps the window inside
	// one multi-statement transaction.
	ReplaceStaged ReplaceMode = "staged"

	// ReplaceDirect deletes the window with DML and then appends with a load
	// job. A failure between the two leaves the window without rows.
	ReplaceDirect ReplaceMode = "direct"
)

// ParseReplaceMode parses a mode name. The empty string selects ReplaceStaged.
func ParseReplaceMode(s string) (ReplaceMode, error) {
	switch m := ReplaceMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ReplaceStaged:
		return ReplaceStaged, nil
	case ReplaceDirect:
		return ReplaceDirect, nil
	}
	return "", fmt.Errorf("unknown replace mode %q (want %s or %s)", s, ReplaceStaged, ReplaceDirect)
}

// Request describes one import.
type Request struct {
	// Trigger names what started the import (cli, api, schedule).
	Trigger string

	// SourceURI imports this object instead of the latest one under the
	// configured prefix.
	SourceURI string

	// DryRun stops after validation. Nothing is written.
	DryRun bool
}

// ImportResult reports what an import did.
type ImportResult struct {
	RunID       string     `json:"run_id,omitempty"`
	SourceURI   string     `json:"source_uri,omitempty"`
	ReplaceMode string     `json:"replace_mode"`
	Window      *bq.Window `json:"window,omitempty"`
	Rows        int        `json:"rows"`
	RowsDeleted int64      `json:"rows_deleted"`
	RowsLoaded  int64      `json:"rows_loaded"`
	Skipped     bool       `json:"skipped"`
	SkipReason  string     `json:"skip_reason,omitempty"`
	DryRun      bool       `json:"dry_run,omitempty"`
}
