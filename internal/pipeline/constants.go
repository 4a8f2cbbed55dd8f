package pipeline

import (
	"time"

	"github.com/whiro/dami/internal/moneyforward"
)

// Default values for locating and loading exports.
const (
	// DefaultSuffix selects export files under the prefix.
	DefaultSuffix = ".csv"

	// DefaultDateColumn is the column the replace window is computed over.
	DefaultDateColumn = moneyforward.ColumnDate

	TriggerCLI      = "cli"
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// Skip reasons reported in ImportResult.SkipReason.
const (
	SkipNoBlob = "no export found"
	SkipNoRows = "export has no rows"
)

// RunStatusTimeout bounds the final status write of a run. The write is
// detached from the import context so an aborted import still records it.
const RunStatusTimeout = 30 * time.Second
