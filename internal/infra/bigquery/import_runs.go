package bigquery

import (
	"github.com/whiro/dami/internal/schema"
)

const importRunsTable = "import_runs"

// ImportRunsTable describes project.dataset.import_runs.
func ImportRunsTable(project, dataset string) schema.Table {
	return schema.Table{
		Project:        project,
		Dataset:        dataset,
		Table:          importRunsTable,
		PartitionField: "started_ts",
		Fields: []schema.Field{
			{Name: "run_id", Type: schema.TypeString, Mode: schema.ModeRequired},
			{Name: "trigger", Type: schema.TypeString, Mode: schema.ModeRequired},
			{Name: "replace_mode", Type: schema.TypeString, Mode: schema.ModeRequired},
			{Name: "status", Type: schema.TypeString, Mode: schema.ModeRequired},
			{Name: "source_uri", Type: schema.TypeString, Mode: schema.ModeNullable},
			{Name: "started_ts", Type: schema.TypeTimestamp, Mode: schema.ModeRequired},
			{Name: "finished_ts", Type: schema.TypeTimestamp, Mode: schema.ModeNullable},
			{Name: "window_start", Type: schema.TypeDate, Mode: schema.ModeNullable},
			{Name: "window_end", Type: schema.TypeDate, Mode: schema.ModeNullable},
			{Name: "rows_deleted", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "rows_loaded", Type: schema.TypeInteger, Mode: schema.ModeNullable},
			{Name: "error_message", Type: schema.TypeString, Mode: schema.ModeNullable},
		},
	}
}
