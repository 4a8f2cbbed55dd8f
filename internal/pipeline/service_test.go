package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/gcs"
	"github.com/whiro/dami/internal/moneyforward"
	"github.com/whiro/dami/internal/schema"
)

const exportCSV = `計算対象,日付,内容,金額（円）,保有金融機関,大項目,中項目,メモ,振替,ID
1,2024/01/31,コンビニ,-540,楽天カード,食費,食料品,,0,id1
1,2024/01/05,給与,250000,三井住友銀行,収入,給与,,0,id2
0,2024/01/20,カード引き落とし,-10000,三井住友銀行,未分類,未分類,,1,id3
`

var (
	blobUpdated = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	loadedAt    = time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	january     = bq.Window{
		Start: civil.Date{Year: 2024, Month: time.January, Day: 5},
		End:   civil.Date{Year: 2024, Month: time.January, Day: 31},
	}
)

// mockStore is an in-memory ObjectStore.
type mockStore struct {
	blobs map[string]*storage.ObjectAttrs
	raw   string

	GetLatestBlobFunc func(ctx context.Context, prefix gcs.Location, suffix string) (*storage.ObjectAttrs, error)
}

func newMockStore() *mockStore {
	return &mockStore{
		blobs: map[string]*storage.ObjectAttrs{
			"gs://bucket/mf_records/2024-02.csv": {Bucket: "bucket", Name: "mf_records/2024-02.csv", Updated: blobUpdated},
		},
		raw: exportCSV,
	}
}

func (m *mockStore) GetBlob(ctx context.Context, loc gcs.Location) (*storage.ObjectAttrs, error) {
	attrs, ok := m.blobs[loc.URI()]
	if !ok {
		return nil, &gcs.BlobNotFoundError{Location: loc}
	}
	return attrs, nil
}

func (m *mockStore) GetLatestBlob(ctx context.Context, prefix gcs.Location, suffix string) (*storage.ObjectAttrs, error) {
	if m.GetLatestBlobFunc != nil {
		return m.GetLatestBlobFunc(ctx, prefix, suffix)
	}
	return m.blobs["gs://bucket/mf_records/2024-02.csv"], nil
}

func (m *mockStore) DownloadFrame(ctx context.Context, attrs *storage.ObjectAttrs, enc encoding.Encoding) (*frame.Frame, error) {
	return frame.ReadCSV(strings.NewReader(m.raw), frame.CSVOptions{Encoding: enc})
}

// mockWarehouse records the calls made against it.
type mockWarehouse struct {
	calls   []string
	frames  []*frame.Frame
	windows []bq.Window

	InsertFrameFunc      func(ctx context.Context, f *frame.Frame, table schema.Table) (int64, error)
	DeleteDateRangeFunc  func(ctx context.Context, table schema.Table, column string, w bq.Window) (int64, error)
	ReplaceDateRangeFunc func(ctx context.Context, f *frame.Frame, table schema.Table, column string, w bq.Window) (bq.ReplaceResult, error)
}

func (m *mockWarehouse) InsertFrame(ctx context.Context, f *frame.Frame, table schema.Table) (int64, error) {
	m.calls = append(m.calls, "insert")
	m.frames = append(m.frames, f)
	if m.InsertFrameFunc != nil {
		return m.InsertFrameFunc(ctx, f, table)
	}
	return int64(f.Height()), nil
}

func (m *mockWarehouse) DeleteDateRange(ctx context.Context, table schema.Table, column string, w bq.Window) (int64, error) {
	m.calls = append(m.calls, "delete")
	m.windows = append(m.windows, w)
	if m.DeleteDateRangeFunc != nil {
		return m.DeleteDateRangeFunc(ctx, table, column, w)
	}
	return 7, nil
}

func (m *mockWarehouse) ReplaceDateRange(ctx context.Context, f *frame.Frame, table schema.Table, column string, w bq.Window) (bq.ReplaceResult, error) {
	m.calls = append(m.calls, "replace")
	m.frames = append(m.frames, f)
	m.windows = append(m.windows, w)
	if m.ReplaceDateRangeFunc != nil {
		return m.ReplaceDateRangeFunc(ctx, f, table, column, w)
	}
	return bq.ReplaceResult{RowsDeleted: 7, RowsLoaded: int64(f.Height())}, nil
}

// mockRuns records run lifecycle calls.
type mockRuns struct {
	started      []string
	succeeded    []bq.ImportRunResult
	failedStatus []bq.ImportRunStatus
	failedErr    []error

	MarkImportRunSucceededFunc func(ctx context.Context, runID string, result bq.ImportRunResult) error
	MarkImportRunFailedFunc    func(ctx context.Context, runID string, status bq.ImportRunStatus, runErr error)
}

func (m *mockRuns) StartImportRun(ctx context.Context, trigger, replaceMode string) (string, error) {
	m.started = append(m.started, trigger+"/"+replaceMode)
	return "run-1", nil
}

func (m *mockRuns) MarkImportRunSucceeded(ctx context.Context, runID string, result bq.ImportRunResult) error {
	if m.MarkImportRunSucceededFunc != nil {
		return m.MarkImportRunSucceededFunc(ctx, runID, result)
	}
	m.succeeded = append(m.succeeded, result)
	return nil
}

func (m *mockRuns) MarkImportRunFailed(ctx context.Context, runID string, status bq.ImportRunStatus, runErr error) {
	if m.MarkImportRunFailedFunc != nil {
		m.MarkImportRunFailedFunc(ctx, runID, status, runErr)
	}
	m.failedStatus = append(m.failedStatus, status)
	m.failedErr = append(m.failedErr, runErr)
}

func newTestService(t *testing.T, store *mockStore, wh *mockWarehouse, runs *mockRuns, mode ReplaceMode) *ImportService {
	t.Helper()
	table, err := moneyforward.TableSchema("test-project", "moneyforward", "transactions")
	require.NoError(t, err)
	s := NewImportService(store, wh, runs, Options{
		Prefix:      gcs.Location{Bucket: "bucket", Path: "mf_records/"},
		Table:       table,
		ReplaceMode: mode,
	})
	s.now = func() time.Time { return loadedAt }
	return s
}

func TestNewImportService_Defaults(t *testing.T) {
	s := NewImportService(nil, nil, nil, Options{})
	opts := s.Options()
	assert.Equal(t, DefaultSuffix, opts.Suffix)
	assert.Equal(t, "date", opts.DateColumn)
	assert.Equal(t, ReplaceStaged, opts.ReplaceMode)
}

func TestInsertLatestCSV_Staged(t *testing.T) {
	store, wh, runs := newMockStore(), &mockWarehouse{}, &mockRuns{}
	var gotPrefix gcs.Location
	var gotSuffix string
	store.GetLatestBlobFunc = func(ctx context.Context, prefix gcs.Location, suffix string) (*storage.ObjectAttrs, error) {
		gotPrefix, gotSuffix = prefix, suffix
		return store.blobs["gs://bucket/mf_records/2024-02.csv"], nil
	}
	s := newTestService(t, store, wh, runs, ReplaceStaged)

	res, err := s.InsertLatestCSV(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "gs://bucket/mf_records/", gotPrefix.URI())
	assert.Equal(t, ".csv", gotSuffix)

	assert.Equal(t, &ImportResult{
		RunID:       "run-1",
		SourceURI:   "gs://bucket/mf_records/2024-02.csv",
		ReplaceMode: "staged",
		Window:      &january,
		Rows:        3,
		RowsDeleted: 7,
		RowsLoaded:  3,
	}, res)

	assert.Equal(t, []string{"replace"}, wh.calls)
	assert.Equal(t, []bq.Window{january}, wh.windows)
	assert.Equal(t, moneyforward.OutputColumns(), wh.frames[0].Columns())

	loaded, _ := wh.frames[0].Column("loaded_at")
	assert.Equal(t, loadedAt, loaded.Value(0))
	source, _ := wh.frames[0].Column("source")
	assert.Equal(t, map[string]any{"uri": "gs://bucket/mf_records/2024-02.csv", "updated": blobUpdated}, source.Value(2))

	assert.Equal(t, []string{"cli/staged"}, runs.started)
	require.Len(t, runs.succeeded, 1)
	assert.Equal(t, bq.ImportRunResult{
		Status:      bq.ImportRunSuccess,
		SourceURI:   "gs://bucket/mf_records/2024-02.csv",
		Window:      &january,
		RowsDeleted: 7,
		RowsLoaded:  3,
	}, runs.succeeded[0])
	assert.Empty(t, runs.failedStatus)
}

func TestImport_Direct(t *testing.T) {
	store, wh, runs := newMockStore(), &mockWarehouse{}, &mockRuns{}
	s := newTestService(t, store, wh, runs, ReplaceDirect)

	res, err := s.Import(context.Background(), Request{Trigger: TriggerAPI})
	require.NoError(t, err)

	assert.Equal(t, []string{"delete", "insert"}, wh.calls)
	assert.Equal(t, []bq.Window{january}, wh.windows)
	assert.Equal(t, int64(7), res.RowsDeleted)
	assert.Equal(t, int64(3), res.RowsLoaded)
	assert.Equal(t, "direct", res.ReplaceMode)
	assert.Equal(t, []string{"api/direct"}, runs.started)
	assert.Len(t, runs.succeeded, 1)
}

func TestImport_DirectLoadFailureIsPartial(t *testing.T) {
	store, runs := newMockStore(), &mockRuns{}
	loadErr := errors.New("load job failed")
	wh := &mockWarehouse{
		InsertFrameFunc: func(ctx context.Context, f *frame.Frame, table schema.Table) (int64, error) {
			return 0, loadErr
		},
	}
	s := newTestService(t, store, wh, runs, ReplaceDirect)

	res, err := s.InsertLatestCSV(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, loadErr)

	var partial *PartialReplaceError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, january, partial.Window)
	assert.Equal(t, int64(7), partial.RowsDeleted)

	assert.Equal(t, int64(7), res.RowsDeleted)
	assert.Zero(t, res.RowsLoaded)
	assert.Equal(t, []bq.ImportRunStatus{bq.ImportRunPartial}, runs.failedStatus)
	assert.Empty(t, runs.succeeded)
}

func TestImport_CancelledLoadStillMarksPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		markErr     = errors.New("not called")
		hasDeadline bool
	)
	store := newMockStore()
	runs := &mockRuns{
		MarkImportRunFailedFunc: func(ctx context.Context, runID string, status bq.ImportRunStatus, runErr error) {
			markErr = ctx.Err()
			_, hasDeadline = ctx.Deadline()
		},
	}
	wh := &mockWarehouse{
		InsertFrameFunc: func(c context.Context, f *frame.Frame, table schema.Table) (int64, error) {
			cancel()
			return 0, c.Err()
		},
	}
	s := newTestService(t, store, wh, runs, ReplaceDirect)

	_, err := s.Import(ctx, Request{})
	require.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, markErr)
	assert.True(t, hasDeadline)
	assert.Equal(t, []bq.ImportRunStatus{bq.ImportRunPartial}, runs.failedStatus)
}

func TestImport_CancelledAfterLoadStillMarksSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	markErr := errors.New("not called")
	store := newMockStore()
	runs := &mockRuns{
		MarkImportRunSucceededFunc: func(ctx context.Context, runID string, result bq.ImportRunResult) error {
			markErr = ctx.Err()
			return nil
		},
	}
	wh := &mockWarehouse{
		ReplaceDateRangeFunc: func(c context.Context, f *frame.Frame, table schema.Table, column string, w bq.Window) (bq.ReplaceResult, error) {
			cancel()
			return bq.ReplaceResult{RowsDeleted: 1, RowsLoaded: int64(f.Height())}, nil
		},
	}
	s := newTestService(t, store, wh, runs, ReplaceStaged)

	res, err := s.Import(ctx, Request{})
	require.NoError(t, err)
	assert.NoError(t, markErr)
	assert.Equal(t, int64(3), res.RowsLoaded)
}

func TestImport_DirectDeleteFailureIsFailed(t *testing.T) {
	store, runs := newMockStore(), &mockRuns{}
	wh := &mockWarehouse{
		DeleteDateRangeFunc: func(ctx context.Context, table schema.Table, column string, w bq.Window) (int64, error) {
			return 0, errors.New("dml failed")
		},
	}
	s := newTestService(t, store, wh, runs, ReplaceDirect)

	_, err := s.InsertLatestCSV(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"delete"}, wh.calls)
	assert.Equal(t, []bq.ImportRunStatus{bq.ImportRunFailed}, runs.failedStatus)
}

func TestImport_StagedFailureIsFailed(t *testing.T) {
	store, runs := newMockStore(), &mockRuns{}
	wh := &mockWarehouse{
		ReplaceDateRangeFunc: func(ctx context.Context, f *frame.Frame, table schema.Table, column string, w bq.Window) (bq.ReplaceResult, error) {
			return bq.ReplaceResult{}, errors.New("transaction aborted")
		},
	}
	s := newTestService(t, store, wh, runs, ReplaceStaged)

	_, err := s.InsertLatestCSV(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline step 7 failed")
	assert.Equal(t, []bq.ImportRunStatus{bq.ImportRunFailed}, runs.failedStatus)
}

func TestImport_NoBlobIsSkipped(t *testing.T) {
	store, wh, runs := newMockStore(), &mockWarehouse{}, &mockRuns{}
	store.GetLatestBlobFunc = func(ctx context.Context, prefix gcs.Location, suffix string) (*storage.ObjectAttrs, error) {
		return nil, nil
	}
	s := newTestService(t, store, wh, runs, ReplaceStaged)

	res, err := s.InsertLatestCSV(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipNoBlob, res.SkipReason)
	assert.Empty(t, wh.calls)
	assert.Empty(t, runs.started)
}

func TestImport_HeaderOnlyExportIsSkipped(t *testing.T) {
	store, wh, runs := newMockStore(), &mockWarehouse{}, &mockRuns{}
	store.raw = strings.SplitN(exportCSV, "\n", 2)[0] + "\n"
	s := newTestService(t, store, wh, runs, ReplaceStaged)

	res, err := s.InsertLatestCSV(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipNoRows, res.SkipReason)
	assert.Equal(t, "gs://bucket/mf_records/2024-02.csv", res.SourceURI)
	assert.Empty(t, wh.calls)
	assert.Empty(t, runs.started)
}

func TestImport_DryRun(t *testing.T) {
	store, wh, runs := newMockStore(), &mockWarehouse{}, &mockRuns{}
	s := newTestService(t, store, wh, runs, ReplaceStaged)

	res, err := s.Import(context.Background(), Request{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.False(t, res.Skipped)
	assert.Equal(t, &january, res.Window)
	assert.Equal(t, 3, res.Rows)
	assert.Empty(t, res.RunID)
	assert.Empty(t, wh.calls)
	assert.Empty(t, runs.started)
}

func TestImport_InvalidExportWritesNothing(t *testing.T) {
	store, wh, runs := newMockStore(), &mockWarehouse{}, &mockRuns{}
	store.raw = strings.Replace(exportCSV, "2024/01/31", "31.01.2024", 1)
	s := newTestService(t, store, wh, runs, ReplaceStaged)

	_, err := s.InsertLatestCSV(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline step 3 failed")
	var exportErr *moneyforward.ExportError
	assert.ErrorAs(t, err, &exportErr)
	assert.Empty(t, wh.calls)
	assert.Empty(t, runs.started)
	assert.Empty(t, runs.failedStatus)
}

func TestImport_SourceURI(t *testing.T) {
	store, wh, runs := newMockStore(), &mockWarehouse{}, &mockRuns{}
	store.blobs["gs://bucket/mf_records/older.csv"] = &storage.ObjectAttrs{Bucket: "bucket", Name: "mf_records/older.csv"}
	s := newTestService(t, store, wh, runs, ReplaceStaged)

	res, err := s.Import(context.Background(), Request{SourceURI: "gs://bucket/mf_records/older.csv"})
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/mf_records/older.csv", res.SourceURI)

	source, _ := wh.frames[0].Column("source")
	assert.Equal(t, map[string]any{"uri": "gs://bucket/mf_records/older.csv", "updated": nil}, source.Value(0))

	_, err = s.Import(context.Background(), Request{SourceURI: "gs://bucket/missing.csv"})
	var notFound *gcs.BlobNotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = s.Import(context.Background(), Request{SourceURI: "gs://bucket/"})
	assert.Error(t, err)
}

func TestImport_MarkSucceededFailureKeepsLoadedRun(t *testing.T) {
	store, wh := newMockStore(), &mockWarehouse{}
	runs := &mockRuns{
		MarkImportRunSucceededFunc: func(ctx context.Context, runID string, result bq.ImportRunResult) error {
			return errors.New("streaming buffer")
		},
	}
	s := newTestService(t, store, wh, runs, ReplaceStaged)

	res, err := s.InsertLatestCSV(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(3), res.RowsLoaded)
	assert.Empty(t, runs.failedStatus)
}

func TestComputeWindow(t *testing.T) {
	d := func(day int) civil.Date { return civil.Date{Year: 2024, Month: time.March, Day: day} }

	t.Run("date column", func(t *testing.T) {
		f, err := frame.New(frame.MustSeries("date", frame.Date, d(9), nil, d(2), d(30)))
		require.NoError(t, err)
		w, ok, err := ComputeWindow(f, "date")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, bq.Window{Start: d(2), End: d(30)}, w)
	})

	t.Run("single date", func(t *testing.T) {
		f, err := frame.New(frame.MustSeries("date", frame.Date, d(4)))
		require.NoError(t, err)
		w, ok, err := ComputeWindow(f, "date")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, bq.Window{Start: d(4), End: d(4)}, w)
	})

	t.Run("datetime column", func(t *testing.T) {
		f, err := frame.New(frame.MustSeries("ts", frame.Datetime,
			time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC),
			time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC),
		))
		require.NoError(t, err)
		w, ok, err := ComputeWindow(f, "ts")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, bq.Window{Start: d(1), End: d(5)}, w)
	})

	t.Run("all null", func(t *testing.T) {
		f, err := frame.New(frame.MustSeries("date", frame.Date, nil, nil))
		require.NoError(t, err)
		_, ok, err := ComputeWindow(f, "date")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing column", func(t *testing.T) {
		f, err := frame.New(frame.MustSeries("other", frame.Date, d(1)))
		require.NoError(t, err)
		_, _, err = ComputeWindow(f, "date")
		assert.ErrorContains(t, err, `column "date" not found`)
	})

	t.Run("wrong type", func(t *testing.T) {
		f, err := frame.New(frame.MustSeries("date", frame.String, "2024-03-01"))
		require.NoError(t, err)
		_, _, err = ComputeWindow(f, "date")
		assert.Error(t, err)
	})
}

func TestParseReplaceMode(t *testing.T) {
	for in, want := range map[string]ReplaceMode{
		"":         ReplaceStaged,
		"staged":   ReplaceStaged,
		" Direct ": ReplaceDirect,
	} {
		got, err := ParseReplaceMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseReplaceMode("truncate")
	assert.ErrorContains(t, err, `unknown replace mode "truncate"`)
}

func TestPipeline_StepIndexInError(t *testing.T) {
	var ran []int
	step := func(n int, err error) PipelineStep {
		return stepFunc(func(ctx context.Context, state *ImportState) error {
			ran = append(ran, n)
			return err
		})
	}
	p := NewPipeline(step(1, nil), step(2, errors.New("boom")), step(3, nil))

	err := p.Execute(context.Background(), &ImportState{})
	assert.EqualError(t, err, "pipeline step 2 failed: boom")
	assert.Equal(t, []int{1, 2}, ran)
}

type stepFunc func(ctx context.Context, state *ImportState) error

func (f stepFunc) Execute(ctx context.Context, state *ImportState) error { return f(ctx, state) }

func TestComputeWindowStep_NoDatesIsExportError(t *testing.T) {
	f, err := frame.New(frame.MustSeries("date", frame.Date, nil, nil))
	require.NoError(t, err)

	err = (&ComputeWindowStep{Column: "date"}).Execute(context.Background(), &ImportState{Frame: f})
	var exportErr *moneyforward.ExportError
	require.ErrorAs(t, err, &exportErr)
	assert.ErrorContains(t, err, `column "date" has no dates`)
}
