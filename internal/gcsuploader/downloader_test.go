package gcsuploader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"google.golang.org/api/iterator"

	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/gcs"
)

func TestLatestOf(t *testing.T) {
	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	objects := []*storage.ObjectAttrs{
		{Name: "mf_records/a.csv", Updated: base},
		{Name: "mf_records/b.csv", Updated: base.Add(time.Hour)},
		{Name: "mf_records/c.parquet", Updated: base.Add(2 * time.Hour)},
		{Name: "mf_records/d.csv", Updated: base.Add(time.Hour)},
	}

	got := latestOf(objects, ".csv")
	require.NotNil(t, got)
	assert.Equal(t, "mf_records/d.csv", got.Name)

	got = latestOf(objects, "")
	assert.Equal(t, "mf_records/c.parquet", got.Name)

	assert.Nil(t, latestOf(objects, ".tsv"))
	assert.Nil(t, latestOf(nil, ".csv"))
}

func TestLoaderFor(t *testing.T) {
	loader, err := loaderFor("mf_records/export.CSV")
	require.NoError(t, err)

	sjis, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte("内容,金額（円）\nランチ,-1200\n"))
	require.NoError(t, err)

	f, err := loader(sjis, japanese.ShiftJIS)
	require.NoError(t, err)
	assert.Equal(t, []string{"内容", "金額（円）"}, f.Columns())
	assert.Equal(t, []frame.DType{frame.String, frame.Int64}, f.DTypes())

	tsv, err := loaderFor("x.tsv")
	require.NoError(t, err)
	f, err = tsv([]byte("a\tb\n1\t2\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Width())

	_, err = loaderFor("mf_records/export.parquet")
	var unsupported *gcs.UnsupportedFileTypeError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "parquet", unsupported.Extension)
}

type fakeObject struct {
	attrs *storage.ObjectAttrs
	data  []byte
}

// fakeBucket holds objects in memory, keyed by bucket then name.
type fakeBucket struct {
	objects map[string]map[string]fakeObject
	listed  []string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string]map[string]fakeObject{}}
}

func (b *fakeBucket) put(bucket, name string, updated time.Time, data []byte) {
	if b.objects[bucket] == nil {
		b.objects[bucket] = map[string]fakeObject{}
	}
	b.objects[bucket][name] = fakeObject{
		attrs: &storage.ObjectAttrs{Bucket: bucket, Name: name, Updated: updated, Size: int64(len(data))},
		data:  data,
	}
}

func (b *fakeBucket) List(ctx context.Context, bucket, prefix string) objectIterator {
	b.listed = append(b.listed, bucket+"/"+prefix)
	var names []string
	for name := range b.objects[bucket] {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	it := &fakeIterator{}
	for _, name := range names {
		it.attrs = append(it.attrs, b.objects[bucket][name].attrs)
	}
	return it
}

func (b *fakeBucket) Open(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	o, ok := b.objects[bucket][name]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

type fakeIterator struct {
	attrs []*storage.ObjectAttrs
	err   error
}

func (it *fakeIterator) Next() (*storage.ObjectAttrs, error) {
	if it.err != nil {
		return nil, it.err
	}
	if len(it.attrs) == 0 {
		return nil, iterator.Done
	}
	next := it.attrs[0]
	it.attrs = it.attrs[1:]
	return next, nil
}

type failingObjects struct {
	*fakeBucket
	err error
}

func (f failingObjects) List(ctx context.Context, bucket, prefix string) objectIterator {
	return &fakeIterator{err: f.err}
}

func TestGetLatestBlob(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	b := newFakeBucket()
	b.put("whiro-dami-storage", "mf_records/2024-01.csv", base, nil)
	b.put("whiro-dami-storage", "mf_records/2024-02.csv", base.Add(time.Hour), nil)
	b.put("whiro-dami-storage", "mf_records/2024-02.tsv", base.Add(2*time.Hour), nil)
	b.put("whiro-dami-storage", "archive/2024-03.csv", base.Add(3*time.Hour), nil)
	b.put("other-bucket", "mf_records/2024-04.csv", base.Add(4*time.Hour), nil)
	h := &Handler{objects: b}
	prefix := gcs.Location{Bucket: "whiro-dami-storage", Path: "mf_records/"}

	got, err := h.GetLatestBlob(ctx, prefix, ".csv")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "mf_records/2024-02.csv", got.Name)
	assert.Equal(t, []string{"whiro-dami-storage/mf_records/"}, b.listed)

	got, err = h.GetLatestBlob(ctx, prefix, "")
	require.NoError(t, err)
	assert.Equal(t, "mf_records/2024-02.tsv", got.Name)

	// No match is not an error: the caller decides what a missing export means.
	got, err = h.GetLatestBlob(ctx, prefix, ".parquet")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = h.GetLatestBlob(ctx, gcs.Location{Bucket: "whiro-dami-storage", Path: "nothing/"}, ".csv")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetLatestBlob_ListError(t *testing.T) {
	h := &Handler{objects: failingObjects{newFakeBucket(), errors.New("permission denied")}}

	_, err := h.GetLatestBlob(context.Background(), gcs.Location{Bucket: "b", Path: "mf_records/"}, ".csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Contains(t, err.Error(), "GetLatestBlob")
}

func TestDownloadFrame_ShiftJIS(t *testing.T) {
	ctx := context.Background()
	sjis, err := japanese.ShiftJIS.NewEncoder().Bytes([]byte(
		"計算対象,日付,内容,金額（円）\n1,2024/01/05,ランチ,-1200\n1,2024/01/06,電車,-320\n"))
	require.NoError(t, err)

	b := newFakeBucket()
	b.put("whiro-dami-storage", "mf_records/収入・支出詳細.csv", time.Now(), sjis)
	h := &Handler{objects: b}
	attrs := b.objects["whiro-dami-storage"]["mf_records/収入・支出詳細.csv"].attrs

	f, err := h.DownloadFrame(ctx, attrs, japanese.ShiftJIS)
	require.NoError(t, err)
	assert.Equal(t, []string{"計算対象", "日付", "内容", "金額（円）"}, f.Columns())
	assert.Equal(t, 2, f.Height())
	assert.Equal(t, "電車", f.Row(1)["内容"])
	assert.Equal(t, int64(-320), f.Row(1)["金額（円）"])
}

func TestDownloadFrame_Errors(t *testing.T) {
	ctx := context.Background()
	b := newFakeBucket()
	b.put("b", "mf_records/export.parquet", time.Now(), []byte("PAR1"))
	h := &Handler{objects: b}

	_, err := h.DownloadFrame(ctx, &storage.ObjectAttrs{Bucket: "b", Name: "mf_records/export.parquet"}, nil)
	var unsupported *gcs.UnsupportedFileTypeError
	assert.ErrorAs(t, err, &unsupported)

	_, err = h.DownloadFrame(ctx, &storage.ObjectAttrs{Bucket: "b", Name: "mf_records/gone.csv"}, nil)
	var notFound *gcs.BlobNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, gcs.Location{Bucket: "b", Path: "mf_records/gone.csv"}, notFound.Location)
}
