package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    Location
		wantErr bool
	}{
		{"gs://bucket/mf_records/a.csv", Location{Bucket: "bucket", Path: "mf_records/a.csv"}, false},
		{"gs://bucket/", Location{Bucket: "bucket", Path: ""}, false},
		{"gs://bucket", Location{}, true},
		{"s3://bucket/a.csv", Location{}, true},
		{"gs:///a.csv", Location{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := ParseURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseObjectURI(t *testing.T) {
	_, err := ParseObjectURI("gs://bucket/folder/")
	assert.ErrorContains(t, err, "no object path")

	loc, err := ParseObjectURI("gs://bucket/folder/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "gs://bucket/folder/a.csv", loc.URI())
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "csv", Extension("mf_records/収入・支出詳細_2024-01-01_2024-01-31.CSV"))
	assert.Equal(t, "", Extension("mf_records.d/README"))
	assert.Equal(t, "gz", Extension("a.csv.gz"))
}

func TestErrors(t *testing.T) {
	err := &BlobNotFoundError{Location: Location{Bucket: "b", Path: "x.csv"}}
	assert.Equal(t, "blob not found: gs://b/x.csv", err.Error())
	assert.Contains(t, (&UnsupportedFileTypeError{Extension: "pdf"}).Error(), `"pdf"`)
}
