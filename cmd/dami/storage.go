package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/whiro/dami/internal/container"
	"github.com/whiro/dami/internal/gcs"
)

var (
	uploadName string
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE",
	Short: "Upload a local export under the prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filePath := args[0]
		name := uploadName
		if name == "" {
			name = filepath.Base(filePath)
		}
		if ext := gcs.Extension(name); ext != "csv" && ext != "tsv" {
			return &gcs.UnsupportedFileTypeError{Extension: ext}
		}

		prefix := settings.ExportPrefix()
		loc := gcs.Location{Bucket: prefix.Bucket, Path: prefix.Path + name}

		return withContainer(func(c *container.Container) error {
			store, err := c.Storage(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Str("file", filePath).Str("gcs_uri", loc.URI()).Msg("uploading export")
			if err := store.UploadFile(cmd.Context(), loc.Bucket, loc.Path, filePath); err != nil {
				return err
			}
			fmt.Printf("Uploaded %s to %s\n", filePath, loc.URI())
			return nil
		})
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "object name under the prefix (defaults to the file name)")
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), d)
}
