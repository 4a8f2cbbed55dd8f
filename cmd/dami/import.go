package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/whiro/dami/internal/config"
	"github.com/whiro/dami/internal/container"
	"github.com/whiro/dami/internal/gcs"
	"github.com/whiro/dami/internal/pipeline"
)

type importFlags struct {
	prefix      string
	suffix      string
	encoding    string
	replaceMode string
	source      string
	dryRun      bool
	timeout     time.Duration
}

var importOpts importFlags

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the latest export under the prefix",
	Long: `Finds the most recently updated export under the configured prefix, or the
object given with --source, and replaces its date window in the transactions
table. The result is printed as JSON.`,
	Example: `  dami import
  dami import --prefix moneyforward/ --replace-mode direct
  dami import --source gs://bucket/mf_records/2024-01.csv --dry-run`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := importOpts.apply(*settings)
		if err != nil {
			return err
		}
		ctx, cancel := contextWithTimeout(cmd, importOpts.timeout)
		defer cancel()

		c := container.New(&s)
		defer c.Close()

		svc, err := c.ImportService(ctx)
		if err != nil {
			return err
		}
		result, err := svc.Import(ctx, pipeline.Request{
			Trigger:   pipeline.TriggerCLI,
			SourceURI: importOpts.source,
			DryRun:    importOpts.dryRun,
		})
		if result != nil {
			if encErr := printJSON(result); encErr != nil && err == nil {
				err = encErr
			}
		}
		return err
	},
}

func init() {
	f := importCmd.Flags()
	f.StringVar(&importOpts.prefix, "prefix", "", "object prefix inside the bucket (e.g. moneyforward/)")
	f.StringVar(&importOpts.suffix, "suffix", "", "only consider objects ending with this suffix")
	f.StringVar(&importOpts.encoding, "encoding", "", "text encoding of the export (shift-jis, utf-8, ...)")
	f.StringVar(&importOpts.replaceMode, "replace-mode", "", "staged or direct")
	f.StringVar(&importOpts.source, "source", "", "import this gs:// object instead of the latest one")
	f.BoolVar(&importOpts.dryRun, "dry-run", false, "validate and print the window without writing")
	f.DurationVar(&importOpts.timeout, "timeout", 10*time.Minute, "overall deadline")
}

// apply returns s with the non-empty flags set, validated.
func (o importFlags) apply(s config.Settings) (config.Settings, error) {
	if o.prefix != "" {
		s.MoneyForward.Prefix = o.prefix
	}
	if o.suffix != "" {
		s.MoneyForward.Suffix = o.suffix
	}
	if o.encoding != "" {
		s.MoneyForward.Encoding = o.encoding
	}
	if o.replaceMode != "" {
		s.MoneyForward.ReplaceMode = o.replaceMode
	}
	if o.source != "" {
		if _, err := gcs.ParseObjectURI(o.source); err != nil {
			return s, err
		}
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

var latestSuffix string

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the latest export under the prefix",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		suffix := latestSuffix
		if suffix == "" {
			suffix = settings.MoneyForward.Suffix
		}
		return withContainer(func(c *container.Container) error {
			store, err := c.Storage(cmd.Context())
			if err != nil {
				return err
			}
			prefix := settings.ExportPrefix()
			attrs, err := store.GetLatestBlob(cmd.Context(), prefix, suffix)
			if err != nil {
				return err
			}
			if attrs == nil {
				return fmt.Errorf("no object ending with %q under %s", suffix, prefix.URI())
			}
			loc := gcs.Location{Bucket: attrs.Bucket, Path: attrs.Name}
			fmt.Printf("%s\t%d\t%s\n", loc.URI(), attrs.Size, attrs.Updated.Format(time.RFC3339))
			return nil
		})
	},
}

func init() {
	latestCmd.Flags().StringVar(&latestSuffix, "suffix", "", "only consider objects ending with this suffix")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
