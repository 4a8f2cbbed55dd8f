// Package container builds the process-wide clients and services from
// settings. Clients are created on first use and shared: the storage and
// BigQuery clients are safe for concurrent use.
package container

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/whiro/dami/internal/config"
	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/gcsuploader"
	infra "github.com/whiro/dami/internal/infra/bigquery"
	"github.com/whiro/dami/internal/moneyforward"
	"github.com/whiro/dami/internal/pipeline"
	"github.com/whiro/dami/internal/schema"
)

// Container lazily creates and owns the SDK clients.
type Container struct {
	settings *config.Settings

	storageOnce   sync.Once
	storageClient *storage.Client
	storageErr    error

	bqOnce   sync.Once
	bqClient *bigquery.Client
	bqErr    error
}

// New returns a container for settings. No client is created yet.
func New(settings *config.Settings) *Container {
	return &Container{settings: settings}
}

// Settings returns the settings the container was built from.
func (c *Container) Settings() *config.Settings {
	return c.settings
}

func (c *Container) clientOptions() []option.ClientOption {
	if c.settings.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(c.settings.CredentialsFile)}
}

// SetStorageClient replaces the storage client. It must be called before the
// first StorageClient call.
func (c *Container) SetStorageClient(client *storage.Client) {
	c.storageOnce.Do(func() { c.storageClient = client })
}

// SetBigQueryClient replaces the BigQuery client. It must be called before
// the first BigQueryClient call.
func (c *Container) SetBigQueryClient(client *bigquery.Client) {
	c.bqOnce.Do(func() { c.bqClient = client })
}

// StorageClient returns the shared storage client.
func (c *Container) StorageClient(ctx context.Context) (*storage.Client, error) {
	c.storageOnce.Do(func() {
		c.storageClient, c.storageErr = storage.NewClient(ctx, c.clientOptions()...)
		if c.storageErr != nil {
			c.storageErr = fmt.Errorf("container: storage client: %w", c.storageErr)
		}
	})
	return c.storageClient, c.storageErr
}

// BigQueryClient returns the shared BigQuery client for the configured project.
func (c *Container) BigQueryClient(ctx context.Context) (*bigquery.Client, error) {
	c.bqOnce.Do(func() {
		c.bqClient, c.bqErr = bigquery.NewClient(ctx, c.settings.GCPProject, c.clientOptions()...)
		if c.bqErr != nil {
			c.bqErr = fmt.Errorf("container: bigquery client: %w", c.bqErr)
		}
	})
	return c.bqClient, c.bqErr
}

// Storage returns the object store handler.
func (c *Container) Storage(ctx context.Context) (*gcsuploader.Handler, error) {
	client, err := c.StorageClient(ctx)
	if err != nil {
		return nil, err
	}
	return gcsuploader.NewHandler(client), nil
}

// Warehouse returns the BigQuery warehouse with the configured load format
// and staging TTL.
func (c *Container) Warehouse(ctx context.Context) (*infra.BigQueryWarehouse, error) {
	client, err := c.BigQueryClient(ctx)
	if err != nil {
		return nil, err
	}
	return infra.NewBigQueryWarehouse(client).
		WithLoadFormat(c.settings.LoadFormat()).
		WithStagingTTL(c.settings.StagingTTL()), nil
}

// ImportRuns returns the import run repository.
func (c *Container) ImportRuns(ctx context.Context) (*infra.BigQueryImportRunRepository, error) {
	client, err := c.BigQueryClient(ctx)
	if err != nil {
		return nil, err
	}
	return infra.NewBigQueryImportRunRepository(client, c.settings.GCPProject, c.settings.RunsDataset), nil
}

// Transactions returns the repository reading the transactions table.
func (c *Container) Transactions(ctx context.Context) (*infra.BigQueryTransactionRepository, error) {
	table, err := c.TransactionsTable()
	if err != nil {
		return nil, err
	}
	client, err := c.BigQueryClient(ctx)
	if err != nil {
		return nil, err
	}
	return infra.NewBigQueryTransactionRepository(client, table), nil
}

// TransactionsTable returns the destination table at its configured location.
func (c *Container) TransactionsTable() (schema.Table, error) {
	mf := c.settings.MoneyForward
	return moneyforward.TableSchema(c.settings.GCPProject, mf.Dataset, mf.Table)
}

// RawTable returns the raw landing table at its configured location.
func (c *Container) RawTable() (schema.Table, error) {
	mf := c.settings.MoneyForward
	return moneyforward.RawTableSchema(c.settings.GCPProject, mf.Dataset, mf.RawTable)
}

// ImportService wires the import pipeline.
func (c *Container) ImportService(ctx context.Context) (*pipeline.ImportService, error) {
	mf := c.settings.MoneyForward
	mode, err := pipeline.ParseReplaceMode(mf.ReplaceMode)
	if err != nil {
		return nil, err
	}
	enc, err := frame.LookupEncoding(mf.Encoding)
	if err != nil {
		return nil, err
	}
	table, err := c.TransactionsTable()
	if err != nil {
		return nil, err
	}
	store, err := c.Storage(ctx)
	if err != nil {
		return nil, err
	}
	warehouse, err := c.Warehouse(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := c.ImportRuns(ctx)
	if err != nil {
		return nil, err
	}
	return pipeline.NewImportService(store, warehouse, runs, pipeline.Options{
		Prefix:      c.settings.ExportPrefix(),
		Suffix:      mf.Suffix,
		Encoding:    enc,
		Table:       table,
		ReplaceMode: mode,
	}), nil
}

// Close closes the clients that were created.
func (c *Container) Close() error {
	var errs []error
	if c.storageClient != nil {
		errs = append(errs, c.storageClient.Close())
	}
	if c.bqClient != nil {
		errs = append(errs, c.bqClient.Close())
	}
	return errors.Join(errs...)
}
