// Package function is the Cloud Functions entry point that lands raw
// MoneyForward exports into BigQuery as soon as they are written to the
// bucket.
package function

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"

	"go.nownabe.dev/bqloader"

	"github.com/whiro/dami/internal/config"
	"github.com/whiro/dami/internal/container"
	"github.com/whiro/dami/internal/logger"
)

const handlerName = "moneyforward-raw"

var (
	loaderOnce sync.Once
	loader     bqloader.BQLoader
	loaderErr  error
)

// BQLoad is triggered by google.storage.object.finalize.
func BQLoad(ctx context.Context, e bqloader.Event) error {
	loaderOnce.Do(func() {
		loader, loaderErr = newLoader(ctx)
	})
	if loaderErr != nil {
		return loaderErr
	}
	return loader.Handle(ctx, e)
}

func newLoader(ctx context.Context) (bqloader.BQLoader, error) {
	s, err := config.Load("")
	if err != nil {
		return nil, err
	}
	log, err := logger.NewFromConfig(s.LoggerConfig(), os.Stderr)
	if err != nil {
		return nil, err
	}

	table, err := container.New(s).RawTable()
	if err != nil {
		return nil, err
	}

	l, err := bqloader.New()
	if err != nil {
		return nil, fmt.Errorf("newLoader: %w", err)
	}

	h, err := moneyforwardRawHandler(s, table, slackNotifier())
	if err != nil {
		return nil, err
	}
	if err := l.AddHandler(ctx, h); err != nil {
		return nil, fmt.Errorf("newLoader: add handler: %w", err)
	}

	log.Info().Str("pattern", h.Pattern.String()).Str("table", table.ID()).Msg("raw loader ready")
	return l, nil
}

// exportPattern matches exports under prefix with the configured suffix.
func exportPattern(prefix, suffix string) string {
	return "^" + regexp.QuoteMeta(prefix) + ".*" + regexp.QuoteMeta(suffix) + "$"
}

func slackNotifier() bqloader.Notifier {
	token, channel := os.Getenv("SLACK_TOKEN"), os.Getenv("SLACK_CHANNEL")
	if token == "" || channel == "" {
		return nil
	}
	return &bqloader.SlackNotifier{Token: token, Channel: channel}
}
