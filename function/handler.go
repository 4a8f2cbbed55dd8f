package function

import (
	"go.nownabe.dev/bqloader"

	"github.com/whiro/dami/internal/config"
	"github.com/whiro/dami/internal/moneyforward"
	"github.com/whiro/dami/internal/schema"
)

func moneyforwardRawHandler(s *config.Settings, table schema.Table, n bqloader.Notifier) (*bqloader.Handler, error) {
	pattern := exportPattern(s.MoneyForward.Prefix, s.MoneyForward.Suffix)
	return moneyforward.RawLoadHandler(handlerName, pattern, table, n)
}
