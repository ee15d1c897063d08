package service

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	ozonclient "marketplacer/internal/client/ozon"
	wbclient "marketplacer/internal/client/wildberries"
	"marketplacer/internal/collector"
	ozoncollector "marketplacer/internal/collector/ozon"
	wbcollector "marketplacer/internal/collector/wildberries"
	"marketplacer/internal/config"
	"marketplacer/internal/models"
	"marketplacer/internal/repository"
)

// CollectorFactory builds the collector of one credential.
type CollectorFactory func(cred models.Credential) (collector.Collector, error)

// CollectorBuilder builds marketplace collectors that share one store,
// alert sink and configuration.
type CollectorBuilder struct {
	Store       repository.Repository
	Alerts      collector.Alerts
	Logger      *zap.Logger
	Sync        config.SyncConfig
	Wildberries config.WildberriesConfig
	Ozon        config.OzonConfig
}

func (b *CollectorBuilder) Build(cred models.Credential) (collector.Collector, error) {
	if strings.TrimSpace(cred.Token) == "" {
		return nil, fmt.Errorf("credential %d has no token", cred.ID)
	}
	base := collector.Base{
		Credential:   cred,
		Alerts:       b.Alerts,
		Logger:       b.Logger,
		NextInterval: b.Sync.NextInterval,
	}
	switch cred.Marketplace {
	case models.MarketplaceWildberries:
		return b.wildberries(base, cred)
	case models.MarketplaceOzon:
		return b.ozon(base, cred)
	default:
		return nil, fmt.Errorf("credential %d: unsupported marketplace %q", cred.ID, cred.Marketplace)
	}
}

func (b *CollectorBuilder) wildberries(base collector.Base, cred models.Credential) (collector.Collector, error) {
	cfg := b.Wildberries
	var history time.Time
	if cfg.HistoryStart != "" {
		t, err := time.Parse(time.DateOnly, cfg.HistoryStart)
		if err != nil {
			return nil, fmt.Errorf("wildberries.history_start: %w", err)
		}
		history = t
	}
	api := wbclient.NewClient(&http.Client{Timeout: cfg.Timeout}, cfg.StatisticsURL, cfg.ContentURL, cred.Token)
	return wbcollector.New(base, api, b.Store, wbcollector.Options{
		StatisticsWait: cfg.StatisticsWait,
		CardsThrottle:  cfg.CardsThrottle,
		CardsRetries:   cfg.CardsRetries,
		HistoryStart:   history,
	}), nil
}

func (b *CollectorBuilder) ozon(base collector.Base, cred models.Credential) (collector.Collector, error) {
	if cred.ClientID == nil || strings.TrimSpace(*cred.ClientID) == "" {
		return nil, fmt.Errorf("credential %d: ozon requires client_id", cred.ID)
	}
	cfg := b.Ozon
	api := ozonclient.NewClient(&http.Client{Timeout: cfg.Timeout}, cfg.BaseURL, strings.TrimSpace(*cred.ClientID), cred.Token)
	return ozoncollector.New(base, api, b.Store, ozoncollector.Options{
		ReportPollInterval:  cfg.ReportPollInterval,
		ReportMaxPolls:      cfg.ReportMaxPolls,
		PagePause:           cfg.PagePause,
		OrderWindowDays:     cfg.OrderWindowDays,
		OrderFallbackDays:   cfg.OrderFallbackDays,
		OrderRescan:         cfg.OrderRescan,
		SalesLookbackMonths: cfg.SalesLookbackMonth,
		FinanceRetries:      cfg.FinanceRetries,
		FinanceRetryWait:    cfg.FinanceRetryWait,
		BundleRetries:       cfg.BundleRetries,
		BundleRetryWait:     cfg.BundleRetryWait,
	}), nil
}
