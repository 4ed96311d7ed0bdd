package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gregjones/httpcache"

	"github.com/PDI-Technologies/ns-sub003/internal/adapter/driven/cache"
	"github.com/PDI-Technologies/ns-sub003/internal/adapter/driven/netsuite"
	sqliteadapter "github.com/PDI-Technologies/ns-sub003/internal/adapter/driven/sqlite"
	"github.com/PDI-Technologies/ns-sub003/internal/application"
	"github.com/PDI-Technologies/ns-sub003/internal/config"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/port/driven"
	"github.com/PDI-Technologies/ns-sub003/internal/metrics"
)

// Names under which credentials are kept in the encrypted store. A stored
// value replaces the configured one.
const (
	CredAccountID      = "account_id"
	CredConsumerKey    = "consumer_key"
	CredConsumerSecret = "consumer_secret"
	CredTokenID        = "token_id"
	CredTokenSecret    = "token_secret"
)

// CredentialNames lists every name the credentials command accepts.
var CredentialNames = []string{CredAccountID, CredConsumerKey, CredConsumerSecret, CredTokenID, CredTokenSecret}

// app holds the opened store and repositories for one command invocation.
type app struct {
	cfg         *config.Config
	db          *sqliteadapter.DB
	metrics     *metrics.Metrics
	records     *sqliteadapter.RecordRepo
	watermarks  *sqliteadapter.WatermarkRepo
	runs        *sqliteadapter.RunRepo
	credentials *sqliteadapter.CredentialRepo
}

// openApp opens the database, applies migrations and creates the repositories.
func openApp(cfg *config.Config) (*app, error) {
	key, err := cfg.SecretKeyBytes()
	if err != nil {
		return nil, err
	}

	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Debug("database ready", "path", cfg.DBPath)

	return &app{
		cfg:         cfg,
		db:          db,
		records:     sqliteadapter.NewRecordRepo(db),
		watermarks:  sqliteadapter.NewWatermarkRepo(db),
		runs:        sqliteadapter.NewRunRepo(db),
		credentials: sqliteadapter.NewCredentialRepo(db, key),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// credentialSet resolves the account credentials: configured values first,
// replaced by any stored value.
func (a *app) credentialSet(ctx context.Context) (model.CredentialSet, error) {
	creds := a.cfg.CredentialSet()

	fields := map[string]*string{
		CredAccountID:      &creds.AccountID,
		CredConsumerKey:    &creds.ConsumerKey,
		CredConsumerSecret: &creds.ConsumerSecret,
		CredTokenID:        &creds.TokenID,
		CredTokenSecret:    &creds.TokenSecret,
	}
	for name, dst := range fields {
		stored, err := a.credentials.Get(ctx, name)
		if errors.Is(err, driven.ErrEncryptionKeyNotSet) {
			break
		}
		if err != nil {
			return model.CredentialSet{}, fmt.Errorf("read stored credential %s: %w", name, err)
		}
		if stored != "" {
			*dst = stored
		}
	}

	if err := creds.Validate(); err != nil {
		return model.CredentialSet{}, err
	}
	return creds, nil
}

// remote builds the signed, rate-limited record API client.
func (a *app) remote(ctx context.Context) (*netsuite.Client, error) {
	creds, err := a.credentialSet(ctx)
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Err: err}
	}

	restBase := a.cfg.Account.BaseURL
	if restBase == "" {
		restBase = netsuite.DefaultRESTBaseURL(creds.AccountID)
	}

	signer, err := netsuite.NewSigner(creds, netsuite.TokenURL(restBase),
		netsuite.WithSafetyMargin(a.cfg.Account.TokenSafetyMargin),
		netsuite.WithTokenHTTPClient(&http.Client{Timeout: a.cfg.HTTPTimeout}),
		netsuite.WithSignerMetrics(a.metrics),
	)
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Err: err}
	}

	limiter := netsuite.NewLimiter(netsuite.RetryPolicy{
		MaxAttempts: a.cfg.Retry.MaxAttempts,
		BaseDelay:   a.cfg.Retry.BaseDelay,
		Multiplier:  a.cfg.Retry.Multiplier,
		Jitter:      a.cfg.Retry.Jitter,
		MaxDelay:    a.cfg.Retry.MaxDelay,
	}, a.cfg.Sync.Concurrency).WithMetrics(a.metrics)

	slog.Info("remote client configured",
		"base_url", restBase,
		"credential", creds.Masked(),
		"concurrency", a.cfg.Sync.Concurrency,
	)

	return netsuite.NewClient(signer, limiter, netsuite.RecordBaseURL(restBase),
		netsuite.WithHTTPClient(&http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   a.cfg.HTTPTimeout,
		}),
		netsuite.WithClientMetrics(a.metrics),
		netsuite.WithCredentialContext(creds.Masked()),
	), nil
}

// syncService wires the lister, fetcher and stores into a SyncService.
func (a *app) syncService(ctx context.Context) (*application.SyncService, error) {
	client, err := a.remote(ctx)
	if err != nil {
		return nil, err
	}

	entities, err := a.cfg.EntityTypes()
	if err != nil {
		return nil, err
	}

	var recordCache driven.RecordCache
	if a.cfg.Cache.Enabled {
		recordCache = cache.NewRecordCache(a.cfg.Cache.TTL, cache.WithMetrics(a.metrics))
	}

	strategy := application.FetchStrategy{
		Parallelism: 1,
		UseCache:    a.cfg.Cache.Enabled,
		BatchSize:   a.cfg.Sync.BatchSize,
	}
	if a.cfg.Sync.FetchMode == config.FetchParallel {
		strategy.Parallelism = a.cfg.Sync.Concurrency
	}

	return application.NewSyncService(
		application.NewLister(client, a.cfg.Sync.PageSize),
		application.NewFetcher(client, recordCache, a.metrics),
		a.records,
		a.watermarks,
		a.runs,
		entities,
		strategy,
		a.cfg.Sync.Interval,
		application.WithMetrics(a.metrics),
	), nil
}

// entitiesOrConfigured parses names, falling back to the configured entity types.
func entitiesOrConfigured(cfg *config.Config, names []string) ([]model.EntityType, error) {
	if len(names) == 0 {
		return cfg.EntityTypes()
	}
	types := make([]model.EntityType, 0, len(names))
	for _, name := range names {
		t, err := model.ParseEntityType(name)
		if err != nil {
			return nil, &ExitError{Code: ExitUsage, Err: err}
		}
		types = append(types, t)
	}
	return types, nil
}
