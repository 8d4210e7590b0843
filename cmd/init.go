package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-enricher/internal/config"
	"github.com/sells-group/contact-enricher/internal/mailbox"
	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/monitoring"
	"github.com/sells-group/contact-enricher/internal/reconcile"
	"github.com/sells-group/contact-enricher/internal/resilience"
	"github.com/sells-group/contact-enricher/internal/scan"
	"github.com/sells-group/contact-enricher/internal/store"
	"github.com/sells-group/contact-enricher/pkg/bullhorn"
)

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "enricher.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	case "xlsx":
		return store.NewXLSX(c.Store.XLSXPath)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// openStore opens and migrates the configured store. Callers close it.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func gmailConfig(c *config.Config) mailbox.GmailConfig {
	return mailbox.GmailConfig{
		CredentialsFile: c.Mailbox.Gmail.CredentialsFile,
		TokenFile:       c.Mailbox.Gmail.TokenFile,
		Concurrency:     c.Mailbox.FetchConcurrency,
	}
}

func initSearcher(ctx context.Context, c *config.Config) (mailbox.Searcher, error) {
	switch c.Mailbox.Provider {
	case "gmail":
		return mailbox.NewGmail(ctx, gmailConfig(c))
	case "imap":
		return mailbox.NewIMAP(mailbox.IMAPConfig{
			Host:     c.Mailbox.IMAP.Host,
			Port:     c.Mailbox.IMAP.Port,
			Username: c.Mailbox.IMAP.Username,
			Password: c.Mailbox.IMAP.Password,
			TLS:      c.Mailbox.IMAP.TLS,
			Folders:  c.Mailbox.IMAP.Folders,
		})
	default:
		return nil, eris.Errorf("unsupported mailbox provider: %s", c.Mailbox.Provider)
	}
}

func initBullhorn(c *config.Config) bullhorn.Client {
	b := c.Bullhorn
	opts := []bullhorn.Option{
		bullhorn.WithSearchCount(b.SearchCount),
		bullhorn.WithRateLimit(b.RateLimit),
	}
	if b.AuthURL != "" {
		opts = append(opts, bullhorn.WithAuthURL(b.AuthURL))
	}
	if b.LoginURL != "" {
		opts = append(opts, bullhorn.WithLoginURL(b.LoginURL))
	}
	if b.TimeoutSecs > 0 {
		opts = append(opts, bullhorn.WithHTTPClient(&http.Client{Timeout: time.Duration(b.TimeoutSecs) * time.Second}))
	}
	return bullhorn.NewClient(bullhorn.Credentials{
		ClientID:     b.ClientID,
		ClientSecret: b.ClientSecret,
		Username:     b.Username,
		Password:     b.Password,
	}, opts...)
}

func loginRetry(c *config.Config) resilience.RetryConfig {
	r := c.Bullhorn.LoginRetry
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

func configStopLists(c *config.Config) model.StopLists {
	return model.StopLists{Phones: c.StopLists.Phones, Domains: c.StopLists.Domains}
}

func newScanner(st store.Store, mb mailbox.Searcher, c *config.Config) *scan.Scanner {
	return scan.NewScanner(st, mb, scan.Config{
		InitialLookbackDays: c.Scan.InitialLookbackDays,
		StopLists:           configStopLists(c),
	})
}

func newReconciler(st store.Store, client bullhorn.Client, c *config.Config) *reconcile.Reconciler {
	return reconcile.NewReconciler(st, reconcile.NewWorkflow(client, loginRetry(c)), c.Reconcile.BatchSize)
}

func monitoringConfig(c *config.Config) monitoring.Config {
	m := c.Monitoring
	return monitoring.Config{
		WebhookURL:          m.WebhookURL,
		CheckIntervalSecs:   m.CheckIntervalSecs,
		LookbackWindowHours: m.LookbackWindowHours,
		ErrorRateThreshold:  m.ErrorRateThreshold,
		StaleScanHours:      m.StaleScanHours,
	}
}
