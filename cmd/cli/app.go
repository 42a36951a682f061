package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/jaywantadh/msgvault/config"
	"github.com/jaywantadh/msgvault/internal/encryptor"
	"github.com/jaywantadh/msgvault/internal/metadata"
	"github.com/jaywantadh/msgvault/internal/storage"
	"github.com/jaywantadh/msgvault/internal/transfer"
	"github.com/jaywantadh/msgvault/pkg/env"
	"github.com/jaywantadh/msgvault/pkg/logging"
)

// vault bundles what a command needs: the ledger, the store and a controller
// reporting progress to the terminal.
type vault struct {
	cfg        *config.AppConfig
	ledger     *metadata.BadgerLedger
	store      storage.Storage
	controller *transfer.Controller
	events     chan transfer.Event
	stop       context.CancelFunc
	done       chan struct{}
}

func openVault(ctx context.Context, c *cli.Context) (*vault, error) {
	cfg := config.Config
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	partSize, err := cfg.PartSizeBytes()
	if err != nil {
		return nil, err
	}
	alg, err := cfg.CompressionAlgorithm()
	if err != nil {
		return nil, err
	}
	codec := transfer.Codec{Compression: alg}
	if password := env.Password(); password != "" {
		sealer, err := encryptor.NewSealer(password)
		if err != nil {
			return nil, err
		}
		codec.Sealer = sealer
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
		return nil, err
	}
	ledger, err := metadata.OpenLedger(cfg.LedgerPath)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, cfg.StorageURL)
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}

	v := &vault{
		cfg:    cfg,
		ledger: ledger,
		store:  store,
		events: make(chan transfer.Event, 64),
		done:   make(chan struct{}),
	}
	v.controller = transfer.NewController(ledger, store,
		transfer.WithPartSize(partSize),
		transfer.WithConcurrency(cfg.Concurrency),
		transfer.WithRetry(transfer.RetryPolicy{
			MaxAttempts: cfg.Retry.Attempts,
			BaseDelay:   cfg.Retry.Backoff,
			MaxDelay:    cfg.Retry.MaxBackoff,
			Jitter:      cfg.Retry.Jitter,
		}),
		transfer.WithCodec(codec),
		transfer.WithVerifyUploads(cfg.VerifyUploads),
		transfer.WithProgress(v.events),
		transfer.WithLogger(logging.Logger()),
	)

	quiet := c.Bool("quiet")
	tracker := transfer.NewTracker()
	printCtx, stop := context.WithCancel(context.Background())
	v.stop = stop
	go func() {
		defer close(v.done)
		tracker.Consume(printCtx, v.events, func(p transfer.Progress) {
			if !quiet {
				fmt.Fprintf(c.App.ErrWriter, "\r%s\033[K", p)
				if p.Final() {
					fmt.Fprintln(c.App.ErrWriter)
				}
			}
		})
	}()
	return v, nil
}

// Close stops progress output and releases the store and ledger. The events
// channel stays open: abandoned parts of a cancelled session may still report.
func (v *vault) Close() error {
	v.stop()
	<-v.done
	err := storage.Close(v.store)
	if cerr := v.ledger.Close(); err == nil {
		err = cerr
	}
	return err
}

// lister returns the store as a storage.Lister when it can enumerate objects.
func (v *vault) lister() (storage.Lister, error) {
	lister, ok := v.store.(storage.Lister)
	if !ok {
		return nil, fmt.Errorf("storage %s cannot list its objects", v.cfg.StorageURL)
	}
	return lister, nil
}

// withVault opens the vault for the duration of a command action.
func withVault(action func(ctx context.Context, c *cli.Context, v *vault) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx := c.Context
		v, err := openVault(ctx, c)
		if err != nil {
			return err
		}
		err = action(ctx, c, v)
		if cerr := v.Close(); err == nil {
			err = cerr
		}
		return err
	}
}
