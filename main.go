package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"invoicedash/internal/app"
	"invoicedash/internal/config"
	"invoicedash/internal/logging"
	"invoicedash/internal/realtime"
	"invoicedash/internal/runstatus"
	"invoicedash/internal/runtime"
	"invoicedash/internal/ui/tui"
)

var BuildVersion = "dev"

func main() {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	opts, err := config.ParseOptions()
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if saved, loadErr := config.LoadSettings(); loadErr == nil {
		opts = config.MergeOptionsWithSettings(opts, saved, config.DefaultOptions())
	}

	lock, lockedByOther, lockErr := acquireInstanceLock()
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		os.Exit(2)
	}
	if lockedByOther {
		fmt.Fprintln(os.Stderr, "Invoice dashboard is already running.")
		os.Exit(1)
	}
	defer func() {
		_ = lock.Release()
	}()

	logger := logging.New(opts.Debug)
	defer func() {
		_ = logger.Close()
	}()
	if err := logger.EnableFilePersistence(0); err != nil {
		logger.Warn("failed to enable file log persistence", logging.Field("error", err))
	}
	logger.Info("starting invoice dashboard", logging.Field("version", BuildVersion))

	if opts.Plain {
		err = runPlain(rootCtx, opts, logger)
	} else {
		err = tui.Run(rootCtx, BuildVersion, opts, logger)
	}
	if err != nil {
		logger.Error("dashboard exited with error", logging.Field("error", err))
		fmt.Fprintln(os.Stderr, err)
		// os.Exit skips deferred calls.
		_ = logger.Close()
		_ = lock.Release()
		os.Exit(1)
	}
}

func runPlain(ctx context.Context, opts config.Options, logger *logging.Logger) error {
	service, err := runtime.NewServiceWithHooks(opts, logger, runtime.StartHooks{
		OnStatus: func(status string) {
			logger.Info("status", logging.Field("status", status), logging.Field("phase", runstatus.PhaseOf(status)))
		},
		OnSnapshot: func(s app.Snapshot) {
			logger.Info("dashboard updated",
				logging.Field("invoices", s.Summary.InvoiceCount),
				logging.Field("total", s.Summary.TotalAmount),
				logging.Field("overdue", s.Summary.OverdueCount),
				logging.Field("pending_approvals", s.Summary.PendingApprovals),
				logging.Field("unread_notifications", s.Summary.UnreadNotifications),
			)
		},
		OnEvent: func(e realtime.Classified) {
			logger.Info("realtime event", logging.Field("type", e.Raw().Type))
		},
	})
	if err != nil {
		return err
	}
	err = service.RunContext(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
