// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnsuite/mnd/paystore"
)

const (
	appName = "mnd"

	appMajor uint = 0
	appMinor uint = 3
	appPatch uint = 1
)

// shutdownTimeout bounds the graceful shutdown of the metrics server.
const shutdownTimeout = 5 * time.Second

// version returns the application version as a properly formed string.
func version() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}

// mndMain is the real main function for mnd.  It is necessary to work around
// the fact that deferred functions do not run when os.Exit() is called.
func mndMain() error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	cfg, _, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	if err := initLogRotator(logFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Get a context that will be canceled when a shutdown signal has been
	// triggered from an OS signal such as SIGINT (Ctrl+C).
	ctx, cancel := shutdownListener()
	defer cancel()
	defer mndLog.Info("Shutdown complete")

	mndLog.Infof("Version %s", version())
	mndLog.Infof("Active network: %s", activeNetParams.Name)
	if cfg.LiteMode {
		mndLog.Infof("Lite mode, masternode processing is disabled")
	}

	// Open the payment history.
	dbPath := filepath.Join(cfg.DataDir, "payments_"+cfg.DbType)
	store, err := paystore.Open(cfg.DbType, dbPath)
	if err != nil {
		mndLog.Errorf("Unable to open payment history: %v", err)
		return err
	}
	defer func() {
		mndLog.Infof("Gracefully shutting down the payment history...")
		store.Close()
	}()

	s, err := newServer(cfg, activeNetParams, store, serverDeps{})
	if err != nil {
		mndLog.Errorf("Unable to start server: %v", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.runScheduler(gctx)
	})

	if cfg.Prometheus != "" {
		handler, err := s.metricsHandler()
		if err != nil {
			mndLog.Errorf("Unable to create metrics handler: %v", err)
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		metricsServer := &http.Server{
			Addr:              cfg.Prometheus,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			mndLog.Infof("Metrics server listening on %s", cfg.Prometheus)
			err := metricsServer.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(), shutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if err != nil {
		mndLog.Errorf("%v", err)
	}

	mndLog.Infof("Writing masternode caches...")
	s.dumpCaches()
	return err
}

func main() {
	// Processing a full masternode list causes bursty allocations.  This
	// limits the garbage collector from excessively overallocating during
	// bursts.
	debug.SetGCPercent(10)

	// Work around defer not working after os.Exit()
	if err := mndMain(); err != nil {
		os.Exit(1)
	}
}
