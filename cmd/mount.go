// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/edenfs-go/edenfs/cfg"
	"github.com/edenfs-go/edenfs/fs"
	internallogger "github.com/edenfs-go/edenfs/internal/logger"
	"github.com/edenfs-go/edenfs/metrics"
	"github.com/edenfs-go/edenfs/model"
	"github.com/edenfs-go/edenfs/mount"
	"github.com/edenfs-go/edenfs/objectstore"
	"github.com/edenfs-go/edenfs/tracing"
)

const shutdownTimeout = 10 * time.Second

// runMount opens the overlay and object store named in c, mounts the
// resulting EdenMount at c.Mount.Point, and blocks until the kernel
// unmounts it or a termination signal arrives.
func runMount(ctx context.Context, c *cfg.Config) error {
	log := internallogger.New(c.Logging)
	slog.SetDefault(log)

	store, err := objectstore.OpenLocalStore(c.Store.Dir)
	if err != nil {
		return fmt.Errorf("cmd: opening object store: %w", err)
	}

	var rootHash model.Hash
	if c.Mount.Commit != "" {
		rootHash, err = decodeHash(c.Mount.Commit)
		if err != nil {
			return err
		}
	}

	m, err := mount.Open(c.Overlay.Dir, store, timeutil.RealClock(), rootHash)
	if err != nil {
		return fmt.Errorf("cmd: opening mount: %w", err)
	}

	if c.Checkout.LockTimeout > 0 {
		m.SetParentLockTimeout(c.Checkout.LockTimeout)
	}
	if c.Checkout.PrefetchConcurrency > 0 {
		m.SetPrefetchLimiter(rate.NewLimiter(rate.Limit(c.Checkout.PrefetchConcurrency), c.Checkout.PrefetchConcurrency))
	}

	if c.Telemetry.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m.SetMetrics(metrics.NewRegistry(reg))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: c.Telemetry.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", "error", err)
			}
		}()
		defer metricsServer.Close()
	}

	if c.Telemetry.TracingStdout {
		tp, err := tracing.NewStdoutTracerProvider(os.Stdout)
		if err != nil {
			return fmt.Errorf("cmd: building tracer provider: %w", err)
		}
		defer tracing.ShutdownTracerProvider(context.Background(), tp)
		m.SetTracer(tracing.NewOtelTracer(tp))
	}

	if err := m.Start(); err != nil {
		return fmt.Errorf("cmd: starting mount: %w", err)
	}

	uid := uint32(os.Getuid())
	gid := uint32(os.Getgid())
	server, err := fs.NewServer(&fs.ServerConfig{Mount: m, Uid: uid, Gid: gid, Logger: log})
	if err != nil {
		return fmt.Errorf("cmd: building fuse server: %w", err)
	}

	mountCfg := &fuse.MountConfig{
		FSName:   "edenfs",
		ReadOnly: c.Mount.ReadOnly,
	}
	mfs, err := fuse.Mount(c.Mount.Point, server, mountCfg)
	if err != nil {
		return fmt.Errorf("cmd: mounting at %s: %w", c.Mount.Point, err)
	}
	log.Info("mounted", "point", c.Mount.Point, "overlay", c.Overlay.Dir, "generation", m.Generation())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("signal received, requesting unmount", "point", c.Mount.Point)
		m.RequestUnmount()
		if err := fuse.Unmount(c.Mount.Point); err != nil {
			log.Error("unmount failed", "error", err)
		}
	}()

	if err := mfs.Join(ctx); err != nil {
		return fmt.Errorf("cmd: waiting for unmount: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.Shutdown(shutdownCtx, nil); err != nil {
		return fmt.Errorf("cmd: shutting down mount: %w", err)
	}
	return nil
}
