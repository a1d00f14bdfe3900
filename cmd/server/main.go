// cmd/server/main.go
// Ingest node: accepts fountain packets over gRPC, decodes per object,
// persists accepted records in bbolt and exposes Prometheus metrics.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dattu/dna_fountain/pkg/config"
	"github.com/dattu/dna_fountain/pkg/ingest"
	"github.com/dattu/dna_fountain/pkg/logging"
	"github.com/dattu/dna_fountain/pkg/metrics"
	"github.com/dattu/dna_fountain/pkg/protocol"
	"github.com/dattu/dna_fountain/pkg/storage"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
)

/* ------------------------------------------------------------------------ */
/* constants                                                                */
/* ------------------------------------------------------------------------ */

const (
	shutdownTimeout = 10 * time.Second
	metricsTimeout  = 5 * time.Second
)

/* ------------------------------------------------------------------------ */
/* main                                                                     */
/* ------------------------------------------------------------------------ */

func main() {
	fs := pflag.NewFlagSet("server", pflag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML configuration file")
	snapshot := fs.String("snapshot", "", "copy the packet database to this directory and exit")
	config.RegisterFlags(fs)
	fs.Parse(os.Args[1:])

	cfg, err := config.Load(*cfgPath, fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *snapshot != "" {
		if err := runSnapshot(cfg, log, *snapshot); err != nil {
			log.WithError(err).Fatal("snapshot failed")
		}
		return
	}
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	/* metrics */
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	decMetrics := metrics.NewDecoder(reg)

	/* storage */
	if err := os.MkdirAll(cfg.Storage.Datadir, 0o755); err != nil {
		return fmt.Errorf("mkdir datadir: %w", err)
	}
	db, err := storage.OpenPacketDB(cfg.Storage.DB, log)
	if err != nil {
		return err
	}
	defer db.Close()

	/* service */
	dopts, err := cfg.DecoderOptions()
	if err != nil {
		return err
	}
	dopts.Metrics = decMetrics
	svc, err := ingest.NewService(ingest.Options{Decoder: dopts, Store: db, Logger: log})
	if err != nil {
		return err
	}
	n, err := svc.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	log.WithField("records", humanize.Comma(int64(n))).Info("stored packets replayed")
	go svc.RunExpiry(ctx, cfg.Server.TTL)

	/* /metrics endpoint */
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	msrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: metricsTimeout,
	}
	go func() {
		log.WithField("addr", msrv.Addr).Info("prometheus metrics on /metrics")
		if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics listener")
		}
	}()

	/* gRPC */
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	gs := grpc.NewServer()
	protocol.RegisterIngestServer(gs, svc)
	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		msrv.Shutdown(sctx)
		gs.GracefulStop()
	}()

	log.WithFields(logrus.Fields{
		"port":   cfg.Server.GRPCPort,
		"scheme": cfg.Scheme.Name,
		"codec":  cfg.ECC.Codec,
		"db":     cfg.Storage.DB,
		"ttl":    cfg.Server.TTL,
	}).Info("ingest node ready")
	return gs.Serve(lis)
}

/* ------------------------------------------------------------------------ */
/* snapshot                                                                 */
/* ------------------------------------------------------------------------ */

func runSnapshot(cfg *config.Config, log *logrus.Logger, dstDir string) error {
	db, err := storage.OpenPacketDB(cfg.Storage.DB, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return err
	}
	tag := time.Now().Format("20060102-150405")
	dst := filepath.Join(dstDir, tag+"-"+filepath.Base(cfg.Storage.DB))
	if err := db.Snapshot(dst); err != nil {
		return err
	}
	if st, err := os.Stat(dst); err == nil {
		log.WithFields(logrus.Fields{"path": dst, "size": humanize.Bytes(uint64(st.Size()))}).Info("snapshot created")
	}
	return nil
}
