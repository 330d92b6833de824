package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/psi-daq/daqbuffer-go/catalog"
	"github.com/psi-daq/daqbuffer-go/config"
	"github.com/psi-daq/daqbuffer-go/httpapi"
	"github.com/psi-daq/daqbuffer-go/logging"
	"github.com/psi-daq/daqbuffer-go/node"
)

// runNode loads a node config file, connects its catalog, and serves its
// peer-fanout listener and HTTP API until ctx is cancelled.
func runNode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "path to the node config JSON file")
	otlpOverride := fs.String("otlp-endpoint", "", "override the config's OTel collector endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cfgPath == "" {
		return errors.New("node: -config is required")
	}

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}

	otlpEndpoint := cfg.OTLPEndpoint
	if *otlpOverride != "" {
		otlpEndpoint = *otlpOverride
	}
	logProvider, err := logging.New(ctx, logging.Options{
		ServiceName:  fmt.Sprintf("daqbuffer-node-%d", cfg.NodeIndex),
		NodeIndex:    cfg.NodeIndex,
		OTLPEndpoint: otlpEndpoint,
		Level:        slog.LevelInfo,
	})
	if err != nil {
		return fmt.Errorf("node: logging: %w", err)
	}
	defer logProvider.Shutdown(context.Background())
	log := logProvider.Logger

	pg, pool, err := catalog.Connect(ctx, cfg.CatalogDSN, fmt.Sprintf("daqbuffer-node-%d", cfg.NodeIndex))
	if err != nil {
		return fmt.Errorf("node: catalog: %w", err)
	}
	defer pool.Close()

	ns := node.New(cfg, pg, log)
	hs := httpapi.New(cfg, pg, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "peer fan-out listener starting", "addr", cfg.ListenAddr)
		return ns.ListenAndServe(gctx)
	})
	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/", hs.Handler())
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
		g.Go(func() error {
			log.InfoContext(gctx, "http api starting", "addr", cfg.HTTPAddr)
			return srv.ListenAndServe()
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("node: %w", err)
	}
	return nil
}
