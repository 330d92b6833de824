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
)

// runProxy loads a node config file and serves only the HTTP API, never the
// peer-fanout listener runNode starts: a proxy owns no shard of its own
// (SPEC_FULL.md "Node/proxy split", grounded on
// original_source/daqbuffer/src/proxy.rs), so it has nothing for another
// node to sub-query and runs no net.Listener of its own. Every query it
// receives is answered purely by fanning out to cfg.Peers.
func runProxy(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("proxy", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "path to the node config JSON file")
	otlpOverride := fs.String("otlp-endpoint", "", "override the config's OTel collector endpoint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cfgPath == "" {
		return errors.New("proxy: -config is required")
	}

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	cfg.Proxy = true
	if cfg.HTTPAddr == "" {
		return errors.New("proxy: config httpAddr is required")
	}
	if len(cfg.Peers) == 0 {
		return errors.New("proxy: config peers must list at least one node to fan out to")
	}

	otlpEndpoint := cfg.OTLPEndpoint
	if *otlpOverride != "" {
		otlpEndpoint = *otlpOverride
	}
	logProvider, err := logging.New(ctx, logging.Options{
		ServiceName:  fmt.Sprintf("daqbuffer-proxy-%d", cfg.NodeIndex),
		NodeIndex:    cfg.NodeIndex,
		OTLPEndpoint: otlpEndpoint,
		Level:        slog.LevelInfo,
	})
	if err != nil {
		return fmt.Errorf("proxy: logging: %w", err)
	}
	defer logProvider.Shutdown(context.Background())
	log := logProvider.Logger

	pg, pool, err := catalog.Connect(ctx, cfg.CatalogDSN, fmt.Sprintf("daqbuffer-proxy-%d", cfg.NodeIndex))
	if err != nil {
		return fmt.Errorf("proxy: catalog: %w", err)
	}
	defer pool.Close()

	hs := httpapi.New(cfg, pg, log)
	mux := http.NewServeMux()
	mux.Handle("/", hs.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "proxy http api starting", "addr", cfg.HTTPAddr, "peers", len(cfg.Peers))
		return srv.ListenAndServe()
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("proxy: %w", err)
	}
	return nil
}
