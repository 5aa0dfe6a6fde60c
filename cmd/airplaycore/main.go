// Command airplaycore runs the metrics HTTP surface for the audio
// streaming core and, in debug mode, logs the configured status
// websocket address; it does not serve the status websocket itself.
// Session lifecycle (RTSP handshake, key
// exchange, and the resulting session.NewClassicService /
// session.NewAP2Service calls) is driven by the RTSP layer, out of
// this binary's scope; this entry point only owns process-wide
// concerns that exist before any session does.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwsl/airplaycore/config"
	"github.com/cwsl/airplaycore/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var debugMode bool

func main() {
	configPath := flag.String("config", "", "path to YAML config file (defaults built in if unset)")
	flag.BoolVar(&debugMode, "debug", false, "enable verbose logging")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("airplaycore: %v", err)
		}
		cfg = loaded
	}
	if debugMode {
		cfg.Debug = true
	}

	reg := prometheus.NewRegistry()
	collectors := metrics.NewCollectors(reg)
	_ = collectors

	metricsServer := &http.Server{
		Addr:    cfg.Metrics.ListenAddr,
		Handler: metrics.Handler(reg),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("airplaycore: metrics server: %v", err)
		}
	}()

	if cfg.Debug {
		log.Printf("airplaycore: metrics listening on %s", cfg.Metrics.ListenAddr)
		log.Printf("airplaycore: status websocket configured for %s (armed per-session)", cfg.Status.ListenAddr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(ctx)
}
