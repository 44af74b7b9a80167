// Command lqap-node runs an LQAP edge node.
//
// The node enrolls identities against their PUF hardware, issues
// one-time credentials from per-identity Merkle key trees, and runs
// authentication sessions for its domain. Identity records persist to
// PostgreSQL when configured; audit records flow to the configured
// ledger with a durable SQLite fallback queue.
//
//	go run ./cmd/lqap-node --config=node.toml
//	go run ./cmd/lqap-node --addr=:8080 --domain=domain-a --node-id=edge-1
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shafiqahmeddev/lqap-project/api/httpserver"
	"github.com/shafiqahmeddev/lqap-project/cmd/common"
	"github.com/shafiqahmeddev/lqap-project/services"
)

func main() {
	var (
		configPath  = flag.String("config", "", "TOML configuration file")
		addr        = flag.String("addr", "", "HTTP listen address (overrides config)")
		metricsAddr = flag.String("metrics-addr", "", "Metrics listen address (overrides config)")
		nodeID      = flag.String("node-id", "", "Node identifier (overrides config)")
		domain      = flag.String("domain", "", "Administrative domain (overrides config)")
		ledgerURL   = flag.String("ledger", "", "Audit ledger URL (overrides config)")
		scorerURL   = flag.String("scorer", "", "Anomaly scorer URL (overrides config)")
		queuePath   = flag.String("audit-queue", "", "SQLite audit fallback queue path (overrides config)")
		logJSON     = flag.Bool("log-json", false, "Log in JSON format")
		logDebug    = flag.Bool("log-debug", false, "Enable debug logging")
	)
	flag.Parse()

	fileConfig, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	override(&fileConfig.HTTPAddr, *addr, ":8080")
	override(&fileConfig.MetricsAddr, *metricsAddr, "")
	override(&fileConfig.NodeID, *nodeID, "edge-node-1")
	override(&fileConfig.Domain, *domain, "domain-a")
	override(&fileConfig.LedgerURL, *ledgerURL, "")
	override(&fileConfig.ScorerURL, *scorerURL, "")
	override(&fileConfig.AuditQueuePath, *queuePath, "")

	log := common.NewLogger(fileConfig.LogJSON || *logJSON, fileConfig.LogDebug || *logDebug)

	protocolConfig, err := fileConfig.ProtocolConfig()
	if err != nil {
		log.Error("Invalid protocol config", "err", err)
		os.Exit(1)
	}

	var store services.RegistryStore
	if pg := fileConfig.PostgresConfig(); pg != nil {
		store, err = services.NewPostgresStore(pg)
		if err != nil {
			log.Error("PostgreSQL store failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	registry, err := services.NewIdentityRegistry(store)
	if err != nil {
		log.Error("Identity registry failed", "err", err)
		os.Exit(1)
	}

	node, err := services.NewNode(&services.ServiceConfig{
		ProtocolConfig: protocolConfig,
		NodeID:         fileConfig.NodeID,
		Domain:         fileConfig.Domain,
		HTTPAddr:       fileConfig.HTTPAddr,
		MetricsAddr:    fileConfig.MetricsAddr,
		LedgerURL:      fileConfig.LedgerURL,
		ScorerURL:      fileConfig.ScorerURL,
		AuditQueuePath: fileConfig.AuditQueuePath,
		Log:            log,
	}, registry)
	if err != nil {
		log.Error("Node creation failed", "err", err)
		os.Exit(1)
	}

	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               fileConfig.HTTPAddr,
		MetricsAddr:              fileConfig.MetricsAddr,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, services.NewNodeHandler(node), registry)
	if err != nil {
		log.Error("Server creation failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go node.Run(ctx)

	// Drain any audit records parked during previous downtime.
	if fileConfig.LedgerURL != "" {
		if err := node.ReplayDeferredAudit(ctx); err != nil {
			log.Warn("Replaying deferred audit records failed", "err", err)
		}
	}

	srv.RunInBackground()
	log.Info("Node running", "node", fileConfig.NodeID, "domain", fileConfig.Domain,
		"addr", fileConfig.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down")
	cancel()
	srv.Shutdown()
}

// override applies a flag value over the config value, falling back to a
// default when both are empty.
func override(dest *string, flagValue, fallback string) {
	if flagValue != "" {
		*dest = flagValue
	}
	if *dest == "" {
		*dest = fallback
	}
}
