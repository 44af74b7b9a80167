// Package cmd provides CLI commands for LQAP services.
//
// # Commands
//
// lqap-node: Runs an edge node serving enrollment, credential issuance,
// and authentication for its domain. Supports PostgreSQL-backed identity
// persistence, an external audit ledger, and an external anomaly scorer.
//
//	go run ./cmd/lqap-node --addr=:8080 --domain=domain-a
//	go run ./cmd/lqap-node --config=node.toml
//
// lqap-demo: Deploys a complete local stack (ledger, scorer, node) with
// simulated PUF devices and walks through the authentication scenarios:
// intra-domain, cross-domain with possession proof, a cloned device, and
// an anomaly-flagged vehicle.
//
//	go run ./cmd/lqap-demo --vehicles=5 --stations=4
//
// # Configuration
//
// The node command reads a TOML configuration file via the --config
// flag; command-line flags override config file values.
//
// Example node.toml:
//
//	node_id = "edge-node-1"
//	domain = "domain-a"
//	http_addr = ":8080"
//	metrics_addr = ":9090"
//	ledger_url = "http://ledger.internal:8080"
//	scorer_url = "http://scorer.internal:8080"
//	audit_queue_path = "/var/lib/lqap/audit-queue.db"
//
//	[postgres]
//	host = "localhost"
//	port = 5432
//	user = "lqap"
//	password = "secret"
//	database = "lqap"
//
//	[protocol]
//	tree_height = 10
//	anomaly_threshold = 0.7
//	anomaly_fail_open = false
package cmd
