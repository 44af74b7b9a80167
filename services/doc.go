// Package services implements the HTTP-facing LQAP components: the edge
// node that enrolls identities and runs authentication sessions, the
// identity registry with optional PostgreSQL persistence, the audit
// ledger client with its durable SQLite fallback queue, and the anomaly
// scorer client.
//
// The edge node composes the protocol engine behind a small HTTP API:
//
//	POST /api/enroll                  enroll an identity and provision keys
//	POST /api/credential              issue a one-time credential
//	POST /api/session                 open an authentication session
//	POST /api/session/{id}/authenticate
//	GET  /api/session/{id}           inspect session state
//
// Counterparties only ever see coarse reason codes; detailed evidence
// flows to the audit ledger.
package services
