// Package app composes the marketplace services into a running
// application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/market/      # Domain models and the stored-field contract
//	├── services/           # Business logic over the tree store
//	│   ├── categories/     # Category registry
//	│   ├── items/          # Dual-write item ledger
//	│   ├── transactions/   # Pending-to-completed trade state machine
//	│   └── policy/         # Ownership and participation predicates
//	├── httpapi/            # REST handlers and websocket live feeds
//	├── reconcile/          # Ledger consistency sweeper
//	├── system/             # Lifecycle manager
//	└── metrics/            # Prometheus collectors
//
// Persistence goes through internal/treestore, a hierarchical path
// store with in-memory and Postgres implementations. Services own all
// business rules; httpapi only maps requests and errors. The storage
// layout is a fixed contract (see domain/market/fields.go) shared with
// pre-existing data, so services write loose field maps rather than
// serialized structs.
package app
