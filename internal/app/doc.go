// Package app composes the allocation layer into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── allocation/     # Allocation records and top-up requests
//	│   ├── farmer/         # Farmer profiles
//	│   └── telemetry/      # Sensor events and live readings
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # Store interfaces with transition semantics
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── decision/       # Telemetry → inference → pending allocation
//	│   ├── approval/       # Human decisions, ledger commits, notifications
//	│   └── registry/       # Farmer onboarding and authentication
//	├── ledger/             # Commit backends (fabric, evm)
//	├── ingest/             # MQTT telemetry subscriber
//	├── notify/             # Farmer notification publishers
//	├── httpapi/            # Admin and farmer REST surfaces
//	├── config/             # Environment and file configuration
//	├── faults/             # Sentinel errors shared across layers
//	├── metrics/            # Prometheus collectors
//	└── system/             # Service lifecycle management
//
// # Dependency Direction
//
//	cmd/allocationd/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      ├──► internal/app/storage/  (persistence)
//	      └──► internal/app/ledger/   (chain commits)
//
// Business logic lives in services/; this package only wires stores,
// gateways and publishers together and manages their lifecycle.
package app
