// Package ledger defines the uniform contract over the distributed-ledger
// backends that record approved allocations. Two implementations exist: a
// Hyperledger Fabric chaincode gateway and an EVM smart-contract gateway.
// Callers never branch on backend identity; both return an opaque
// transaction reference.
package ledger

import (
	"context"
	"time"
)

// Gateway commits allocation facts to the ledger backend.
//
// Both operations are synchronous: they return once the backend has accepted
// the commit, with the backend's transaction reference. Failures are
// classified as faults.ErrLedgerUnavailable (transient; the caller may retry
// the same approval) or faults.ErrLedgerRejected (permanent: duplicate id,
// missing base allocation, malformed arguments).
//
// Implementations open and release any underlying connection per call; no
// session is held across calls. Duplicate commit attempts for an id already
// on the ledger must be rejected, which is what makes approval retries safe.
type Gateway interface {
	CommitAllocation(ctx context.Context, id, farmerID string, volume int64, ts time.Time) (string, error)
	CommitTopUp(ctx context.Context, baseID string, volume int64, ts time.Time) (string, error)
}
