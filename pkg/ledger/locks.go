package ledger

import (
	"hash/fnv"
	"sync"
)

const lockStripeCount = 128

// accountLocks serializes read-modify-write of a balance even when the
// backing store has no row locking. Locks are striped by a hash of the
// account ID, so the table stays fixed-size regardless of how many accounts
// pass through; two accounts sharing a stripe serialize against each other.
type accountLocks struct {
	stripes [lockStripeCount]sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{}
}

func (locks *accountLocks) lockFor(accountID string) *sync.Mutex {
	hash := fnv.New32a()
	_, _ = hash.Write([]byte(accountID))
	return &locks.stripes[hash.Sum32()%lockStripeCount]
}
