package vm

import (
	cid "github.com/ipfs/go-cid"
)

// TestActor is the state tree entry for an actor.
type TestActor struct {
	Head cid.Cid
	Code cid.Cid
}

// StateTree is the root object of the VM state: the actors keyed by ID address, the table resolving
// public key addresses to ID addresses, and the next ID to assign.
type StateTree struct {
	Actors    cid.Cid // HAMT[addr.Address]TestActor
	Addresses cid.Cid // HAMT[addr.Address]addr.Address
	NextID    uint64
}
