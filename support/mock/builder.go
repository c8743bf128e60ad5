package mock

import (
	"context"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	cid "github.com/ipfs/go-cid"
)

// RuntimeBuilder configures the execution context of mock runtimes.
type RuntimeBuilder struct {
	rt *Runtime
}

// NewBuilder starts a builder for runtimes executing as receiver, at epoch zero with no caller.
func NewBuilder(ctx context.Context, receiver addr.Address) *RuntimeBuilder {
	return &RuntimeBuilder{&Runtime{
		ctx:           ctx,
		receiver:      receiver,
		callerType:    cid.Undef,
		state:         cid.Undef,
		store:         make(map[cid.Cid][]byte),
		actorCodeCIDs: make(map[addr.Address]cid.Cid),
	}}
}

// Build returns a runtime bound to t. Each call gets its own copy of the block store and code table,
// so one builder can serve several subtests.
func (b *RuntimeBuilder) Build(t testing.TB) *Runtime {
	rt := *b.rt
	rt.t = t
	rt.store = make(map[cid.Cid][]byte, len(b.rt.store))
	for c, blk := range b.rt.store {
		rt.store[c] = blk
	}
	rt.actorCodeCIDs = make(map[addr.Address]cid.Cid, len(b.rt.actorCodeCIDs))
	for a, code := range b.rt.actorCodeCIDs {
		rt.actorCodeCIDs[a] = code
	}
	return &rt
}

func (b *RuntimeBuilder) WithEpoch(epoch abi.ChainEpoch) *RuntimeBuilder {
	b.rt.epoch = epoch
	return b
}

func (b *RuntimeBuilder) WithCaller(address addr.Address, code cid.Cid) *RuntimeBuilder {
	b.rt.caller = address
	b.rt.callerType = code
	b.rt.actorCodeCIDs[address] = code
	return b
}
