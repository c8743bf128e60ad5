package vm

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
	"github.com/minio/blake2b-simd"
	"golang.org/x/xerrors"

	"github.com/timeloc/capsule-actors/actors/util/adt"
	"github.com/timeloc/capsule-actors/support/ipld"
)

// Message is a top level message submitted for inclusion in a block.
type Message struct {
	From   addr.Address
	To     addr.Address
	Method abi.MethodNum
	Params cbor.Marshaler
}

// Receipt is the outcome of a message included in a block.
type Receipt struct {
	ExitCode exitcode.ExitCode
	// CBOR encoding of the return value. Empty when the message failed or returned nothing.
	Return []byte
	// Decoded return value, nil when Return is empty.
	Ret cbor.Marshaler
	// Abort message of a failed message. Not part of the block digest.
	Error string
}

// Block is a set of messages executed at one height, in submission order.
type Block struct {
	Height    abi.ChainEpoch
	Parent    BlockDigest
	StateRoot cid.Cid
	Messages  []Message
	Receipts  []Receipt
	Digest    BlockDigest
}

// BlockDigest is the blake2b-256 digest of a block header and its receipts.
type BlockDigest [32]byte

func (d BlockDigest) String() string {
	return hex.EncodeToString(d[:])
}

// Chain produces blocks over a VM. Each block executes its messages at the height following the tip.
// A Chain is not safe for concurrent use, but independent chains share nothing.
type Chain struct {
	vm       *VM
	blocks   []*Block
	accounts []addr.Address
	metrics  *ipld.MetricsBlockStore
}

// NewChain creates a chain whose genesis block holds the builtin singletons and the given number of
// accounts.
func NewChain(ctx context.Context, accounts int) (*Chain, error) {
	metrics := ipld.NewMetricsBlockStore(ipld.NewBlockStoreInMemory())
	v, err := NewVM(ctx, adt.WrapBlockStore(ctx, metrics))
	if err != nil {
		return nil, err
	}
	ids, err := v.CreateAccounts(accounts)
	if err != nil {
		return nil, xerrors.Errorf("failed to create genesis accounts: %w", err)
	}

	genesis := &Block{
		Height:    v.GetEpoch(),
		StateRoot: v.StateRoot(),
	}
	genesis.Digest = genesis.computeDigest()
	log.Infow("genesis", "height", genesis.Height, "accounts", accounts, "root", genesis.StateRoot)

	return &Chain{
		vm:       v,
		blocks:   []*Block{genesis},
		accounts: ids,
		metrics:  metrics,
	}, nil
}

// VM returns the VM holding the chain state.
func (c *Chain) VM() *VM {
	return c.vm
}

// Accounts returns the ID addresses of the genesis accounts.
func (c *Chain) Accounts() []addr.Address {
	return c.accounts
}

// Tip returns the most recent block.
func (c *Chain) Tip() *Block {
	return c.blocks[len(c.blocks)-1]
}

// Height returns the height of the tip.
func (c *Chain) Height() abi.ChainEpoch {
	return c.Tip().Height
}

// Blocks returns all blocks, genesis first.
func (c *Chain) Blocks() []*Block {
	return c.blocks
}

// MineBlock executes the messages at the height following the tip and appends the resulting block.
func (c *Chain) MineBlock(msgs ...Message) *Block {
	parent := c.Tip()
	height := parent.Height + 1
	if err := c.vm.SetEpoch(height); err != nil {
		panic(err)
	}

	receipts := make([]Receipt, len(msgs))
	for i, msg := range msgs {
		result := c.vm.ApplyMessage(msg.From, msg.To, msg.Method, msg.Params)
		receipts[i] = newReceipt(result)
	}

	blk := &Block{
		Height:    height,
		Parent:    parent.Digest,
		StateRoot: c.vm.StateRoot(),
		Messages:  msgs,
		Receipts:  receipts,
	}
	blk.Digest = blk.computeDigest()
	c.blocks = append(c.blocks, blk)

	log.Infow("mined block", "height", height, "messages", len(msgs), "root", blk.StateRoot, "digest", blk.Digest)
	return blk
}

// MineEmptyBlock appends a block without messages.
func (c *Chain) MineEmptyBlock() *Block {
	return c.MineBlock()
}

// MineEmptyBlockUntil appends empty blocks until the tip is at least the given height.
func (c *Chain) MineEmptyBlockUntil(height abi.ChainEpoch) {
	for c.Height() < height {
		c.MineEmptyBlock()
	}
}

// StoreStats reports the number of blocks read from and written to the chain's store.
func (c *Chain) StoreStats() (reads, writes uint64) {
	return c.metrics.ReadCount(), c.metrics.WriteCount()
}

func newReceipt(result MessageResult) Receipt {
	r := Receipt{
		ExitCode: result.Code,
		Ret:      result.Ret,
		Error:    result.Message,
	}
	if result.Ret != nil {
		buf := new(bytes.Buffer)
		if err := result.Ret.MarshalCBOR(buf); err != nil {
			panic(xerrors.Errorf("failed to encode return value: %w", err))
		}
		r.Return = buf.Bytes()
	}
	return r
}

func (b *Block) computeDigest() BlockDigest {
	h := blake2b.New256()
	var scratch [8]byte

	binary.BigEndian.PutUint64(scratch[:], uint64(b.Height))
	_, _ = h.Write(scratch[:])
	_, _ = h.Write(b.Parent[:])
	_, _ = h.Write(b.StateRoot.Bytes())
	for _, r := range b.Receipts {
		binary.BigEndian.PutUint64(scratch[:], uint64(r.ExitCode))
		_, _ = h.Write(scratch[:])
		binary.BigEndian.PutUint64(scratch[:], uint64(len(r.Return)))
		_, _ = h.Write(scratch[:])
		_, _ = h.Write(r.Return)
	}

	var d BlockDigest
	copy(d[:], h.Sum(nil))
	return d
}
