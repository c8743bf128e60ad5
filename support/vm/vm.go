package vm

import (
	"bytes"
	"context"
	"fmt"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/minio/blake2b-simd"
	"golang.org/x/xerrors"

	"github.com/timeloc/capsule-actors/actors/builtin"
	"github.com/timeloc/capsule-actors/actors/builtin/account"
	"github.com/timeloc/capsule-actors/actors/builtin/capsule"
	"github.com/timeloc/capsule-actors/actors/builtin/exported"
	"github.com/timeloc/capsule-actors/actors/runtime"
	"github.com/timeloc/capsule-actors/actors/util/adt"
)

var log = logging.Logger("vm")

// GenesisEpoch is the height of the genesis state. The first mined block is at GenesisEpoch + 1.
const GenesisEpoch = abi.ChainEpoch(1)

// Bitwidth of the HAMTs holding the actor table and the address table.
const StateTreeHamtBitwidth = 5

// VM holds the state and executes messages over the state.
type VM struct {
	ctx   context.Context
	store adt.Store

	currentEpoch abi.ChainEpoch

	actorImpls ActorImplLookup
	stateRoot  cid.Cid  // The last committed root.
	actors     *adt.Map // The current (not necessarily committed) actor table.
	addresses  *adt.Map // The current public key to ID address table.
	nextID     uint64

	emptyObject cid.Cid

	invocations []*Invocation
}

type ActorImplLookup map[cid.Cid]runtime.VMActor

// MessageResult is the outcome of applying a message.
type MessageResult struct {
	Ret  cbor.Marshaler
	Code exitcode.ExitCode
	// The abort message, when Code is not Ok.
	Message string
}

// Invocation records a message applied to the VM and its outcome.
type Invocation struct {
	Msg      internalMessage
	Exitcode exitcode.ExitCode
	Ret      cbor.Marshaler
}

type internalMessage struct {
	from   addr.Address
	to     addr.Address
	method abi.MethodNum
	params []byte
}

// NewVM creates a VM holding the genesis state: the system actor and the capsule actor, constructed at
// GenesisEpoch.
func NewVM(ctx context.Context, store adt.Store) (*VM, error) {
	lookup := ActorImplLookup{}
	for _, ba := range exported.BuiltinActors() {
		lookup[ba.Code()] = ba
	}

	actors, err := adt.MakeEmptyMap(store, StateTreeHamtBitwidth)
	if err != nil {
		return nil, err
	}
	addresses, err := adt.MakeEmptyMap(store, StateTreeHamtBitwidth)
	if err != nil {
		return nil, err
	}

	emptyObject, err := store.Put(ctx, []struct{}{})
	if err != nil {
		return nil, xerrors.Errorf("failed to store empty object: %w", err)
	}

	vm := &VM{
		ctx:          ctx,
		store:        store,
		currentEpoch: GenesisEpoch,
		actorImpls:   lookup,
		actors:       actors,
		addresses:    addresses,
		nextID:       builtin.FirstNonSingletonActorId,
		emptyObject:  emptyObject,
	}

	if err := vm.createActor(builtin.SystemActorCodeID, builtin.SystemActorAddr, nil); err != nil {
		return nil, xerrors.Errorf("failed to construct system actor: %w", err)
	}
	if err := vm.createActor(builtin.CapsuleActorCodeID, builtin.CapsuleActorAddr, nil); err != nil {
		return nil, xerrors.Errorf("failed to construct capsule actor: %w", err)
	}
	if _, err := vm.checkpoint(); err != nil {
		return nil, err
	}
	vm.invocations = nil
	return vm, nil
}

// CreateAccounts installs n account actors, each with a deterministic BLS public key, and returns their ID
// addresses.
func (vm *VM) CreateAccounts(n int) ([]addr.Address, error) {
	ids := make([]addr.Address, n)
	for i := range ids {
		idAddr, err := addr.NewIDAddress(vm.nextID)
		if err != nil {
			return nil, err
		}
		seed := blake2b.Sum512([]byte("account/" + idAddr.String()))
		pubkey, err := addr.NewBLSAddress(seed[:addr.BlsPublicKeyBytes])
		if err != nil {
			return nil, err
		}

		vm.nextID++
		if err := vm.addresses.Put(abi.AddrKey(pubkey), &idAddr); err != nil {
			return nil, xerrors.Errorf("failed to register address %v: %w", pubkey, err)
		}
		if err := vm.createActor(builtin.AccountActorCodeID, idAddr, &pubkey); err != nil {
			return nil, xerrors.Errorf("failed to construct account %v: %w", idAddr, err)
		}
		ids[i] = idAddr
	}
	if _, err := vm.checkpoint(); err != nil {
		return nil, err
	}
	log.Debugw("created accounts", "count", n, "root", vm.stateRoot)
	return ids, nil
}

// createActor installs an actor with empty state and invokes its constructor from the system actor.
func (vm *VM) createActor(code cid.Cid, idAddr addr.Address, params cbor.Marshaler) error {
	if err := vm.setActor(idAddr, &TestActor{Head: vm.emptyObject, Code: code}); err != nil {
		return err
	}
	systemActor, found, err := vm.GetActor(builtin.SystemActorAddr)
	if err != nil {
		return err
	}
	if !found {
		return xerrors.Errorf("no system actor")
	}
	encoded, err := encodeParams(params)
	if err != nil {
		return err
	}

	ic := newInvocationContext(vm, internalMessage{
		from:   builtin.SystemActorAddr,
		to:     idAddr,
		method: builtin.MethodConstructor,
		params: encoded,
	}, systemActor)
	if _, exitCode, msg := ic.invoke(); exitCode != exitcode.Ok {
		return xerrors.Errorf("constructor of %s aborted with %v: %s", builtin.ActorNameByCode(code), exitCode, msg)
	}
	return nil
}

func (vm *VM) rollback(root cid.Cid) error {
	var tree StateTree
	if err := vm.store.Get(vm.ctx, root, &tree); err != nil {
		return xerrors.Errorf("failed to load state tree %v: %w", root, err)
	}

	actors, err := adt.AsMap(vm.store, tree.Actors, StateTreeHamtBitwidth)
	if err != nil {
		return xerrors.Errorf("failed to load actors for %v: %w", root, err)
	}
	addresses, err := adt.AsMap(vm.store, tree.Addresses, StateTreeHamtBitwidth)
	if err != nil {
		return xerrors.Errorf("failed to load addresses for %v: %w", root, err)
	}

	// reset the root node
	vm.actors = actors
	vm.addresses = addresses
	vm.nextID = tree.NextID
	vm.stateRoot = root
	return nil
}

func (vm *VM) checkpoint() (cid.Cid, error) {
	actorsRoot, err := vm.actors.Root()
	if err != nil {
		return cid.Undef, err
	}
	addressesRoot, err := vm.addresses.Root()
	if err != nil {
		return cid.Undef, err
	}
	root, err := vm.store.Put(vm.ctx, &StateTree{
		Actors:    actorsRoot,
		Addresses: addressesRoot,
		NextID:    vm.nextID,
	})
	if err != nil {
		return cid.Undef, xerrors.Errorf("failed to store state tree: %w", err)
	}
	vm.stateRoot = root
	return root, nil
}

func (vm *VM) GetActor(a addr.Address) (*TestActor, bool, error) {
	var act TestActor
	found, err := vm.actors.Get(abi.AddrKey(a), &act)
	return &act, found, err
}

// setActor sets the the actor to the given value whether it previously existed or not.
func (vm *VM) setActor(key addr.Address, a *TestActor) error {
	if err := vm.actors.Put(abi.AddrKey(key), a); err != nil {
		return xerrors.Errorf("setting actor in state tree failed: %w", err)
	}
	return nil
}

// NormalizeAddress resolves an address to its ID address.
func (vm *VM) NormalizeAddress(a addr.Address) (addr.Address, bool) {
	// short-circuit if the address is already an ID address
	if a.Protocol() == addr.ID {
		return a, true
	}

	var idAddr addr.Address
	found, err := vm.addresses.Get(abi.AddrKey(a), &idAddr)
	if err != nil {
		panic(xerrors.Errorf("failed to resolve address %v: %w", a, err))
	}
	return idAddr, found
}

// PubkeyAddress returns the public key address of an account actor.
func (vm *VM) PubkeyAddress(a addr.Address) (addr.Address, error) {
	var st account.State
	if err := vm.GetState(a, &st); err != nil {
		return addr.Undef, err
	}
	return st.Address, nil
}

// ApplyMessage applies the message to the current state at the current epoch.
// A message whose exit code is not Ok leaves the state as it was before the message.
func (vm *VM) ApplyMessage(from, to addr.Address, method abi.MethodNum, params cbor.Marshaler) MessageResult {
	// This method does not actually execute the message itself,
	// but rather deals with the pre/post processing of a message.
	// (see: `invocationContext.invoke()` for the dispatch and execution)

	// load actor from global state
	fromID, ok := vm.NormalizeAddress(from)
	if !ok {
		return vm.reject(from, to, method, exitcode.SysErrSenderInvalid, "sender %v not found", from)
	}
	from = fromID

	fromActor, found, err := vm.GetActor(from)
	if err != nil {
		panic(err)
	}
	if !found {
		// Execution error; sender does not exist at time of message execution.
		return vm.reject(from, to, method, exitcode.SysErrSenderInvalid, "sender %v not found", from)
	}

	if !builtin.IsAccountActor(fromActor.Code) {
		// Execution error; sender is not an account.
		return vm.reject(from, to, method, exitcode.SysErrSenderInvalid, "sender %v is not an account", from)
	}

	toID, ok := vm.NormalizeAddress(to)
	if !ok {
		return vm.reject(from, to, method, exitcode.SysErrInvalidReceiver, "receiver %v not found", to)
	}
	to = toID

	encoded, err := encodeParams(params)
	if err != nil {
		return vm.reject(from, to, method, exitcode.ErrSerialization, "failed to encode params: %v", err)
	}

	priorRoot := vm.stateRoot

	// build internal msg
	imsg := internalMessage{
		from:   from,
		to:     to,
		method: method,
		params: encoded,
	}

	// build invocation context and invoke
	ic := newInvocationContext(vm, imsg, fromActor)
	ret, exitCode, msg := ic.invoke()

	// Roll back all state if the receipt's exit code is not ok.
	if exitCode != exitcode.Ok {
		if err := vm.rollback(priorRoot); err != nil {
			panic(err)
		}
		log.Debugw("message aborted", "from", from, "to", to, "method", method, "code", exitCode, "reason", msg)
	} else if _, err := vm.checkpoint(); err != nil {
		panic(err)
	}

	vm.invocations = append(vm.invocations, &Invocation{Msg: imsg, Exitcode: exitCode, Ret: ret})
	return MessageResult{Ret: ret, Code: exitCode, Message: msg}
}

func (vm *VM) reject(from, to addr.Address, method abi.MethodNum, code exitcode.ExitCode, format string, args ...interface{}) MessageResult {
	msg := fmt.Sprintf(format, args...)
	log.Debugw("message rejected", "from", from, "to", to, "method", method, "code", code, "reason", msg)
	vm.invocations = append(vm.invocations, &Invocation{
		Msg:      internalMessage{from: from, to: to, method: method},
		Exitcode: code,
	})
	return MessageResult{Code: code, Message: msg}
}

func (vm *VM) GetState(a addr.Address, out cbor.Unmarshaler) error {
	act, found, err := vm.GetActor(a)
	if err != nil {
		return err
	}
	if !found {
		return xerrors.Errorf("actor %v not found", a)
	}
	return vm.store.Get(vm.ctx, act.Head, out)
}

// GetCapsuleState loads the state of the capsule actor.
func (vm *VM) GetCapsuleState() (*capsule.State, error) {
	var st capsule.State
	if err := vm.GetState(builtin.CapsuleActorAddr, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// StateRoot returns the last committed state root.
func (vm *VM) StateRoot() cid.Cid {
	return vm.stateRoot
}

func (vm *VM) Store() adt.Store {
	return vm.store
}

func (vm *VM) GetEpoch() abi.ChainEpoch {
	return vm.currentEpoch
}

// SetEpoch sets the epoch at which subsequent messages execute. Epochs may not decrease.
func (vm *VM) SetEpoch(epoch abi.ChainEpoch) error {
	if epoch < vm.currentEpoch {
		return xerrors.Errorf("epoch %d is before current epoch %d", epoch, vm.currentEpoch)
	}
	vm.currentEpoch = epoch
	return nil
}

// Invocations returns the messages applied since the VM was created, oldest first.
func (vm *VM) Invocations() []*Invocation {
	return vm.invocations
}

func (vm *VM) getActorImpl(code cid.Cid) (runtime.VMActor, bool) {
	actorImpl, ok := vm.actorImpls[code]
	return actorImpl, ok
}

func encodeParams(params cbor.Marshaler) ([]byte, error) {
	if params == nil {
		return nil, nil
	}
	buf := new(bytes.Buffer)
	if err := params.MarshalCBOR(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
