package capsule

import (
	"math"
	"unicode/utf8"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"

	"github.com/timeloc/capsule-actors/actors/util/adt"
)

// Exit codes returned by the capsule actor.
const (
	ErrCapsuleNotFound = exitcode.ExitCode(101)
	ErrInvalidMessage  = exitcode.ExitCode(102)
	ErrTooEarly        = exitcode.ExitCode(103)
	ErrAlreadyRevealed = exitcode.ExitCode(104)
	ErrUnauthorized    = exitcode.ExitCode(105)
)

type State struct {
	// Capsules by identifier.
	Capsules cid.Cid // AMT[uint64]Capsule

	// Capsule identifiers by owner, in creation order.
	Owners cid.Cid // HAMT[addr.Address]AMT[uint64]

	// The identifier the next capsule will be assigned.
	NextID uint64
}

// A sealed message, readable by its owner once the chain reaches UnlockEpoch.
type Capsule struct {
	// ID address of the account that created the capsule.
	Owner addr.Address
	// Immutable once created.
	Message     string
	UnlockEpoch abi.ChainEpoch
	// Set exactly once, by the first successful reveal.
	Revealed bool
}

func ConstructState(store adt.Store) (*State, error) {
	emptyCapsulesArrayCid, err := adt.StoreEmptyArray(store, CapsulesAmtBitwidth)
	if err != nil {
		return nil, xerrors.Errorf("failed to create empty capsules array: %w", err)
	}
	emptyOwnersMultimapCid, err := adt.StoreEmptyMultimap(store, OwnersHamtBitwidth, OwnerCapsulesAmtBitwidth)
	if err != nil {
		return nil, xerrors.Errorf("failed to create empty owners multimap: %w", err)
	}

	return &State{
		Capsules: emptyCapsulesArrayCid,
		Owners:   emptyOwnersMultimapCid,
		NextID:   FirstCapsuleID,
	}, nil
}

// TotalCapsules returns the number of capsules ever created.
func (st *State) TotalCapsules() uint64 {
	return st.NextID - FirstCapsuleID
}

// CreateCapsule stores a new capsule owned by owner, unlocking lockDuration epochs after currEpoch,
// and returns its identifier.
func (st *State) CreateCapsule(store adt.Store, owner addr.Address, message string, lockDuration uint64, currEpoch abi.ChainEpoch) (uint64, error) {
	if err := ValidateMessage(message); err != nil {
		return 0, err
	}
	unlockEpoch, err := UnlockEpoch(currEpoch, lockDuration)
	if err != nil {
		return 0, err
	}

	capsules, err := adt.AsArray(store, st.Capsules, CapsulesAmtBitwidth)
	if err != nil {
		return 0, xerrors.Errorf("failed to load capsules: %w", err)
	}
	owners, err := adt.AsMultimap(store, st.Owners, OwnersHamtBitwidth, OwnerCapsulesAmtBitwidth)
	if err != nil {
		return 0, xerrors.Errorf("failed to load owners: %w", err)
	}

	id := st.NextID
	if err := capsules.Set(id, &Capsule{
		Owner:       owner,
		Message:     message,
		UnlockEpoch: unlockEpoch,
		Revealed:    false,
	}); err != nil {
		return 0, xerrors.Errorf("failed to store capsule %d: %w", id, err)
	}
	cbgID := cbg.CborInt(id)
	if err := owners.Add(abi.AddrKey(owner), &cbgID); err != nil {
		return 0, xerrors.Errorf("failed to index capsule %d for owner %v: %w", id, owner, err)
	}

	capsulesRoot, err := capsules.Root()
	if err != nil {
		return 0, xerrors.Errorf("failed to flush capsules: %w", err)
	}
	ownersRoot, err := owners.Root()
	if err != nil {
		return 0, xerrors.Errorf("failed to flush owners: %w", err)
	}

	st.Capsules = capsulesRoot
	st.Owners = ownersRoot
	st.NextID = id + 1
	return id, nil
}

// RevealCapsule marks the capsule revealed and returns its message.
// The checks are applied in order: existence, unlock epoch, ownership, then whether it was already revealed.
func (st *State) RevealCapsule(store adt.Store, id uint64, caller addr.Address, currEpoch abi.ChainEpoch) (string, error) {
	capsules, err := adt.AsArray(store, st.Capsules, CapsulesAmtBitwidth)
	if err != nil {
		return "", xerrors.Errorf("failed to load capsules: %w", err)
	}

	capsule, found, err := st.loadCapsule(capsules, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrCapsuleNotFound.Wrapf("no capsule %d", id)
	}
	if currEpoch < capsule.UnlockEpoch {
		return "", ErrTooEarly.Wrapf("capsule %d unlocks at epoch %d, current epoch %d", id, capsule.UnlockEpoch, currEpoch)
	}
	if caller != capsule.Owner {
		return "", ErrUnauthorized.Wrapf("caller %v does not own capsule %d", caller, id)
	}
	if capsule.Revealed {
		return "", ErrAlreadyRevealed.Wrapf("capsule %d already revealed", id)
	}

	capsule.Revealed = true
	if err := capsules.Set(id, capsule); err != nil {
		return "", xerrors.Errorf("failed to store capsule %d: %w", id, err)
	}
	capsulesRoot, err := capsules.Root()
	if err != nil {
		return "", xerrors.Errorf("failed to flush capsules: %w", err)
	}

	st.Capsules = capsulesRoot
	return capsule.Message, nil
}

// GetCapsule loads a capsule, reporting whether it exists.
func (st *State) GetCapsule(store adt.Store, id uint64) (*Capsule, bool, error) {
	capsules, err := adt.AsArray(store, st.Capsules, CapsulesAmtBitwidth)
	if err != nil {
		return nil, false, xerrors.Errorf("failed to load capsules: %w", err)
	}
	return st.loadCapsule(capsules, id)
}

// OwnerCapsuleIDs returns the identifiers of capsules created by owner, in creation order.
func (st *State) OwnerCapsuleIDs(store adt.Store, owner addr.Address) ([]uint64, error) {
	owners, err := adt.AsMultimap(store, st.Owners, OwnersHamtBitwidth, OwnerCapsulesAmtBitwidth)
	if err != nil {
		return nil, xerrors.Errorf("failed to load owners: %w", err)
	}

	ids := []uint64{}
	var id cbg.CborInt
	if err := owners.ForEach(abi.AddrKey(owner), &id, func(int64) error {
		ids = append(ids, uint64(id))
		return nil
	}); err != nil {
		return nil, xerrors.Errorf("failed to iterate capsules of %v: %w", owner, err)
	}
	return ids, nil
}

func (st *State) loadCapsule(capsules *adt.Array, id uint64) (*Capsule, bool, error) {
	// Identifiers outside the assigned range are never present, and may exceed the AMT's index range.
	if id < FirstCapsuleID || id >= st.NextID {
		return nil, false, nil
	}
	var capsule Capsule
	found, err := capsules.Get(id, &capsule)
	if err != nil {
		return nil, false, xerrors.Errorf("failed to load capsule %d: %w", id, err)
	}
	if !found {
		return nil, false, nil
	}
	return &capsule, true, nil
}

// ValidateMessage checks that a message is UTF-8 text no longer than MaxMessageLength bytes.
func ValidateMessage(message string) error {
	if len(message) > MaxMessageLength {
		return ErrInvalidMessage.Wrapf("message length %d exceeds maximum %d", len(message), MaxMessageLength)
	}
	if !utf8.ValidString(message) {
		return ErrInvalidMessage.Wrapf("message is not valid UTF-8")
	}
	return nil
}

// UnlockEpoch computes the epoch at which a capsule created at currEpoch with the given lock duration may
// be revealed.
func UnlockEpoch(currEpoch abi.ChainEpoch, lockDuration uint64) (abi.ChainEpoch, error) {
	if currEpoch < 0 {
		return 0, exitcode.ErrIllegalArgument.Wrapf("negative epoch %d", currEpoch)
	}
	if lockDuration > uint64(math.MaxInt64-int64(currEpoch)) {
		return 0, exitcode.ErrIllegalArgument.Wrapf("lock duration %d from epoch %d overflows", lockDuration, currEpoch)
	}
	return currEpoch + abi.ChainEpoch(lockDuration), nil
}
