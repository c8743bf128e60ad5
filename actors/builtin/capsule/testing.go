package capsule

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-bitfield"
	"github.com/filecoin-project/go-state-types/abi"
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/timeloc/capsule-actors/actors/builtin"
	"github.com/timeloc/capsule-actors/actors/util/adt"
)

type StateSummary struct {
	CapsuleCount uint64
	OwnerCount   int
	Revealed     bitfield.BitField
	// Capsules whose unlock epoch has not passed at the epoch the check was made.
	LockedCount uint64
}

// Checks internal invariants of capsule state.
func CheckStateInvariants(st *State, store adt.Store, currEpoch abi.ChainEpoch) (*StateSummary, *builtin.MessageAccumulator, error) {
	acc := &builtin.MessageAccumulator{}

	acc.Require(st.NextID >= FirstCapsuleID, "next id %d is below the first capsule id %d", st.NextID, FirstCapsuleID)

	capsules, err := adt.AsArray(store, st.Capsules, CapsulesAmtBitwidth)
	if err != nil {
		return nil, acc, err
	}

	owners := make(map[uint64]addr.Address)
	var revealed []uint64
	var lockedCount uint64
	var capsule Capsule
	err = capsules.ForEach(&capsule, func(i int64) error {
		id := uint64(i)
		acc.Require(id >= FirstCapsuleID && id < st.NextID, "capsule id %d outside assigned range [%d, %d)", id, FirstCapsuleID, st.NextID)
		acc.Require(capsule.Owner.Protocol() == addr.ID, "capsule %d owner is not an ID address %v", id, capsule.Owner)
		acc.Require(capsule.UnlockEpoch >= 0, "capsule %d has negative unlock epoch %d", id, capsule.UnlockEpoch)
		acc.RequireNoError(ValidateMessage(capsule.Message), "capsule %d message", id)

		owners[id] = capsule.Owner
		if capsule.Revealed {
			acc.Require(capsule.UnlockEpoch <= currEpoch, "capsule %d revealed before its unlock epoch %d", id, capsule.UnlockEpoch)
			revealed = append(revealed, id)
		}
		if capsule.UnlockEpoch > currEpoch {
			lockedCount++
		}
		return nil
	})
	if err != nil {
		return nil, acc, err
	}
	acc.Require(uint64(len(owners)) == st.TotalCapsules(), "capsule count %d does not match total %d", len(owners), st.TotalCapsules())

	ownerIndex, err := adt.AsMultimap(store, st.Owners, OwnersHamtBitwidth, OwnerCapsulesAmtBitwidth)
	if err != nil {
		return nil, acc, err
	}

	indexed := make(map[uint64]struct{})
	ownerCount := 0
	err = ownerIndex.ForAll(func(k string, arr *adt.Array) error {
		owner, err := addr.NewFromBytes([]byte(k))
		if err != nil {
			return err
		}
		ownerCount++

		lastID := uint64(0)
		var id cbg.CborInt
		return arr.ForEach(&id, func(int64) error {
			capsuleID := uint64(id)
			acc.Require(capsuleID > lastID, "owner %v capsule ids not ascending: %d after %d", owner, capsuleID, lastID)
			lastID = capsuleID

			_, dup := indexed[capsuleID]
			acc.Require(!dup, "capsule %d indexed more than once", capsuleID)
			indexed[capsuleID] = struct{}{}

			capsuleOwner, ok := owners[capsuleID]
			acc.Require(ok, "owner %v indexes missing capsule %d", owner, capsuleID)
			if ok {
				acc.Require(capsuleOwner == owner, "capsule %d indexed under %v but owned by %v", capsuleID, owner, capsuleOwner)
			}
			return nil
		})
	})
	if err != nil {
		return nil, acc, err
	}
	acc.Require(len(indexed) == len(owners), "owner index holds %d capsules, expected %d", len(indexed), len(owners))

	revealedSet := bitfield.NewFromSet(revealed)
	return &StateSummary{
		CapsuleCount: st.TotalCapsules(),
		OwnerCount:   ownerCount,
		Revealed:     revealedSet,
		LockedCount:  lockedCount,
	}, acc, nil
}
