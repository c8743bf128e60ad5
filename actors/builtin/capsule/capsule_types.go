package capsule

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
)

type CreateCapsuleParams struct {
	Message      string
	LockDuration uint64 // Epochs after the current epoch before the capsule may be revealed.
}

type CreateCapsuleReturn struct {
	ID uint64
}

type CapsuleIDParams struct {
	ID uint64
}

type RevealCapsuleReturn struct {
	Message string
}

// CapsuleDetails describes a capsule without disclosing its message.
type CapsuleDetails struct {
	Owner       addr.Address
	UnlockEpoch abi.ChainEpoch
	Revealed    bool
}

type TotalCapsulesReturn struct {
	Count uint64
}

type OwnerParams struct {
	Owner addr.Address
}

type OwnerCapsules struct {
	IDs []uint64
}
