package capsule

import (
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	rtt "github.com/filecoin-project/go-state-types/rt"
	cid "github.com/ipfs/go-cid"

	"github.com/timeloc/capsule-actors/actors/builtin"
	"github.com/timeloc/capsule-actors/actors/runtime"
	"github.com/timeloc/capsule-actors/actors/util/adt"
)

type Actor struct{}

func (a Actor) Exports() []interface{} {
	return []interface{}{
		builtin.MethodConstructor: a.Constructor,
		2:                         a.CreateCapsule,
		3:                         a.RevealCapsule,
		4:                         a.GetCapsuleDetails,
		5:                         a.GetTotalCapsules,
		6:                         a.GetOwnerCapsules,
	}
}

func (a Actor) Code() cid.Cid {
	return builtin.CapsuleActorCodeID
}

func (a Actor) IsSingleton() bool {
	return true
}

func (a Actor) State() cbor.Er {
	return new(State)
}

var _ runtime.VMActor = Actor{}

func (a Actor) Constructor(rt runtime.Runtime, _ *abi.EmptyValue) *abi.EmptyValue {
	rt.ValidateImmediateCallerIs(builtin.SystemActorAddr)

	st, err := ConstructState(adt.AsStore(rt))
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to construct state")
	rt.StateCreate(st)
	return nil
}

func (a Actor) CreateCapsule(rt runtime.Runtime, params *CreateCapsuleParams) *CreateCapsuleReturn {
	rt.ValidateImmediateCallerType(builtin.CallerTypesSignable...)
	owner := rt.Message().Caller()
	currEpoch := rt.CurrEpoch()

	var id uint64
	var unlockEpoch abi.ChainEpoch
	var st State
	rt.StateTransaction(&st, func() {
		var err error
		id, err = st.CreateCapsule(adt.AsStore(rt), owner, params.Message, params.LockDuration, currEpoch)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to create capsule for %v", owner)
		unlockEpoch = currEpoch + abi.ChainEpoch(params.LockDuration)
	})

	rt.Log(builtin.GetActorLogLevel(a, rtt.DEBUG), "created capsule %d for %v unlocking at %d", id, owner, unlockEpoch)
	return &CreateCapsuleReturn{ID: id}
}

func (a Actor) RevealCapsule(rt runtime.Runtime, params *CapsuleIDParams) *RevealCapsuleReturn {
	rt.ValidateImmediateCallerType(builtin.CallerTypesSignable...)
	caller := rt.Message().Caller()

	var message string
	var st State
	rt.StateTransaction(&st, func() {
		var err error
		message, err = st.RevealCapsule(adt.AsStore(rt), params.ID, caller, rt.CurrEpoch())
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to reveal capsule %d", params.ID)
	})

	rt.Log(builtin.GetActorLogLevel(a, rtt.DEBUG), "revealed capsule %d to %v", params.ID, caller)
	return &RevealCapsuleReturn{Message: message}
}

func (a Actor) GetCapsuleDetails(rt runtime.Runtime, params *CapsuleIDParams) *CapsuleDetails {
	rt.ValidateImmediateCallerAcceptAny()

	var st State
	rt.StateReadonly(&st)
	capsule, found, err := st.GetCapsule(adt.AsStore(rt), params.ID)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to load capsule %d", params.ID)
	if !found {
		rt.Abortf(ErrCapsuleNotFound, "no capsule %d", params.ID)
	}

	return &CapsuleDetails{
		Owner:       capsule.Owner,
		UnlockEpoch: capsule.UnlockEpoch,
		Revealed:    capsule.Revealed,
	}
}

func (a Actor) GetTotalCapsules(rt runtime.Runtime, _ *abi.EmptyValue) *TotalCapsulesReturn {
	rt.ValidateImmediateCallerAcceptAny()

	var st State
	rt.StateReadonly(&st)
	return &TotalCapsulesReturn{Count: st.TotalCapsules()}
}

func (a Actor) GetOwnerCapsules(rt runtime.Runtime, params *OwnerParams) *OwnerCapsules {
	rt.ValidateImmediateCallerAcceptAny()

	var st State
	rt.StateReadonly(&st)
	ids, err := st.OwnerCapsuleIDs(adt.AsStore(rt), params.Owner)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to list capsules of %v", params.Owner)
	return &OwnerCapsules{IDs: ids}
}
