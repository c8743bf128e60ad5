package capsule_test

import (
	"context"
	"strings"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeloc/capsule-actors/actors/builtin"
	"github.com/timeloc/capsule-actors/actors/builtin/capsule"
	"github.com/timeloc/capsule-actors/support/mock"
	tutil "github.com/timeloc/capsule-actors/support/testing"
)

func TestExports(t *testing.T) {
	mock.CheckActorExports(t, capsule.Actor{})
}

func TestConstruction(t *testing.T) {
	actor := capsule.Actor{}
	builder := mock.NewBuilder(context.Background(), builtin.CapsuleActorAddr).
		WithCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID)

	t.Run("simple construction", func(t *testing.T) {
		rt := builder.Build(t)
		rt.ExpectValidateCallerAddr(builtin.SystemActorAddr)
		ret := rt.Call(actor.Constructor, nil)
		assert.Nil(t, ret)
		rt.Verify()

		var st capsule.State
		rt.GetState(&st)
		assert.Equal(t, capsule.FirstCapsuleID, st.NextID)
		assert.Equal(t, uint64(0), st.TotalCapsules())
	})

	t.Run("fails when not called by the system actor", func(t *testing.T) {
		rt := builder.Build(t)
		rt.SetCaller(tutil.NewIDAddr(t, 101), builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAddr(builtin.SystemActorAddr)
		rt.ExpectAbort(exitcode.SysErrForbidden, func() {
			rt.Call(actor.Constructor, nil)
		})
		rt.Verify()
	})
}

func TestCreateCapsule(t *testing.T) {
	owner := tutil.NewIDAddr(t, 101)
	other := tutil.NewIDAddr(t, 102)

	t.Run("ids are sequential and total counts creations", func(t *testing.T) {
		rt, h := newHarness(t, 5)
		for i := uint64(1); i <= 3; i++ {
			id := h.create(rt, owner, "Test message", 10)
			assert.Equal(t, i, id)
		}
		assert.Equal(t, uint64(3), h.total(rt))
		h.checkState(rt)
	})

	t.Run("details carry the unlock epoch and owner", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		id := h.create(rt, owner, "Test message", 100)

		details := h.details(rt, id)
		assert.Equal(t, owner, details.Owner)
		assert.Equal(t, abi.ChainEpoch(102), details.UnlockEpoch)
		assert.False(t, details.Revealed)
		h.checkState(rt)
	})

	t.Run("logs creation", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		rt.ExpectLogsContain("created capsule 1")
		h.create(rt, owner, "hello", 1)
	})

	t.Run("empty message is accepted", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		id := h.create(rt, owner, "", 0)
		assert.Equal(t, "", h.reveal(rt, owner, id))
	})

	t.Run("message at maximum length is accepted", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		h.create(rt, owner, strings.Repeat("a", capsule.MaxMessageLength), 0)
		h.checkState(rt)
	})

	t.Run("message over maximum length is rejected", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		before := rt.StateRoot()
		h.createExpectAbort(rt, owner, strings.Repeat("a", capsule.MaxMessageLength+1), 0, capsule.ErrInvalidMessage, "exceeds maximum 500")
		assert.Equal(t, before, rt.StateRoot())
		assert.Equal(t, uint64(0), h.total(rt))
	})

	t.Run("message that is not UTF-8 is rejected", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		h.createExpectAbort(rt, owner, string([]byte{0xff, 0xfe}), 0, capsule.ErrInvalidMessage, "not valid UTF-8")
	})

	t.Run("overflowing lock duration is rejected", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		h.createExpectAbort(rt, owner, "too long", ^uint64(0), exitcode.ErrIllegalArgument, "overflows")
		h.checkState(rt)
	})

	t.Run("non-account callers are rejected", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		rt.SetCaller(other, builtin.CapsuleActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.ExpectAbort(exitcode.SysErrForbidden, func() {
			rt.Call(h.a.CreateCapsule, &capsule.CreateCapsuleParams{Message: "x", LockDuration: 1})
		})
		rt.Verify()
	})

	t.Run("owner index lists capsules per owner", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		h.create(rt, owner, "a", 1)
		h.create(rt, other, "b", 1)
		h.create(rt, owner, "c", 1)

		assert.Equal(t, []uint64{1, 3}, h.ownerCapsules(rt, owner))
		assert.Equal(t, []uint64{2}, h.ownerCapsules(rt, other))
		assert.Equal(t, []uint64{}, h.ownerCapsules(rt, tutil.NewIDAddr(t, 999)))
		h.checkState(rt)
	})
}

func TestRevealCapsule(t *testing.T) {
	owner := tutil.NewIDAddr(t, 101)
	other := tutil.NewIDAddr(t, 102)

	t.Run("owner reveals after unlock", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		id := h.create(rt, owner, "Test message", 10)

		rt.SetEpoch(13)
		assert.Equal(t, "Test message", h.reveal(rt, owner, id))
		assert.True(t, h.details(rt, id).Revealed)
		h.checkState(rt)
	})

	t.Run("reveal at exactly the unlock epoch succeeds", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		id := h.create(rt, owner, "on time", 10)

		rt.SetEpoch(12)
		assert.Equal(t, "on time", h.reveal(rt, owner, id))
	})

	t.Run("zero lock duration reveals at the creation epoch", func(t *testing.T) {
		rt, h := newHarness(t, 7)
		id := h.create(rt, owner, "now", 0)
		assert.Equal(t, "now", h.reveal(rt, owner, id))
	})

	t.Run("early reveal is too early for any caller", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		id := h.create(rt, owner, "Test message", 100)
		before := rt.StateRoot()

		h.revealExpectAbort(rt, owner, id, capsule.ErrTooEarly)
		h.revealExpectAbort(rt, other, id, capsule.ErrTooEarly)
		rt.SetEpoch(101)
		h.revealExpectAbort(rt, other, id, capsule.ErrTooEarly)

		assert.Equal(t, before, rt.StateRoot())
		assert.False(t, h.details(rt, id).Revealed)
	})

	t.Run("non-owner is unauthorized after unlock", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		id := h.create(rt, owner, "Test message", 10)

		rt.SetEpoch(20)
		h.revealExpectAbort(rt, other, id, capsule.ErrUnauthorized)
		assert.False(t, h.details(rt, id).Revealed)

		// The owner can still reveal afterwards.
		assert.Equal(t, "Test message", h.reveal(rt, owner, id))
	})

	t.Run("second reveal by the owner fails", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		id := h.create(rt, owner, "once", 1)

		rt.SetEpoch(3)
		h.reveal(rt, owner, id)
		h.revealExpectAbort(rt, owner, id, capsule.ErrAlreadyRevealed)
		h.revealExpectAbort(rt, other, id, capsule.ErrUnauthorized)
		h.checkState(rt)
	})

	t.Run("missing capsule is not found", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		h.revealExpectAbort(rt, owner, 1, capsule.ErrCapsuleNotFound)
		h.revealExpectAbort(rt, owner, 0, capsule.ErrCapsuleNotFound)
		h.create(rt, owner, "x", 0)
		h.revealExpectAbort(rt, owner, 2, capsule.ErrCapsuleNotFound)
		h.revealExpectAbort(rt, owner, ^uint64(0), capsule.ErrCapsuleNotFound)
	})
}

func TestGetCapsuleDetails(t *testing.T) {
	owner := tutil.NewIDAddr(t, 101)

	t.Run("missing capsule is not found", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		rt.SetCaller(owner, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(capsule.ErrCapsuleNotFound, func() {
			rt.Call(h.a.GetCapsuleDetails, &capsule.CapsuleIDParams{ID: 42})
		})
		rt.Verify()
	})

	t.Run("any caller may query", func(t *testing.T) {
		rt, h := newHarness(t, 2)
		id := h.create(rt, owner, "m", 3)
		rt.SetCaller(builtin.CapsuleActorAddr, builtin.CapsuleActorCodeID)
		details := h.details(rt, id)
		assert.Equal(t, abi.ChainEpoch(5), details.UnlockEpoch)
	})
}

type actorHarness struct {
	a capsule.Actor
	t testing.TB
}

func newHarness(t *testing.T, epoch abi.ChainEpoch) (*mock.Runtime, *actorHarness) {
	rt := mock.NewBuilder(context.Background(), builtin.CapsuleActorAddr).
		WithCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID).
		WithEpoch(epoch).
		Build(t)
	h := &actorHarness{capsule.Actor{}, t}
	h.constructAndVerify(rt)
	return rt, h
}

func (h *actorHarness) constructAndVerify(rt *mock.Runtime) {
	rt.SetCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID)
	rt.ExpectValidateCallerAddr(builtin.SystemActorAddr)
	ret := rt.Call(h.a.Constructor, nil)
	assert.Nil(h.t, ret)
	rt.Verify()
}

func (h *actorHarness) create(rt *mock.Runtime, caller addr.Address, message string, lockDuration uint64) uint64 {
	rt.SetCaller(caller, builtin.AccountActorCodeID)
	rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
	ret := rt.Call(h.a.CreateCapsule, &capsule.CreateCapsuleParams{
		Message:      message,
		LockDuration: lockDuration,
	}).(*capsule.CreateCapsuleReturn)
	rt.Verify()
	return ret.ID
}

func (h *actorHarness) createExpectAbort(rt *mock.Runtime, caller addr.Address, message string, lockDuration uint64, code exitcode.ExitCode, substr string) {
	rt.SetCaller(caller, builtin.AccountActorCodeID)
	rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
	rt.ExpectAbortContainsMessage(code, substr, func() {
		rt.Call(h.a.CreateCapsule, &capsule.CreateCapsuleParams{
			Message:      message,
			LockDuration: lockDuration,
		})
	})
	rt.Verify()
}

func (h *actorHarness) reveal(rt *mock.Runtime, caller addr.Address, id uint64) string {
	rt.SetCaller(caller, builtin.AccountActorCodeID)
	rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
	ret := rt.Call(h.a.RevealCapsule, &capsule.CapsuleIDParams{ID: id}).(*capsule.RevealCapsuleReturn)
	rt.Verify()
	return ret.Message
}

func (h *actorHarness) revealExpectAbort(rt *mock.Runtime, caller addr.Address, id uint64, code exitcode.ExitCode) {
	rt.SetCaller(caller, builtin.AccountActorCodeID)
	rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
	rt.ExpectAbort(code, func() {
		rt.Call(h.a.RevealCapsule, &capsule.CapsuleIDParams{ID: id})
	})
	rt.Verify()
}

func (h *actorHarness) details(rt *mock.Runtime, id uint64) *capsule.CapsuleDetails {
	rt.ExpectValidateCallerAny()
	ret := rt.Call(h.a.GetCapsuleDetails, &capsule.CapsuleIDParams{ID: id}).(*capsule.CapsuleDetails)
	rt.Verify()
	return ret
}

func (h *actorHarness) total(rt *mock.Runtime) uint64 {
	rt.ExpectValidateCallerAny()
	ret := rt.Call(h.a.GetTotalCapsules, nil).(*capsule.TotalCapsulesReturn)
	rt.Verify()
	return ret.Count
}

func (h *actorHarness) ownerCapsules(rt *mock.Runtime, owner addr.Address) []uint64 {
	rt.ExpectValidateCallerAny()
	ret := rt.Call(h.a.GetOwnerCapsules, &capsule.OwnerParams{Owner: owner}).(*capsule.OwnerCapsules)
	rt.Verify()
	return ret.IDs
}

func (h *actorHarness) checkState(rt *mock.Runtime) {
	var st capsule.State
	rt.GetState(&st)
	_, msgs, err := capsule.CheckStateInvariants(&st, rt.AdtStore(), rt.GetEpoch())
	require.NoError(h.t, err)
	assert.True(h.t, msgs.IsEmpty(), strings.Join(msgs.Messages(), "\n"))
}
