package vm

import (
	"context"
	"fmt"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	rtt "github.com/filecoin-project/go-state-types/rt"
	cid "github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	"github.com/timeloc/capsule-actors/actors/builtin"
	"github.com/timeloc/capsule-actors/actors/runtime"
	"github.com/timeloc/capsule-actors/support/ipld"
)

// invocationContext is the runtime an actor sees while executing one message.
type invocationContext struct {
	vm                *VM
	msg               internalMessage
	fromActor         *TestActor
	toActor           *TestActor
	isCallerValidated bool
	inTransaction     bool
}

func newInvocationContext(vm *VM, msg internalMessage, fromActor *TestActor) invocationContext {
	// Note: the toActor is loaded during the `invoke()`
	return invocationContext{
		vm:                vm,
		msg:               msg,
		fromActor:         fromActor,
		isCallerValidated: false,
	}
}

type abort struct {
	code exitcode.ExitCode
	msg  string
}

func (ic *invocationContext) invoke() (ret cbor.Marshaler, errcode exitcode.ExitCode, errmsg string) {
	// recover from panics, returning the abort code and message
	defer func() {
		if r := recover(); r != nil {
			a, ok := r.(abort)
			if !ok {
				panic(r)
			}
			ret, errcode, errmsg = nil, a.code, a.msg
		}
	}()

	// pre-dispatch
	// 1. load target actor
	// 2. short-circuit _Send_ method
	// 3. load target actor code

	// assert from address is an ID address.
	if ic.msg.from.Protocol() != addr.ID {
		panic(fmt.Sprintf("sender %v is not an ID address", ic.msg.from))
	}

	// 1. load target actor
	toActor, found, err := ic.vm.GetActor(ic.msg.to)
	if err != nil {
		panic(err)
	}
	if !found {
		ic.Abortf(exitcode.SysErrInvalidReceiver, "actor %v not found", ic.msg.to)
	}
	ic.toActor = toActor

	// 2. if we are just sending, there is nothing else to do.
	if ic.msg.method == builtin.MethodSend {
		return nil, exitcode.Ok, ""
	}

	// 3. load target actor code
	actorImpl, ok := ic.vm.getActorImpl(ic.toActor.Code)
	if !ok {
		ic.Abortf(exitcode.SysErrInvalidReceiver, "actor implementation not found for code %v", ic.toActor.Code)
	}

	// dispatch
	ret, xerr := dispatch(actorImpl, ic.msg.method, ic, ic.msg.params)
	if xerr != nil {
		ic.Abortf(xerr.ExitCode(), "%s", xerr.Error())
	}

	// post-dispatch
	// 1. check caller was validated
	// 2. store the new head

	// 1. check caller was validated
	if !ic.isCallerValidated {
		ic.Abortf(exitcode.SysErrorIllegalActor, "Caller MUST be validated during method execution")
	}

	// 2. store the new head
	if err := ic.vm.setActor(ic.msg.to, ic.toActor); err != nil {
		panic(err)
	}

	return ret, exitcode.Ok, ""
}

//
// implement runtime.Runtime for invocationContext
//

var _ runtime.Runtime = (*invocationContext)(nil)

func (ic *invocationContext) Message() runtime.Message {
	return ic.msg
}

func (ic *invocationContext) CurrEpoch() abi.ChainEpoch {
	return ic.vm.currentEpoch
}

func (ic *invocationContext) ValidateImmediateCallerAcceptAny() {
	ic.assertf(!ic.isCallerValidated, "caller has been double validated")
	ic.isCallerValidated = true
}

func (ic *invocationContext) ValidateImmediateCallerIs(addrs ...addr.Address) {
	ic.assertf(!ic.isCallerValidated, "caller has been double validated")
	ic.isCallerValidated = true
	for _, a := range addrs {
		if a == ic.msg.from {
			return
		}
	}
	ic.Abortf(exitcode.SysErrForbidden, "caller address %v forbidden, allowed: %v", ic.msg.from, addrs)
}

func (ic *invocationContext) ValidateImmediateCallerType(types ...cid.Cid) {
	ic.assertf(!ic.isCallerValidated, "caller has been double validated")
	ic.isCallerValidated = true
	for _, t := range types {
		if t.Equals(ic.fromActor.Code) {
			return
		}
	}
	ic.Abortf(exitcode.SysErrForbidden, "caller type %v forbidden, allowed: %v", ic.fromActor.Code, types)
}

func (ic *invocationContext) GetActorCodeCID(a addr.Address) (ret cid.Cid, ok bool) {
	entry, found, err := ic.vm.GetActor(a)
	if err != nil {
		panic(err)
	}
	if !found {
		return cid.Undef, false
	}
	return entry.Code, true
}

func (ic *invocationContext) Abortf(errExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	panic(abort{errExitCode, fmt.Sprintf(msg, args...)})
}

func (ic *invocationContext) Context() context.Context {
	return ic.vm.ctx
}

func (ic *invocationContext) Log(level rtt.LogLevel, msg string, args ...interface{}) {
	actorLog := log.With("actor", ic.msg.to, "epoch", ic.vm.currentEpoch)
	switch level {
	case rtt.DEBUG:
		actorLog.Debugf(msg, args...)
	case rtt.INFO:
		actorLog.Infof(msg, args...)
	case rtt.WARN:
		actorLog.Warnf(msg, args...)
	case rtt.ERROR:
		actorLog.Errorf(msg, args...)
	}
}

///// Store implementation /////

func (ic *invocationContext) StoreGet(c cid.Cid, o cbor.Unmarshaler) bool {
	if err := ic.vm.store.Get(ic.vm.ctx, c, o); err != nil {
		if xerrors.Is(err, ipld.ErrNotFound) {
			return false
		}
		ic.Abortf(exitcode.ErrSerialization, "failed to load %v: %v", c, err)
	}
	return true
}

func (ic *invocationContext) StorePut(x cbor.Marshaler) cid.Cid {
	c, err := ic.vm.store.Put(ic.vm.ctx, x)
	if err != nil {
		ic.Abortf(exitcode.ErrSerialization, "failed to store object: %v", err)
	}
	return c
}

///// State handle implementation /////

func (ic *invocationContext) StateCreate(obj cbor.Marshaler) {
	if !ic.toActor.Head.Equals(ic.vm.emptyObject) {
		ic.Abortf(exitcode.SysErrorIllegalActor, "failed to construct actor state: already initialized")
	}
	ic.toActor.Head = ic.StorePut(obj)
}

func (ic *invocationContext) StateReadonly(obj cbor.Unmarshaler) {
	if !ic.StoreGet(ic.toActor.Head, obj) {
		ic.Abortf(exitcode.SysErrorIllegalArgument, "failed to get actor for Readonly state")
	}
}

func (ic *invocationContext) StateTransaction(obj cbor.Er, f func()) {
	if ic.inTransaction {
		ic.Abortf(exitcode.SysErrorIllegalActor, "nested transaction")
	}
	ic.StateReadonly(obj)
	ic.inTransaction = true
	f()
	ic.inTransaction = false
	ic.toActor.Head = ic.StorePut(obj)
}

func (ic *invocationContext) assertf(condition bool, msg string, args ...interface{}) {
	if !condition {
		panic(fmt.Errorf(msg, args...))
	}
}

//
// implement runtime.Message for internalMessage
//

var _ runtime.Message = (*internalMessage)(nil)

// Caller implements runtime.Message.
func (msg internalMessage) Caller() addr.Address {
	return msg.from
}

// Receiver implements runtime.Message.
func (msg internalMessage) Receiver() addr.Address {
	return msg.to
}
