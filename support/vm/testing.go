package vm

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeloc/capsule-actors/actors/builtin"
	"github.com/timeloc/capsule-actors/actors/builtin/capsule"
	"github.com/timeloc/capsule-actors/support/ipld"
)

//
// Genesis like setup
//

// NewVMWithAccounts creates a VM at genesis holding the builtin singletons and n accounts.
func NewVMWithAccounts(ctx context.Context, t testing.TB, n int) (*VM, []addr.Address) {
	v, err := NewVM(ctx, ipld.NewADTStore(ctx))
	require.NoError(t, err)
	accounts, err := v.CreateAccounts(n)
	require.NoError(t, err)
	return v, accounts
}

// NewChainWithAccounts creates a chain whose genesis block holds n accounts.
func NewChainWithAccounts(ctx context.Context, t testing.TB, n int) *Chain {
	c, err := NewChain(ctx, n)
	require.NoError(t, err)
	return c
}

// ApplyOk applies a message and requires it to succeed, returning the method's return value.
func ApplyOk(t testing.TB, v *VM, from, to addr.Address, method abi.MethodNum, params cbor.Marshaler) cbor.Marshaler {
	result := v.ApplyMessage(from, to, method, params)
	require.Equal(t, exitcode.Ok, result.Code, "unexpected exit code %v: %s", result.Code, result.Message)
	return result.Ret
}

// ApplyCode applies a message and requires it to exit with the given code.
func ApplyCode(t testing.TB, v *VM, from, to addr.Address, method abi.MethodNum, params cbor.Marshaler, code exitcode.ExitCode) {
	result := v.ApplyMessage(from, to, method, params)
	require.Equal(t, code, result.Code, "unexpected exit code %v: %s", result.Code, result.Message)
}

// CreateCapsule has the owner create a capsule and returns its ID.
func CreateCapsule(t testing.TB, v *VM, owner addr.Address, message string, lockDuration uint64) uint64 {
	ret := ApplyOk(t, v, owner, builtin.CapsuleActorAddr, builtin.MethodsCapsule.CreateCapsule, &capsule.CreateCapsuleParams{
		Message:      message,
		LockDuration: lockDuration,
	})
	created, ok := ret.(*capsule.CreateCapsuleReturn)
	require.True(t, ok, "unexpected return %T", ret)
	return created.ID
}

// CheckCapsuleStateInvariants checks the capsule actor state at the VM's current epoch and fails on any
// violation.
func CheckCapsuleStateInvariants(t testing.TB, v *VM) *capsule.StateSummary {
	st, err := v.GetCapsuleState()
	require.NoError(t, err)
	summary, msgs, err := capsule.CheckStateInvariants(st, v.Store(), v.GetEpoch())
	require.NoError(t, err)
	assert.Empty(t, msgs.Messages(), "capsule state invariants broken")
	return summary
}

//
// Invocation expectations
//

func ExpectObject(v cbor.Marshaler) *objectExpectation {
	return &objectExpectation{v}
}

// distinguishes a non-expectation from an expectation of nil
type objectExpectation struct {
	val cbor.Marshaler
}

func ExpectAddress(a addr.Address) *addr.Address { return &a }

// match by cbor encoding to avoid inconsistencies in internal representations of effectively equal objects
func (oe objectExpectation) matches(obj cbor.Marshaler) bool {
	if oe.val == nil || obj == nil {
		return oe.val == nil && obj == nil
	}
	return bytes.Equal(encodeOrNil(oe.val), encodeOrNil(obj))
}

func (oe objectExpectation) matchesBytes(b []byte) bool {
	if oe.val == nil {
		return len(b) == 0
	}
	return bytes.Equal(encodeOrNil(oe.val), b)
}

func encodeOrNil(v cbor.Marshaler) []byte {
	buf := new(bytes.Buffer)
	if err := v.MarshalCBOR(buf); err != nil {
		return nil
	}
	return buf.Bytes()
}

// ExpectInvocation describes an expected entry of VM.Invocations().
type ExpectInvocation struct {
	To       addr.Address
	Method   abi.MethodNum
	Exitcode exitcode.ExitCode

	From   *addr.Address
	Params *objectExpectation
	Ret    *objectExpectation
}

func (ei ExpectInvocation) Matches(t testing.TB, invocation *Invocation) {
	identifier := fmt.Sprintf("[%s:%d]", invocation.Msg.to, invocation.Msg.method)

	// mismatch of to or method probably indicates skipped message or messages out of order. halt.
	require.Equal(t, ei.To, invocation.Msg.to, "%s unexpected `to` address", identifier)
	require.Equal(t, ei.Method, invocation.Msg.method, "%s unexpected method", identifier)

	// other expectations are optional
	if ei.From != nil {
		assert.Equal(t, *ei.From, invocation.Msg.from, "%s unexpected from address", identifier)
	}
	if ei.Params != nil {
		assert.True(t, ei.Params.matchesBytes(invocation.Msg.params), "%s params aren't equal (%v != %x)", identifier, ei.Params.val, invocation.Msg.params)
	}

	// expect results
	assert.Equal(t, ei.Exitcode, invocation.Exitcode, "%s unexpected exitcode", identifier)
	if ei.Ret != nil {
		assert.True(t, ei.Ret.matches(invocation.Ret), "%s unexpected return value (%v != %v)", identifier, ei.Ret.val, invocation.Ret)
	}
}
