package vm_test

import (
	"context"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeloc/capsule-actors/actors/builtin"
	"github.com/timeloc/capsule-actors/actors/builtin/account"
	"github.com/timeloc/capsule-actors/actors/builtin/capsule"
	"github.com/timeloc/capsule-actors/support/ipld"
	tutil "github.com/timeloc/capsule-actors/support/testing"
	"github.com/timeloc/capsule-actors/support/vm"
)

func TestGenesis(t *testing.T) {
	ctx := context.Background()
	v, accounts := vm.NewVMWithAccounts(ctx, t, 2)

	assert.Equal(t, vm.GenesisEpoch, v.GetEpoch())
	require.Len(t, accounts, 2)
	assert.Equal(t, tutil.NewIDAddr(t, builtin.FirstNonSingletonActorId), accounts[0])
	assert.Equal(t, tutil.NewIDAddr(t, builtin.FirstNonSingletonActorId+1), accounts[1])

	st, err := v.GetCapsuleState()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.TotalCapsules())
	assert.Equal(t, capsule.FirstCapsuleID, st.NextID)

	for _, a := range accounts {
		act, found, err := v.GetActor(a)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, builtin.AccountActorCodeID, act.Code)

		pubkey, err := v.PubkeyAddress(a)
		require.NoError(t, err)
		resolved, ok := v.NormalizeAddress(pubkey)
		require.True(t, ok)
		assert.Equal(t, a, resolved)
	}

	t.Run("genesis is deterministic", func(t *testing.T) {
		other, otherAccounts := vm.NewVMWithAccounts(ctx, t, 2)
		assert.Equal(t, v.StateRoot(), other.StateRoot())
		assert.Equal(t, accounts, otherAccounts)
	})

	vm.CheckCapsuleStateInvariants(t, v)
}

func TestApplyMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("successful message commits state", func(t *testing.T) {
		v, accounts := vm.NewVMWithAccounts(ctx, t, 1)
		before := v.StateRoot()

		id := vm.CreateCapsule(t, v, accounts[0], "hello", 10)
		assert.Equal(t, capsule.FirstCapsuleID, id)
		assert.NotEqual(t, before, v.StateRoot())

		ret := vm.ApplyOk(t, v, accounts[0], builtin.CapsuleActorAddr, builtin.MethodsCapsule.GetTotalCapsules, nil)
		assert.Equal(t, &capsule.TotalCapsulesReturn{Count: 1}, ret)

		require.Len(t, v.Invocations(), 2)
		vm.ExpectInvocation{
			To:     builtin.CapsuleActorAddr,
			Method: builtin.MethodsCapsule.CreateCapsule,
			From:   vm.ExpectAddress(accounts[0]),
			Params: vm.ExpectObject(&capsule.CreateCapsuleParams{Message: "hello", LockDuration: 10}),
			Ret:    vm.ExpectObject(&capsule.CreateCapsuleReturn{ID: id}),
		}.Matches(t, v.Invocations()[0])
	})

	t.Run("read only message leaves root unchanged", func(t *testing.T) {
		v, accounts := vm.NewVMWithAccounts(ctx, t, 1)
		vm.CreateCapsule(t, v, accounts[0], "hello", 10)
		before := v.StateRoot()

		ret := vm.ApplyOk(t, v, accounts[0], builtin.CapsuleActorAddr, builtin.MethodsCapsule.GetCapsuleDetails, &capsule.CapsuleIDParams{ID: 1})
		assert.Equal(t, &capsule.CapsuleDetails{Owner: accounts[0], UnlockEpoch: vm.GenesisEpoch + 10}, ret)
		assert.Equal(t, before, v.StateRoot())
	})

	t.Run("aborted message rolls back", func(t *testing.T) {
		v, accounts := vm.NewVMWithAccounts(ctx, t, 2)
		id := vm.CreateCapsule(t, v, accounts[0], "hello", 10)
		before := v.StateRoot()

		result := v.ApplyMessage(accounts[0], builtin.CapsuleActorAddr, builtin.MethodsCapsule.RevealCapsule, &capsule.CapsuleIDParams{ID: id})
		assert.Equal(t, capsule.ErrTooEarly, result.Code)
		assert.Nil(t, result.Ret)
		assert.NotEmpty(t, result.Message)
		assert.Equal(t, before, v.StateRoot())

		vm.ExpectInvocation{
			To:       builtin.CapsuleActorAddr,
			Method:   builtin.MethodsCapsule.RevealCapsule,
			Exitcode: capsule.ErrTooEarly,
			Ret:      vm.ExpectObject(nil),
		}.Matches(t, v.Invocations()[1])

		// an oversized message leaves the counter where it was
		vm.ApplyCode(t, v, accounts[1], builtin.CapsuleActorAddr, builtin.MethodsCapsule.CreateCapsule, &capsule.CreateCapsuleParams{
			Message: string(make([]byte, capsule.MaxMessageLength+1)),
		}, capsule.ErrInvalidMessage)
		assert.Equal(t, before, v.StateRoot())
		assert.Equal(t, uint64(2), vm.CreateCapsule(t, v, accounts[1], "next", 0))
	})

	t.Run("sender resolved from public key address", func(t *testing.T) {
		v, accounts := vm.NewVMWithAccounts(ctx, t, 1)
		pubkey, err := v.PubkeyAddress(accounts[0])
		require.NoError(t, err)

		vm.CreateCapsule(t, v, pubkey, "hello", 0)
		ret := vm.ApplyOk(t, v, accounts[0], builtin.CapsuleActorAddr, builtin.MethodsCapsule.GetCapsuleDetails, &capsule.CapsuleIDParams{ID: 1})
		assert.Equal(t, accounts[0], ret.(*capsule.CapsuleDetails).Owner)
	})

	t.Run("unknown sender", func(t *testing.T) {
		v, _ := vm.NewVMWithAccounts(ctx, t, 1)
		before := v.StateRoot()
		unknownID := tutil.NewIDAddr(t, 1000)
		unknownKey := tutil.NewBLSAddr(t, 1)
		vm.ApplyCode(t, v, unknownID, builtin.CapsuleActorAddr, builtin.MethodsCapsule.GetTotalCapsules, nil, exitcode.SysErrSenderInvalid)
		vm.ApplyCode(t, v, unknownKey, builtin.CapsuleActorAddr, builtin.MethodsCapsule.GetTotalCapsules, nil, exitcode.SysErrSenderInvalid)
		assert.Equal(t, before, v.StateRoot())

		// the unresolved sender is recorded as given
		invocations := v.Invocations()
		require.Len(t, invocations, 2)
		for i, from := range []addr.Address{unknownID, unknownKey} {
			vm.ExpectInvocation{
				To:       builtin.CapsuleActorAddr,
				Method:   builtin.MethodsCapsule.GetTotalCapsules,
				Exitcode: exitcode.SysErrSenderInvalid,
				From:     vm.ExpectAddress(from),
			}.Matches(t, invocations[i])
		}
	})

	t.Run("sender must be an account", func(t *testing.T) {
		v, _ := vm.NewVMWithAccounts(ctx, t, 1)
		vm.ApplyCode(t, v, builtin.CapsuleActorAddr, builtin.CapsuleActorAddr, builtin.MethodsCapsule.GetTotalCapsules, nil, exitcode.SysErrSenderInvalid)
		vm.ApplyCode(t, v, builtin.SystemActorAddr, builtin.CapsuleActorAddr, builtin.MethodsCapsule.GetTotalCapsules, nil, exitcode.SysErrSenderInvalid)
	})

	t.Run("unknown receiver", func(t *testing.T) {
		v, accounts := vm.NewVMWithAccounts(ctx, t, 1)
		unknownKey := tutil.NewBLSAddr(t, 1)
		vm.ApplyCode(t, v, accounts[0], tutil.NewIDAddr(t, 1000), builtin.MethodSend, nil, exitcode.SysErrInvalidReceiver)
		vm.ApplyCode(t, v, accounts[0], unknownKey, builtin.MethodSend, nil, exitcode.SysErrInvalidReceiver)

		invocations := v.Invocations()
		require.Len(t, invocations, 2)
		vm.ExpectInvocation{
			To:       unknownKey,
			Method:   builtin.MethodSend,
			Exitcode: exitcode.SysErrInvalidReceiver,
			From:     vm.ExpectAddress(accounts[0]),
		}.Matches(t, invocations[1])
	})

	t.Run("send without method", func(t *testing.T) {
		v, accounts := vm.NewVMWithAccounts(ctx, t, 2)
		before := v.StateRoot()
		ret := vm.ApplyOk(t, v, accounts[0], accounts[1], builtin.MethodSend, nil)
		assert.Nil(t, ret)
		assert.Equal(t, before, v.StateRoot())
	})

	t.Run("undefined method", func(t *testing.T) {
		v, accounts := vm.NewVMWithAccounts(ctx, t, 1)
		vm.ApplyCode(t, v, accounts[0], builtin.CapsuleActorAddr, abi.MethodNum(99), nil, exitcode.SysErrInvalidMethod)
	})

	t.Run("malformed params", func(t *testing.T) {
		v, accounts := vm.NewVMWithAccounts(ctx, t, 1)
		vm.ApplyCode(t, v, accounts[0], builtin.CapsuleActorAddr, builtin.MethodsCapsule.CreateCapsule, &capsule.CapsuleIDParams{ID: 1}, exitcode.ErrSerialization)
		vm.ApplyCode(t, v, accounts[0], builtin.CapsuleActorAddr, builtin.MethodsCapsule.RevealCapsule, nil, exitcode.ErrSerialization)
	})

	t.Run("constructor may not be called again", func(t *testing.T) {
		v, accounts := vm.NewVMWithAccounts(ctx, t, 1)
		vm.ApplyCode(t, v, accounts[0], builtin.CapsuleActorAddr, builtin.MethodConstructor, nil, exitcode.SysErrForbidden)
		vm.ApplyCode(t, v, accounts[0], accounts[0], builtin.MethodConstructor, &accounts[0], exitcode.SysErrForbidden)
	})

	t.Run("account exposes public key", func(t *testing.T) {
		v, accounts := vm.NewVMWithAccounts(ctx, t, 1)
		pubkey, err := v.PubkeyAddress(accounts[0])
		require.NoError(t, err)

		ret := vm.ApplyOk(t, v, accounts[0], accounts[0], builtin.MethodsAccount.PubkeyAddress, nil)
		assert.Equal(t, &pubkey, ret)

		var st account.State
		require.NoError(t, v.GetState(accounts[0], &st))
		assert.Equal(t, pubkey, st.Address)
	})
}

func TestSetEpoch(t *testing.T) {
	v, err := vm.NewVM(context.Background(), ipld.NewADTStore(context.Background()))
	require.NoError(t, err)

	require.NoError(t, v.SetEpoch(5))
	assert.Equal(t, abi.ChainEpoch(5), v.GetEpoch())
	require.NoError(t, v.SetEpoch(5))
	assert.Error(t, v.SetEpoch(4))
	assert.Equal(t, abi.ChainEpoch(5), v.GetEpoch())
}
