package adt_test

import (
	"context"
	"testing"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/timeloc/capsule-actors/actors/util/adt"
	"github.com/timeloc/capsule-actors/support/ipld"
	tutil "github.com/timeloc/capsule-actors/support/testing"
)

func TestMap(t *testing.T) {
	store := ipld.NewADTStore(context.Background())

	t.Run("put get and reload", func(t *testing.T) {
		m, err := adt.MakeEmptyMap(store, adt.DefaultHamtBitwidth)
		require.NoError(t, err)

		owner := tutil.NewIDAddr(t, 101)
		v := cbg.CborInt(7)
		require.NoError(t, m.Put(abi.AddrKey(owner), &v))

		root, err := m.Root()
		require.NoError(t, err)

		reloaded, err := adt.AsMap(store, root, adt.DefaultHamtBitwidth)
		require.NoError(t, err)

		var out cbg.CborInt
		found, err := reloaded.Get(abi.AddrKey(owner), &out)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, cbg.CborInt(7), out)

		found, err = reloaded.Get(abi.AddrKey(tutil.NewIDAddr(t, 102)), &out)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("get reports presence without decoding", func(t *testing.T) {
		m, err := adt.MakeEmptyMap(store, adt.DefaultHamtBitwidth)
		require.NoError(t, err)

		key := abi.UIntKey(9)
		found, err := m.Get(key, nil)
		require.NoError(t, err)
		assert.False(t, found)

		v := cbg.CborInt(3)
		require.NoError(t, m.Put(key, &v))
		found, err = m.Get(key, nil)
		require.NoError(t, err)
		assert.True(t, found)

		found, err = m.Get(abi.UIntKey(10), nil)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("empty map roots are stable", func(t *testing.T) {
		r1, err := adt.StoreEmptyMap(store, adt.DefaultHamtBitwidth)
		require.NoError(t, err)
		r2, err := adt.StoreEmptyMap(store, adt.DefaultHamtBitwidth)
		require.NoError(t, err)
		assert.Equal(t, r1, r2)
	})

	t.Run("collect keys", func(t *testing.T) {
		m, err := adt.MakeEmptyMap(store, adt.DefaultHamtBitwidth)
		require.NoError(t, err)
		for i := uint64(1); i <= 3; i++ {
			v := cbg.CborInt(i)
			require.NoError(t, m.Put(abi.UIntKey(i), &v))
		}
		keys, err := m.CollectKeys()
		require.NoError(t, err)
		assert.Len(t, keys, 3)

		sum := int64(0)
		var out cbg.CborInt
		require.NoError(t, m.ForEach(&out, func(string) error {
			sum += int64(out)
			return nil
		}))
		assert.Equal(t, int64(6), sum)
	})
}

func TestArray(t *testing.T) {
	store := ipld.NewADTStore(context.Background())

	t.Run("set get length", func(t *testing.T) {
		arr, err := adt.MakeEmptyArray(store, adt.DefaultAmtBitwidth)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), arr.Length())

		for i := uint64(1); i <= 40; i++ {
			v := cbg.CborInt(i * 10)
			require.NoError(t, arr.Set(i, &v))
		}
		assert.Equal(t, uint64(40), arr.Length())

		root, err := arr.Root()
		require.NoError(t, err)
		reloaded, err := adt.AsArray(store, root, adt.DefaultAmtBitwidth)
		require.NoError(t, err)
		assert.Equal(t, uint64(40), reloaded.Length())

		var out cbg.CborInt
		found, err := reloaded.Get(33, &out)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, cbg.CborInt(330), out)

		found, err = reloaded.Get(0, &out)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("for each visits in index order", func(t *testing.T) {
		arr, err := adt.MakeEmptyArray(store, adt.DefaultAmtBitwidth)
		require.NoError(t, err)
		for _, i := range []uint64{9, 2, 5} {
			v := cbg.CborInt(i)
			require.NoError(t, arr.Set(i, &v))
		}

		var seen []int64
		var out cbg.CborInt
		require.NoError(t, arr.ForEach(&out, func(i int64) error {
			assert.Equal(t, i, int64(out))
			seen = append(seen, i)
			return nil
		}))
		assert.Equal(t, []int64{2, 5, 9}, seen)
	})
}

func TestMultimap(t *testing.T) {
	store := ipld.NewADTStore(context.Background())

	mm, err := adt.MakeEmptyMultimap(store, adt.DefaultHamtBitwidth, adt.DefaultAmtBitwidth)
	require.NoError(t, err)

	alice := abi.AddrKey(tutil.NewIDAddr(t, 101))
	bob := abi.AddrKey(tutil.NewIDAddr(t, 102))
	for _, v := range []int64{3, 1, 2} {
		cv := cbg.CborInt(v)
		require.NoError(t, mm.Add(alice, &cv))
	}
	five := cbg.CborInt(5)
	require.NoError(t, mm.Add(bob, &five))

	root, err := mm.Root()
	require.NoError(t, err)
	reloaded, err := adt.AsMultimap(store, root, adt.DefaultHamtBitwidth, adt.DefaultAmtBitwidth)
	require.NoError(t, err)

	collect := func(key abi.Keyer) []int64 {
		var out cbg.CborInt
		var vals []int64
		require.NoError(t, reloaded.ForEach(key, &out, func(int64) error {
			vals = append(vals, int64(out))
			return nil
		}))
		return vals
	}
	// insertion order is retained
	assert.Equal(t, []int64{3, 1, 2}, collect(alice))
	assert.Equal(t, []int64{5}, collect(bob))
	assert.Empty(t, collect(abi.AddrKey(tutil.NewIDAddr(t, 103))))

	keys := 0
	require.NoError(t, reloaded.ForAll(func(k string, arr *adt.Array) error {
		keys++
		assert.NotZero(t, arr.Length())
		return nil
	}))
	assert.Equal(t, 2, keys)
}
