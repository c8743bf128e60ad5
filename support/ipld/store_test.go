package ipld_test

import (
	"testing"

	block "github.com/ipfs/go-block-format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/timeloc/capsule-actors/support/ipld"
)

func TestMetricsBlockStore(t *testing.T) {
	underlying := ipld.NewBlockStoreInMemory()
	ms := ipld.NewMetricsBlockStore(underlying)

	blk := block.NewBlock([]byte("sealed"))
	require.NoError(t, ms.Put(blk))
	assert.Equal(t, uint64(1), ms.WriteCount())
	assert.Equal(t, uint64(6), ms.WriteBytes)
	assert.Equal(t, 1, underlying.Len())

	got, err := ms.Get(blk.Cid())
	require.NoError(t, err)
	assert.Equal(t, blk.RawData(), got.RawData())
	assert.Equal(t, uint64(1), ms.ReadCount())

	_, err = ms.Get(block.NewBlock([]byte("missing")).Cid())
	assert.True(t, xerrors.Is(err, ipld.ErrNotFound))
	assert.Equal(t, uint64(1), ms.ReadCount())
}
