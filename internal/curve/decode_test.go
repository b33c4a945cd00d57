package curve

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeState(t *testing.T) {
	data := make([]byte, bondingCurveDataLen)
	binary.LittleEndian.PutUint64(data[8:16], 1_000_000_000_000)
	binary.LittleEndian.PutUint64(data[16:24], 30_000_000_000)
	binary.LittleEndian.PutUint64(data[24:32], 793_100_000_000)
	binary.LittleEndian.PutUint64(data[32:40], 0)
	binary.LittleEndian.PutUint64(data[40:48], 1_000_000_000_000)
	data[48] = 1

	state, err := DecodeState(data)
	require.NoError(t, err)

	assert.Zero(t, big.NewInt(1_000_000_000_000).Cmp(state.VirtualTokenReserves))
	assert.Zero(t, big.NewInt(30_000_000_000).Cmp(state.VirtualSolReserves))
	assert.Zero(t, big.NewInt(793_100_000_000).Cmp(state.RealTokenReserves))
	assert.Zero(t, big.NewInt(0).Cmp(state.RealSolReserves))
	assert.True(t, state.Complete)
}

func TestDecodeState_TooShort(t *testing.T) {
	_, err := DecodeState(make([]byte, 24))
	assert.Error(t, err)
}

func TestDecodeGlobalFeeBasisPoints(t *testing.T) {
	data := make([]byte, globalFeeOffset+8)
	binary.LittleEndian.PutUint64(data[globalFeeOffset:], 30)

	fee, err := DecodeGlobalFeeBasisPoints(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), fee)

	_, err = DecodeGlobalFeeBasisPoints(data[:globalFeeOffset])
	assert.Error(t, err)
}
