package trade

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSwapAccounts(t *testing.T) SwapAccounts {
	t.Helper()
	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	user := solana.MustPublicKeyFromBase58("Vote111111111111111111111111111111111111111")

	bondingCurve, associatedBondingCurve, err := deriveBondingCurve(mint)
	require.NoError(t, err)
	global, err := deriveGlobal()
	require.NoError(t, err)
	associatedUser, _, err := solana.FindAssociatedTokenAddress(user, mint)
	require.NoError(t, err)

	return SwapAccounts{
		Global:                 global,
		FeeRecipient:           solana.MustPublicKeyFromBase58("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM"),
		Mint:                   mint,
		BondingCurve:           bondingCurve,
		AssociatedBondingCurve: associatedBondingCurve,
		AssociatedUser:         associatedUser,
		User:                   user,
	}
}

func TestBuildBuyInstruction_DataLayout(t *testing.T) {
	accounts := testSwapAccounts(t)
	ix := buildBuyInstruction(accounts, 32_258_064_517, 1_000_000_000)

	assert.Equal(t, PumpProgramID, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 8+8+8)
	assert.Equal(t, buyDiscriminator, data[:8])
	assert.Equal(t, uint64(32_258_064_517), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, uint64(1_000_000_000), binary.LittleEndian.Uint64(data[16:24]))
}

func TestBuildBuyInstruction_AccountOrder(t *testing.T) {
	accounts := testSwapAccounts(t)
	ix := buildBuyInstruction(accounts, 1, 1)

	metas := ix.Accounts()
	require.Len(t, metas, 12)

	expected := []solana.PublicKey{
		accounts.Global,
		accounts.FeeRecipient,
		accounts.Mint,
		accounts.BondingCurve,
		accounts.AssociatedBondingCurve,
		accounts.AssociatedUser,
		accounts.User,
		solana.SystemProgramID,
		solana.TokenProgramID,
		SysvarRentPubkey,
		PumpEventAuthority,
		PumpProgramID,
	}
	for i, want := range expected {
		assert.Equal(t, want, metas[i].PublicKey, "account %d", i)
	}

	// Only the user signs; curve and fee accounts are writable.
	for i, meta := range metas {
		assert.Equal(t, i == 6, meta.IsSigner, "signer flag for account %d", i)
	}
	assert.True(t, metas[1].IsWritable)
	assert.True(t, metas[3].IsWritable)
	assert.True(t, metas[4].IsWritable)
	assert.False(t, metas[0].IsWritable)
}

func TestBuildSellInstruction_DataLayout(t *testing.T) {
	accounts := testSwapAccounts(t)
	ix := buildSellInstruction(accounts, 500_000, 42)

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 24)
	assert.Equal(t, sellDiscriminator, data[:8])
	assert.Equal(t, uint64(500_000), binary.LittleEndian.Uint64(data[8:16]))
	assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(data[16:24]))

	// Sell swaps the rent sysvar slot for the associated token program.
	metas := ix.Accounts()
	require.Len(t, metas, 12)
	assert.Equal(t, AssociatedTokenProgramID, metas[9].PublicKey)
}

func TestDeriveBondingCurve_Deterministic(t *testing.T) {
	mint := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	curve1, ata1, err := deriveBondingCurve(mint)
	require.NoError(t, err)
	curve2, ata2, err := deriveBondingCurve(mint)
	require.NoError(t, err)

	assert.Equal(t, curve1, curve2)
	assert.Equal(t, ata1, ata2)
	assert.False(t, curve1.IsZero())
	assert.NotEqual(t, curve1, ata1)
}

func TestBuildCreateATAInstruction(t *testing.T) {
	accounts := testSwapAccounts(t)
	ix := buildCreateATAInstruction(accounts.User, accounts.AssociatedUser, accounts.User, accounts.Mint)

	assert.Equal(t, AssociatedTokenProgramID, ix.ProgramID())
	data, err := ix.Data()
	require.NoError(t, err)
	assert.Empty(t, data)

	metas := ix.Accounts()
	require.Len(t, metas, 7)
	assert.True(t, metas[0].IsSigner)
	assert.True(t, metas[1].IsWritable)
}
