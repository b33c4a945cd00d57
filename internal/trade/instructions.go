// ====================================
// File: internal/trade/instructions.go
// ====================================
package trade

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// Anchor method discriminators for the pump.fun program.
var (
	buyDiscriminator  = []byte{0x66, 0x06, 0x3d, 0x12, 0x01, 0xda, 0xeb, 0xea}
	sellDiscriminator = []byte{0x33, 0xe6, 0x85, 0xa4, 0x01, 0x7f, 0x83, 0xad}
)

// buildBuyInstruction builds a buy instruction: the token amount and
// the SOL spending cap as two little-endian u64s after the
// discriminator.
func buildBuyInstruction(accounts SwapAccounts, amount, maxSolCost uint64) solana.Instruction {
	data := encodeSwapData(buyDiscriminator, amount, maxSolCost)

	// Account list must be in the exact order expected by the program.
	insAccounts := []*solana.AccountMeta{
		{PublicKey: accounts.Global, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.FeeRecipient, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.Mint, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.BondingCurve, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.AssociatedBondingCurve, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.AssociatedUser, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.User, IsSigner: true, IsWritable: true},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: SysvarRentPubkey, IsSigner: false, IsWritable: false},
		{PublicKey: PumpEventAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: PumpProgramID, IsSigner: false, IsWritable: false},
	}

	return solana.NewInstruction(PumpProgramID, insAccounts, data)
}

// buildSellInstruction builds a sell instruction: the token amount and
// the minimum acceptable SOL output.
func buildSellInstruction(accounts SwapAccounts, amount, minSolOutput uint64) solana.Instruction {
	data := encodeSwapData(sellDiscriminator, amount, minSolOutput)

	insAccounts := []*solana.AccountMeta{
		{PublicKey: accounts.Global, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.FeeRecipient, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.Mint, IsSigner: false, IsWritable: false},
		{PublicKey: accounts.BondingCurve, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.AssociatedBondingCurve, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.AssociatedUser, IsSigner: false, IsWritable: true},
		{PublicKey: accounts.User, IsSigner: true, IsWritable: true},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: AssociatedTokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: PumpEventAuthority, IsSigner: false, IsWritable: false},
		{PublicKey: PumpProgramID, IsSigner: false, IsWritable: false},
	}

	return solana.NewInstruction(PumpProgramID, insAccounts, data)
}

func encodeSwapData(discriminator []byte, first, second uint64) []byte {
	data := make([]byte, 0, len(discriminator)+16)
	data = append(data, discriminator...)

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, first)
	data = append(data, buf...)

	binary.LittleEndian.PutUint64(buf, second)
	data = append(data, buf...)
	return data
}

// buildCreateATAInstruction creates the user's associated token account
// so a first buy of a mint does not fail on a missing account.
func buildCreateATAInstruction(payer, associatedAddress, owner, mint solana.PublicKey) solana.Instruction {
	keys := []*solana.AccountMeta{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: associatedAddress, IsSigner: false, IsWritable: true},
		{PublicKey: owner, IsSigner: false, IsWritable: false},
		{PublicKey: mint, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: AssociatedTokenProgramID, IsSigner: false, IsWritable: false},
	}

	return solana.NewInstruction(AssociatedTokenProgramID, keys, []byte{})
}
