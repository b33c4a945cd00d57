// ==============================
// File: internal/curve/decode.go
// ==============================
package curve

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

const (
	// bondingCurveDataLen is discriminator + five u64 fields + complete flag.
	bondingCurveDataLen = 8 + 5*8 + 1
	// globalFeeOffset skips discriminator, initialized flag, two pubkeys
	// and four u64 launch parameters to reach fee_basis_points.
	globalFeeOffset = 8 + 1 + 32 + 32 + 4*8
	// globalFeeRecipientOffset skips discriminator, initialized flag and
	// the authority pubkey.
	globalFeeRecipientOffset = 8 + 1 + 32
)

// DecodeState deserializes raw bonding curve account data into a
// reserve snapshot. The account layout is the program's: an 8-byte
// discriminator followed by little-endian u64 reserve fields and a
// completion flag.
func DecodeState(data []byte) (*State, error) {
	if len(data) < bondingCurveDataLen {
		return nil, fmt.Errorf("insufficient bonding curve data length: %d", len(data))
	}

	return &State{
		VirtualTokenReserves: new(big.Int).SetUint64(binary.LittleEndian.Uint64(data[8:16])),
		VirtualSolReserves:   new(big.Int).SetUint64(binary.LittleEndian.Uint64(data[16:24])),
		RealTokenReserves:    new(big.Int).SetUint64(binary.LittleEndian.Uint64(data[24:32])),
		RealSolReserves:      new(big.Int).SetUint64(binary.LittleEndian.Uint64(data[32:40])),
		TokenTotalSupply:     new(big.Int).SetUint64(binary.LittleEndian.Uint64(data[40:48])),
		Complete:             data[48] != 0,
	}, nil
}

// DecodeGlobalFeeBasisPoints extracts the protocol fee from the program
// global account data.
func DecodeGlobalFeeBasisPoints(data []byte) (uint64, error) {
	if len(data) < globalFeeOffset+8 {
		return 0, fmt.Errorf("insufficient global account data length: %d", len(data))
	}
	return binary.LittleEndian.Uint64(data[globalFeeOffset : globalFeeOffset+8]), nil
}

// DecodeGlobalFeeRecipient extracts the protocol fee recipient key from
// the program global account data. Returned as raw bytes so this
// package stays free of chain SDK types.
func DecodeGlobalFeeRecipient(data []byte) ([32]byte, error) {
	var key [32]byte
	if len(data) < globalFeeRecipientOffset+32 {
		return key, fmt.Errorf("insufficient global account data length: %d", len(data))
	}
	copy(key[:], data[globalFeeRecipientOffset:globalFeeRecipientOffset+32])
	return key, nil
}
