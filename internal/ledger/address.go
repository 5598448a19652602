package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// PDA seed prefixes used by the market program.
var (
	seedConfig   = []byte("config")
	seedMarket   = []byte("market")
	seedPosition = []byte("position")
	seedCreator  = []byte("creator")
)

// ConfigAddress derives the global config account address.
func ConfigAddress(programID solana.PublicKey) (solana.PublicKey, error) {
	return derive(programID, seedConfig)
}

// MarketAddress derives the account address of market id.
func MarketAddress(programID solana.PublicKey, id uint64) (solana.PublicKey, error) {
	var le [8]byte
	binary.LittleEndian.PutUint64(le[:], id)
	return derive(programID, seedMarket, le[:])
}

// PositionAddress derives the position account of user in market.
func PositionAddress(programID, market, user solana.PublicKey) (solana.PublicKey, error) {
	return derive(programID, seedPosition, market.Bytes(), user.Bytes())
}

// CreatorProfileAddress derives the creator profile account.
func CreatorProfileAddress(programID, creator solana.PublicKey) (solana.PublicKey, error) {
	return derive(programID, seedCreator, creator.Bytes())
}

func derive(programID solana.PublicKey, seeds ...[]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(seeds, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("ledger: derive %s address: %w", seeds[0], err)
	}
	return addr, nil
}
