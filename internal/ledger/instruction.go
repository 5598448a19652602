package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
)

// MaxVoidReasonBytes is the longest reason accepted by void_market.
const MaxVoidReasonBytes = 200

// InstructionDiscriminator is the Anchor method selector sha256("global:<name>")[:8].
func InstructionDiscriminator(name string) [8]byte {
	return hashPrefix("global:" + name)
}

// AccountDiscriminator is the Anchor account tag sha256("account:<Name>")[:8].
func AccountDiscriminator(name string) [8]byte {
	return hashPrefix("account:" + name)
}

func hashPrefix(s string) [8]byte {
	sum := sha256.Sum256([]byte(s))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// ResolveMarketData encodes resolve_market(outcome).
func ResolveMarketData(outcomeYes bool) []byte {
	disc := InstructionDiscriminator("resolve_market")
	data := make([]byte, 0, 9)
	data = append(data, disc[:]...)
	if outcomeYes {
		return append(data, 1)
	}
	return append(data, 0)
}

// VoidMarketData encodes void_market(reason). The reason is truncated to
// MaxVoidReasonBytes without splitting a UTF-8 sequence.
func VoidMarketData(reason string) []byte {
	reason = TruncateUTF8(reason, MaxVoidReasonBytes)
	disc := InstructionDiscriminator("void_market")
	data := make([]byte, 0, 12+len(reason))
	data = append(data, disc[:]...)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(reason)))
	return append(data, reason...)
}

// TruncateUTF8 returns the longest prefix of s that is at most n bytes and
// ends on a rune boundary.
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// settlementAccounts are the accounts shared by resolve_market and
// void_market.
type settlementAccounts struct {
	Authority      solana.PublicKey
	Config         solana.PublicKey
	Market         solana.PublicKey
	CreatorProfile solana.PublicKey
}

func settlementInstruction(programID solana.PublicKey, acc settlementAccounts, data []byte) solana.Instruction {
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(acc.Authority, false, true),
		solana.NewAccountMeta(acc.Config, false, false),
		solana.NewAccountMeta(acc.Market, true, false),
		solana.NewAccountMeta(acc.CreatorProfile, true, false),
	}, data)
}
