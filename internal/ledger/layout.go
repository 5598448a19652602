package ledger

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/degenbets-settler/internal/domain"
)

var (
	// ErrShortAccount is returned when account data ends before the layout
	// does. No partial value is ever returned with it.
	ErrShortAccount = errors.New("ledger: account data too short")
	// ErrWrongAccount is returned when the account discriminator does not
	// match the expected type.
	ErrWrongAccount = errors.New("ledger: unexpected account type")
)

// Fixed sizes and offsets of the position and config accounts.
const (
	discriminatorLen = 8

	positionMarketOffset  = 8
	positionUserOffset    = 40
	positionYesOffset     = 72
	positionNoOffset      = 80
	positionClaimedOffset = 88
	PositionMinLen        = 89

	configAuthorityOffset       = 8
	configTreasuryOffset        = 40
	configMinLiquidityOffset    = 72
	configTreasuryRakeOffset    = 80
	configCreatorRakeOffset     = 82
	configMarketCountOffset     = 84
	configPausedOffset          = 92
	configMinTradeOffset        = 93
	configBettingCutoffOffset   = 101
	configChallengePeriodOffset = 109
	configSwapFeeOffset         = 117
	ConfigMinLen                = 119

	marketCreatorOffset = 8
)

// Market status tags as stored on the ledger.
const (
	statusOpen     uint8 = 0
	statusResolved uint8 = 1
	statusVoided   uint8 = 2
)

// MarketAccount is the decoded market account.
type MarketAccount struct {
	Creator             solana.PublicKey
	Question            string
	ResolutionSource    string
	YesReserve          uint64
	NoReserve           uint64
	TotalMinted         uint64
	InitialLiquidity    uint64
	SwapFeeBps          uint16
	ResolutionTimestamp int64
	Status              uint8
	Outcome             *bool
	CreatorFeeClaimed   bool
	TreasuryFeeClaimed  bool
	MarketID            uint64
	ResolvedAt          int64
	Bump                uint8
	TreasuryFee         uint64
	CreatorFee          uint64
	TreasuryRakeBps     uint16
	CreatorRakeBps      uint16
}

// DecodeMarket decodes a market account. The layout is sequential because
// the two strings make every later field's offset variable.
func DecodeMarket(data []byte) (MarketAccount, error) {
	if err := checkDiscriminator(data, "Market"); err != nil {
		return MarketAccount{}, err
	}
	d := &decoder{buf: data, off: discriminatorLen}

	var a MarketAccount
	a.Creator = d.pubkey()
	a.Question = d.str()
	a.ResolutionSource = d.str()
	a.YesReserve = d.u64()
	a.NoReserve = d.u64()
	a.TotalMinted = d.u64()
	a.InitialLiquidity = d.u64()
	a.SwapFeeBps = d.u16()
	a.ResolutionTimestamp = d.i64()
	a.Status = d.u8()
	if d.u8() == 1 {
		v := d.flag()
		a.Outcome = &v
	}
	a.CreatorFeeClaimed = d.flag()
	a.TreasuryFeeClaimed = d.flag()
	a.MarketID = d.u64()
	a.ResolvedAt = d.i64()
	a.Bump = d.u8()
	a.TreasuryFee = d.u64()
	a.CreatorFee = d.u64()
	a.TreasuryRakeBps = d.u16()
	a.CreatorRakeBps = d.u16()

	if d.err != nil {
		return MarketAccount{}, d.err
	}
	if a.Status > statusVoided {
		return MarketAccount{}, fmt.Errorf("%w: market status tag %d", ErrWrongAccount, a.Status)
	}
	return a, nil
}

// Domain converts the account into the mirrored market row.
func (a MarketAccount) Domain(pubkey solana.PublicKey) domain.Market {
	m := domain.Market{
		ID:                  a.MarketID,
		Pubkey:              pubkey.String(),
		Creator:             a.Creator.String(),
		Question:            a.Question,
		ResolutionSource:    a.ResolutionSource,
		ResolutionTimestamp: a.ResolutionTimestamp,
		YesReserve:          a.YesReserve,
		NoReserve:           a.NoReserve,
		TotalMinted:         a.TotalMinted,
		InitialLiquidity:    a.InitialLiquidity,
		SwapFeeBps:          a.SwapFeeBps,
		TreasuryFee:         a.TreasuryFee,
		CreatorFee:          a.CreatorFee,
		ResolvedAt:          a.ResolvedAt,
		CreatorFeeClaimed:   a.CreatorFeeClaimed,
		TreasuryFeeClaimed:  a.TreasuryFeeClaimed,
	}
	switch a.Status {
	case statusResolved:
		m.Status = domain.MarketStatusResolved
		if a.Outcome != nil {
			m.Outcome = domain.OutcomeFromBool(*a.Outcome)
		}
	case statusVoided:
		m.Status = domain.MarketStatusVoided
	default:
		m.Status = domain.MarketStatusOpen
	}
	return m
}

// PositionAccount is the decoded position account.
type PositionAccount struct {
	Market    solana.PublicKey
	User      solana.PublicKey
	YesShares uint64
	NoShares  uint64
	Claimed   bool
}

// DecodePosition decodes a position account.
func DecodePosition(data []byte) (PositionAccount, error) {
	if len(data) < PositionMinLen {
		return PositionAccount{}, ErrShortAccount
	}
	if err := checkDiscriminator(data, "Position"); err != nil {
		return PositionAccount{}, err
	}
	le := binary.LittleEndian
	return PositionAccount{
		Market:    solana.PublicKeyFromBytes(data[positionMarketOffset:positionUserOffset]),
		User:      solana.PublicKeyFromBytes(data[positionUserOffset:positionYesOffset]),
		YesShares: le.Uint64(data[positionYesOffset:]),
		NoShares:  le.Uint64(data[positionNoOffset:]),
		Claimed:   data[positionClaimedOffset] != 0,
	}, nil
}

// Domain converts the account into the mirrored position row.
func (a PositionAccount) Domain(marketID uint64, pubkey solana.PublicKey) domain.Position {
	return domain.Position{
		MarketID:  marketID,
		Wallet:    a.User.String(),
		Pubkey:    pubkey.String(),
		YesShares: a.YesShares,
		NoShares:  a.NoShares,
		Claimed:   a.Claimed,
	}
}

// DecodeConfig decodes the global config account.
func DecodeConfig(data []byte) (domain.LedgerConfig, error) {
	if len(data) < ConfigMinLen {
		return domain.LedgerConfig{}, ErrShortAccount
	}
	if err := checkDiscriminator(data, "Config"); err != nil {
		return domain.LedgerConfig{}, err
	}
	le := binary.LittleEndian
	return domain.LedgerConfig{
		Authority:       solana.PublicKeyFromBytes(data[configAuthorityOffset:configTreasuryOffset]).String(),
		Treasury:        solana.PublicKeyFromBytes(data[configTreasuryOffset:configMinLiquidityOffset]).String(),
		MinLiquidity:    le.Uint64(data[configMinLiquidityOffset:]),
		TreasuryRakeBps: le.Uint16(data[configTreasuryRakeOffset:]),
		CreatorRakeBps:  le.Uint16(data[configCreatorRakeOffset:]),
		MarketCount:     le.Uint64(data[configMarketCountOffset:]),
		Paused:          data[configPausedOffset] != 0,
		MinTrade:        le.Uint64(data[configMinTradeOffset:]),
		BettingCutoff:   int64(le.Uint64(data[configBettingCutoffOffset:])),
		ChallengePeriod: int64(le.Uint64(data[configChallengePeriodOffset:])),
		SwapFeeBps:      le.Uint16(data[configSwapFeeOffset:]),
	}, nil
}

// marketCreator reads the creator key straight from raw market data.
func marketCreator(data []byte) (solana.PublicKey, error) {
	if len(data) < marketCreatorOffset+solana.PublicKeyLength {
		return solana.PublicKey{}, ErrShortAccount
	}
	return solana.PublicKeyFromBytes(data[marketCreatorOffset : marketCreatorOffset+solana.PublicKeyLength]), nil
}

func checkDiscriminator(data []byte, account string) error {
	if len(data) < discriminatorLen {
		return ErrShortAccount
	}
	want := AccountDiscriminator(account)
	if !bytes.Equal(data[:discriminatorLen], want[:]) {
		return fmt.Errorf("%w: want %s", ErrWrongAccount, account)
	}
	return nil
}

// decoder reads little-endian Borsh fields. The first short read sets err
// and every later read returns a zero value.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.err = ErrShortAccount
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) flag() bool { return d.u8() != 0 }

func (d *decoder) u16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) pubkey() solana.PublicKey {
	b := d.take(solana.PublicKeyLength)
	if b == nil {
		return solana.PublicKey{}
	}
	return solana.PublicKeyFromBytes(b)
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	if uint64(n) > uint64(len(d.buf)-d.off) {
		d.err = ErrShortAccount
		return ""
	}
	return string(d.take(int(n)))
}
