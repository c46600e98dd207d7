package chaintest

import (
	"crypto/ecdsa"
	"math/big"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tradegen/tgen-e2e/internal/contracts"
)

// Key derives a deterministic private key from seed.
func Key(seed string) *ecdsa.PrivateKey {
	k, err := crypto.ToECDSA(crypto.Keccak256([]byte("chaintest:" + seed)))
	if err != nil {
		panic(err)
	}
	return k
}

// KeyHex is Key(seed) hex encoded without prefix.
func KeyHex(seed string) string {
	return common.Bytes2Hex(crypto.FromECDSA(Key(seed)))
}

// Address is the address of Key(seed).
func Address(seed string) common.Address {
	return crypto.PubkeyToAddress(Key(seed).PublicKey)
}

// Tradegen holds the addresses DeployTradegen uses.
type Tradegen struct {
	Token       common.Address
	Settings    common.Address
	Escrow      common.Address
	Distribute  common.Address
	Components  common.Address
	LatestPrice common.Address
	Interval    common.Address
	HighOfLastN common.Address
	FallsTo     common.Address
}

// TradegenAddresses are fixed so suites can reference them literally.
var TradegenAddresses = Tradegen{
	Token:       common.HexToAddress("0x00000000000000000000000000000000000000A1"),
	Settings:    common.HexToAddress("0x00000000000000000000000000000000000000A2"),
	Escrow:      common.HexToAddress("0x00000000000000000000000000000000000000A3"),
	Distribute:  common.HexToAddress("0x00000000000000000000000000000000000000A4"),
	Components:  common.HexToAddress("0x00000000000000000000000000000000000000A5"),
	LatestPrice: common.HexToAddress("0x00000000000000000000000000000000000000B1"),
	Interval:    common.HexToAddress("0x00000000000000000000000000000000000000B2"),
	HighOfLastN: common.HexToAddress("0x00000000000000000000000000000000000000B3"),
	FallsTo:     common.HexToAddress("0x00000000000000000000000000000000000000C1"),
}

// TokenSupply is minted to the owner. The escrow and the distribution contract each hold
// ContractFloat on top of it.
var (
	TokenSupply, _   = new(big.Int).SetString("1000000000000000000000000000", 10)
	ContractFloat, _ = new(big.Int).SetString("1000000000000000000000000", 10)
)

// DeployTradegen deploys fakes of the Tradegen contracts at TradegenAddresses, with ABIs read
// from artifactsDir. Every priced component is developed by owner.
func DeployTradegen(b *Backend, artifactsDir string, owner common.Address) (Tradegen, error) {
	load := func(name string) (abi.ABI, error) {
		a, err := contracts.LoadArtifact(filepath.Join(artifactsDir, name+".json"))
		if err != nil {
			return abi.ABI{}, err
		}
		return a.ABI, nil
	}
	names := []string{"TradegenERC20", "Settings", "TradegenEscrow", "DistributeFunds", "Components", "Indicator", "Comparator"}
	abis := make(map[string]abi.ABI, len(names))
	for _, n := range names {
		a, err := load(n)
		if err != nil {
			return Tradegen{}, err
		}
		abis[n] = a
	}

	t := TradegenAddresses
	tok := Token{Address: t.Token, ABI: abis["TradegenERC20"]}
	DeployERC20(b, tok, "TGEN", owner, TokenSupply)
	for _, holder := range []common.Address{t.Escrow, t.Distribute} {
		b.Set(t.Token, balanceKey(holder), new(big.Int).Set(ContractFloat))
	}
	b.Set(t.Token, "totalSupply", new(big.Int).Add(TokenSupply, new(big.Int).Mul(ContractFloat, big.NewInt(2))))

	DeploySettings(b, t.Settings, abis["Settings"], owner)
	DeployEscrow(b, t.Escrow, abis["TradegenEscrow"], owner, tok)
	DeployDistributeFunds(b, t.Distribute, abis["DistributeFunds"], owner, tok)
	DeployComponents(b, t.Components, abis["Components"], owner, tok)
	DeployIndicator(b, t.LatestPrice, abis["Indicator"], owner, 10, LatestPrice)
	DeployIndicator(b, t.Interval, abis["Indicator"], owner, 10, Interval)
	DeployIndicator(b, t.HighOfLastN, abis["Indicator"], owner, 10, HighOfLastN)
	DeployFallsTo(b, t.FallsTo, abis["Comparator"], owner, 10)
	return t, nil
}
