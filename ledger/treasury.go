// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultTreasuryAddresses are the reserve-factor collectors of the public
// pool deployments.
var DefaultTreasuryAddresses = []string{
	"0xB2289E329D2F85F1eD31Adbb30eA345278F21bcf",
	"0xe8599F3cc5D38a9aD6F3684cd5CEa72f10Dbc383",
	"0xBe85413851D195fC6341619cD68BfDc26a25b928",
	"0x5ba7fd868c40c16f7aDfAe6CF87121E13FC2F7a0",
	"0x8A020d92D6B119978582BE4d3EdFdC9F7b28BF31",
	"0x053D55f9B5AF8694c503EB288a1B7E552f590710",
	"0x464C71f6c2F760DdA6093dCB91C24c39e5d6e18c",
}

// TreasurySet holds the addresses whose mints are reserve-factor accruals.
type TreasurySet map[common.Address]struct{}

// NewTreasurySet parses hex addresses. Case is ignored.
func NewTreasurySet(addrs []string) (TreasurySet, error) {
	set := make(TreasurySet, len(addrs))
	for _, a := range addrs {
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("invalid treasury address %q", a)
		}
		set[common.HexToAddress(a)] = struct{}{}
	}
	return set, nil
}

// Contains reports whether addr is a treasury address.
func (s TreasurySet) Contains(addr common.Address) bool {
	_, ok := s[addr]
	return ok
}
