package types

import "github.com/ethereum/go-ethereum/common"

// ValidatorStake is one entry of a block's or chunk's validator-proposals
// list.
type ValidatorStake struct {
	AccountID common.Hash `json:"accountId"`
	PublicKey []byte      `json:"publicKey"`
	Stake     uint64      `json:"stake"`
}

// Equal reports whether two proposals carry the same account/key/stake,
// used by the element-wise validator-proposals check in ChainUpdate.
func (v ValidatorStake) Equal(o ValidatorStake) bool {
	return v.AccountID == o.AccountID && v.Stake == o.Stake && string(v.PublicKey) == string(o.PublicKey)
}

// ValidatorStakesEqual compares two ordered proposal lists element-wise.
func ValidatorStakesEqual(a, b []ValidatorStake) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
