package types

import (
	"github.com/fxamacker/cbor/v2"
)

// InitialReputation is assigned to every freshly added member.
const InitialReputation = 1.0

// Validator is a consensus member. Members with IsValidator false carry a
// reputation but contribute nothing to quorum or threshold computations.
type Validator struct {
	ID          string  `cbor:"1,keyasint" json:"id"`
	Reputation  float64 `cbor:"2,keyasint" json:"reputation"`
	IsValidator bool    `cbor:"3,keyasint" json:"is_validator"`
}

func (v *Validator) Marshal() ([]byte, error) {
	return cborEnc.Marshal(v)
}

func (v *Validator) Unmarshal(data []byte) error {
	return cbor.Unmarshal(data, v)
}

// Vote is one validator's verdict on a proposed block.
type Vote struct {
	VoterID string `json:"voter_id"`
	InFavor bool   `json:"in_favor"`
}
