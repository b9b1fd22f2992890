package types

import "github.com/fxamacker/cbor/v2"

// Stored entities must encode identically across runs so snapshots can be
// compared byte for byte.
var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}
