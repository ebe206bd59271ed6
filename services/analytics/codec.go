package analytics

import (
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"lukechampine.com/blake3"
)

// encMode uses Core Deterministic Encoding so the same payload always hashes
// to the same digest.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("analytics: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("analytics: CBOR decoder initialization failed: " + err.Error())
	}
}

// genesisDigest anchors the first record of the chain.
var genesisDigest = hex.EncodeToString(make([]byte, 32))

func encodePayload(p EventPayload) ([]byte, error) {
	return encMode.Marshal(p)
}

func decodePayload(data []byte) (EventPayload, error) {
	var p EventPayload
	err := decMode.Unmarshal(data, &p)
	return p, err
}

// chainDigest returns hex(blake3(prev || cbor(payload))).
func chainDigest(prev string, p EventPayload) (string, error) {
	prevBytes, err := hex.DecodeString(prev)
	if err != nil {
		return "", err
	}
	canonical, err := encodePayload(p)
	if err != nil {
		return "", err
	}
	hasher := blake3.New(32, nil)
	hasher.Write(prevBytes)
	hasher.Write(canonical)
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
