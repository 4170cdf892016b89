package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Decoder limits. Tickets are shallow; anything deeper or wider than this is
// corrupt or hostile input.
const (
	maxNestedLevels  = 24
	maxArrayElements = 1 << 16
	maxMapPairs      = 1 << 16
)

// encMode is the CBOR encoder configured with Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. The same ticket always encodes to the same bytes.
var encMode cbor.EncMode

// decMode accepts only what encMode produces plus unknown fields, and rejects
// duplicate map keys.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		MaxNestedLevels:  maxNestedLevels,
		MaxArrayElements: maxArrayElements,
		MaxMapPairs:      maxMapPairs,
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with the transcoder's deterministic CBOR settings.
// Codecs registered with Register may use it for nested values.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v with the transcoder's decoding limits.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value used to delay decoding.
type RawMessage = cbor.RawMessage
