package badger

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/marmos91/plevy/pkg/store/entry"
)

// recordVersion prefixes every stored entry so the encoding can evolve
// without a migration of existing databases.
const recordVersion byte = 1

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decoder: %v", err))
	}
}

// encodeEntry serializes an entry as a version byte followed by CBOR.
func encodeEntry(e *entry.Entry) ([]byte, error) {
	body, err := encMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry: %w", err)
	}

	out := make([]byte, 0, len(body)+1)
	out = append(out, recordVersion)
	return append(out, body...), nil
}

// decodeEntry parses bytes produced by encodeEntry.
func decodeEntry(data []byte) (*entry.Entry, error) {
	if len(data) == 0 {
		return nil, errors.New("empty record")
	}
	if data[0] != recordVersion {
		return nil, fmt.Errorf("unsupported record version %d", data[0])
	}

	var e entry.Entry
	if err := decMode.Unmarshal(data[1:], &e); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &e, nil
}
