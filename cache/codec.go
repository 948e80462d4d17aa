package cache

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// magic prefixes every cache file so foreign or truncated files are
// recognized before decoding.
var magic = []byte("PDC1")

var ErrCorruptCache = errors.New("corrupt cache file")

func encode(entries map[string]string) ([]byte, error) {
	body, err := msgpack.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache: %w", err)
	}
	return append(append([]byte{}, magic...), body...), nil
}

func decode(data []byte) (map[string]string, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("%w: missing header", ErrCorruptCache)
	}

	var entries map[string]string
	if err := msgpack.Unmarshal(data[len(magic):], &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptCache, err)
	}
	if entries == nil {
		entries = map[string]string{}
	}
	return entries, nil
}
