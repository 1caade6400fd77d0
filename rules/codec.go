package rules

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// treeFormatVersion is bumped whenever NodeRecord changes incompatibly.
const treeFormatVersion = 1

type encodedTree struct {
	Version int          `msgpack:"v"`
	Nodes   []NodeRecord `msgpack:"nodes"`
}

// EncodeTree serializes a tree to msgpack.
func EncodeTree(root Node) ([]byte, error) {
	data, err := msgpack.Marshal(encodedTree{Version: treeFormatVersion, Nodes: Flatten(root)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tree: %w", err)
	}
	return data, nil
}

// DecodeTree deserializes a tree written by EncodeTree. An encoded nil tree
// decodes to nil.
func DecodeTree(data []byte) (Node, error) {
	var enc encodedTree
	if err := msgpack.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTree, err)
	}
	if enc.Version != treeFormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrInvalidTree, enc.Version)
	}
	return Rebuild(enc.Nodes)
}
