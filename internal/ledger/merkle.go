package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// emptyTxRoot is the root of a block without transactions: Keccak-256 of no input.
var emptyTxRoot = crypto.Keccak256Hash()

// merkleRoot folds leaves pairwise with Keccak-256. An odd level duplicates its last node.
func merkleRoot(leaves []common.Hash) common.Hash {
	if len(leaves) == 0 {
		return emptyTxRoot
	}
	level := make([]common.Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, 0, len(level)/2)
		for index := 0; index < len(level); index += 2 {
			next = append(next, crypto.Keccak256Hash(level[index].Bytes(), level[index+1].Bytes()))
		}
		level = next
	}
	return level[0]
}
