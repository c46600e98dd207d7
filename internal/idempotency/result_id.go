package idempotency

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const resultIDPrefixV1 = "tgen-e2e.result.v1"

// ResultIDV1 identifies one scenario outcome within a run:
//
//	resultId = keccak256("tgen-e2e.result.v1" || len(runId) || runId || len(suite) || suite || len(scenario) || scenario)
//
// with each length a 4-byte big-endian prefix, so field boundaries cannot be shifted.
// Republishing the same result yields the same id, which lets consumers drop duplicates.
func ResultIDV1(runID, suite, scenario string) common.Hash {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(resultIDPrefixV1))
	for _, field := range []string{runID, suite, scenario} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(field)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(field))
	}
	return common.BytesToHash(h.Sum(nil))
}
