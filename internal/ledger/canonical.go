package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
)

// GenesisHash — голова свежего леджера: нулевой 32-байтный хэш.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// CanonicalEncode детерминированно сериализует событие: фиксированный порядок
// полей по RFC 8785 (JCS), никакой зависимости от порядка обхода мап.
func CanonicalEncode(ev domain.MutationEvent) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform failed: %w", err)
	}
	return canonical, nil
}

// ChainHash вычисляет record_hash = H(prior_hash || canonical_bytes).
// prior_hash участвует сырыми байтами, а не hex-строкой.
func ChainHash(priorHex string, canonical []byte) (string, error) {
	prior, err := hex.DecodeString(priorHex)
	if err != nil {
		return "", fmt.Errorf("chain: invalid prior hash %q: %w", priorHex, err)
	}
	h := sha256.New()
	h.Write(prior)
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
