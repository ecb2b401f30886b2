package ledger

import (
	"context"
	"fmt"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
)

// VerifyResult — вердикт верификатора.
// При расхождении FirstDivergentSeq указывает на первую сломанную запись;
// все последующие записи считаются невалидными (разрыв цепи распространяется вперед).
type VerifyResult struct {
	Valid             bool   `json:"valid"`
	FirstDivergentSeq uint64 `json:"first_divergent_sequence_number,omitempty"`
	Reason            string `json:"reason,omitempty"`
	RecordCount       int    `json:"record_count"`
	FinalHead         string `json:"final_head,omitempty"`
}

// Err возвращает ChainIntegrityError для невалидной цепи.
// Сломанную цепь никто не чинит автоматически — это операционное решение.
func (r VerifyResult) Err() error {
	if r.Valid {
		return nil
	}
	return &domain.ChainIntegrityError{SequenceNumber: r.FirstDivergentSeq, Reason: r.Reason}
}

// VerifySegments пересчитывает цепочку от генезиса по сегментам в порядке
// коммита: непрерывность через границы сегментов, пересчет каждого record_hash,
// связность prior_hash и строго возрастающий sequence_number без пропусков.
func VerifySegments(genesis string, segments []*domain.LedgerSegment) VerifyResult {
	if genesis == "" {
		genesis = GenesisHash
	}

	head := genesis
	prevSegFinal := genesis
	wantSeq := uint64(1)
	count := 0

	diverged := func(seq uint64, reason string) VerifyResult {
		return VerifyResult{
			Valid:             false,
			FirstDivergentSeq: seq,
			Reason:            reason,
			RecordCount:       count,
		}
	}

	for _, seg := range segments {
		// Заголовок сегмента несет хэш последней записи предыдущего сегмента
		if seg.Header.PriorSegmentFinalHash != prevSegFinal {
			return diverged(seg.Header.FirstSequence, fmt.Sprintf(
				"segment continuity broken: header prior %s, expected %s",
				seg.Header.PriorSegmentFinalHash, prevSegFinal))
		}

		for _, rec := range seg.Records {
			if rec.SequenceNumber != wantSeq {
				return diverged(rec.SequenceNumber, fmt.Sprintf(
					"sequence gap: got %d, expected %d", rec.SequenceNumber, wantSeq))
			}
			if rec.PriorHash != head {
				return diverged(rec.SequenceNumber, fmt.Sprintf(
					"prior hash mismatch: stored %s, expected %s", rec.PriorHash, head))
			}

			canonical, err := CanonicalEncode(rec.Payload)
			if err != nil {
				return diverged(rec.SequenceNumber, fmt.Sprintf("payload not encodable: %v", err))
			}
			recomputed, err := ChainHash(head, canonical)
			if err != nil {
				return diverged(rec.SequenceNumber, fmt.Sprintf("hash recompute failed: %v", err))
			}
			if recomputed != rec.RecordHash {
				return diverged(rec.SequenceNumber, fmt.Sprintf(
					"record hash mismatch: stored %s, recomputed %s", rec.RecordHash, recomputed))
			}

			head = rec.RecordHash
			wantSeq++
			count++
		}

		prevSegFinal = seg.FinalHash()
	}

	return VerifyResult{Valid: true, RecordCount: count, FinalHead: head}
}

// VerifyStore загружает все сегменты из хранилища в порядке коммита и
// прогоняет верификацию. Ошибка возвращается только за проблемы чтения;
// нарушение целостности — это невалидный VerifyResult, не error.
func VerifyStore(ctx context.Context, store SegmentStore, genesis string) (VerifyResult, error) {
	names, err := store.List(ctx)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("verifier: list segments: %w", err)
	}

	segments := make([]*domain.LedgerSegment, 0, len(names))
	for _, name := range names {
		seg, err := store.Load(ctx, name)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("verifier: load segment %s: %w", name, err)
		}
		segments = append(segments, seg)
	}

	return VerifySegments(genesis, segments), nil
}
