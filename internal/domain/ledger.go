package domain

import "time"

// AuditRecord — одна запись леджера.
// record_hash = H(prior_hash || canonical_encode(payload)).
// Неизменяема после записи; принадлежит ровно одному сегменту.
type AuditRecord struct {
	SequenceNumber uint64        `json:"sequence_number"`
	PriorHash      string        `json:"prior_hash"`
	RecordHash     string        `json:"record_hash"`
	Payload        MutationEvent `json:"payload"`
	CommittedAt    time.Time     `json:"committed_at"`
}

// SegmentHeader несет хэш последней записи предыдущего сегмента —
// непрерывность цепи через границы сегментов — и маркер ретеншена (WORM).
type SegmentHeader struct {
	PriorSegmentFinalHash string    `json:"prior_segment_final_hash"`
	RetentionUntil        time.Time `json:"retention_until"`
	FirstSequence         uint64    `json:"first_sequence"`
	RecordCount           int       `json:"record_count"`
	CreatedAt             time.Time `json:"created_at"`
}

// LedgerSegment — финализированная write-once пачка записей
type LedgerSegment struct {
	Header  SegmentHeader `json:"header"`
	Records []AuditRecord `json:"records"`
}

// FinalHash возвращает хэш последней записи сегмента (голова на момент коммита)
func (s *LedgerSegment) FinalHash() string {
	if len(s.Records) == 0 {
		return s.Header.PriorSegmentFinalHash
	}
	return s.Records[len(s.Records)-1].RecordHash
}
