package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/domain"
	"go.uber.org/zap"
)

type BuilderConfig struct {
	Genesis           string        // Пусто — нулевой хэш
	SegmentMaxRecords int           // Финализация по количеству
	SegmentMaxAge     time.Duration // Финализация по времени
	RetentionPeriod   time.Duration // WORM-ретеншен сегмента
}

// Builder превращает неупорядоченный между ключами, возможно дублированный
// поток событий в одну строго упорядоченную, защищенную от подмены цепочку.
//
// Дисциплина конкурентности: голова продвигается только через CAS в HeadStore.
// Внутри процесса билдер сериализует запись мьютексом (single-writer);
// при горизонтальном масштабировании CAS гарантирует, что никакие две записи
// не сошлются на один prior_hash с разным содержимым.
//
// Дисциплина долговечности: каждая зачейненная запись попадает в журнал
// предзаписи до выхода из Append. Несброшенный хвост сегмента реплеится
// из журнала при рестарте, а не теряется вместе с буфером.
type Builder struct {
	cfg     BuilderConfig
	heads   HeadStore
	store   SegmentStore
	dedup   DedupIndex
	wal     RecordLog
	logger  *zap.Logger
	metrics *Metrics
	clock   func() time.Time

	mu       sync.Mutex
	head     HeadState
	loaded   bool
	segPrior string
	buf      []domain.AuditRecord

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewBuilder(cfg BuilderConfig, heads HeadStore, store SegmentStore, dedup DedupIndex, wal RecordLog, logger *zap.Logger, metrics *Metrics) *Builder {
	if cfg.Genesis == "" {
		cfg.Genesis = GenesisHash
	}
	if cfg.SegmentMaxRecords <= 0 {
		cfg.SegmentMaxRecords = 100
	}
	if cfg.SegmentMaxAge <= 0 {
		cfg.SegmentMaxAge = 30 * time.Second
	}
	if wal == nil {
		// Журнал в памяти рестарт не переживает — только для тестов
		wal = NewMemoryRecordLog()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	b := &Builder{
		cfg:     cfg,
		heads:   heads,
		store:   store,
		dedup:   dedup,
		wal:     wal,
		logger:  logger.With(zap.String("mod", "ledger-builder")),
		metrics: metrics,
		clock:   time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	return b
}

// WithClock подменяет часы для тестов
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Append обрабатывает одно событие мутации: каноническая сериализация,
// CAS-продвижение головы, журналирование, запись в буфер текущего сегмента.
// Дубликат — не ошибка: молчаливый no-op, длина и голова цепочки не меняются.
func (b *Builder) Append(ctx context.Context, ev domain.MutationEvent) error {
	key := ev.DedupKey()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.ensureLoadedLocked(ctx); err != nil {
		return err
	}

	// Только проверка, без отметки: отметить можно лишь то, что уже в цепи.
	// Иначе упавший Append навсегда глотает событие при повторной доставке.
	already, err := b.dedup.Seen(ctx, key)
	if err != nil {
		return err
	}
	if already {
		b.metrics.DedupDropsTotal.Inc()
		b.logger.Debug("duplicate event discarded",
			zap.String("report_id", ev.ReportID),
			zap.Uint64("version", ev.Version),
		)
		return nil
	}

	canonical, err := CanonicalEncode(ev)
	if err != nil {
		return err
	}

	// Спекулятивный расчет + CAS. Конфликт — штатная ситуация (WriteConflict):
	// перечитываем голову и повторяем, наружу он не отдается.
	for {
		observed := b.head
		nextHash, err := ChainHash(observed.Hash, canonical)
		if err != nil {
			return err
		}
		next := HeadState{Hash: nextHash, Sequence: observed.Sequence + 1}

		if err := b.heads.CompareAndSwap(ctx, observed, next); err != nil {
			if errors.Is(err, domain.ErrHeadConflict) {
				b.metrics.HeadConflictsTotal.Inc()
				fresh, lerr := b.heads.Load(ctx)
				if lerr != nil {
					return lerr
				}
				b.head = b.normalizeHead(fresh)
				continue
			}
			return err
		}

		rec := domain.AuditRecord{
			SequenceNumber: next.Sequence,
			PriorHash:      observed.Hash,
			RecordHash:     next.Hash,
			Payload:        ev,
			CommittedAt:    b.clock().UTC(),
		}
		b.buf = append(b.buf, rec)
		b.head = next

		if err := b.wal.Append(ctx, rec); err != nil {
			// Голова уже продвинута, запись осталась в буфере: до ближайшего
			// коммита сегмента ее переживет штатный Flush, но не падение
			b.logger.Error("record journal append failed",
				zap.Uint64("sequence", rec.SequenceNumber), zap.Error(err))
		}
		break
	}

	// Отметка после фиксации в цепи. Потерянная отметка грозит максимум
	// повторной записью того же события, потерянное событие — дырой в цепи.
	if _, err := b.dedup.MarkSeen(ctx, key); err != nil {
		b.logger.Warn("dedup mark failed after append",
			zap.String("report_id", ev.ReportID),
			zap.Uint64("version", ev.Version),
			zap.Error(err),
		)
	}

	b.metrics.AppendsTotal.Inc()
	b.metrics.BufferFill.Set(float64(len(b.buf)))

	if len(b.buf) >= b.cfg.SegmentMaxRecords {
		return b.finalizeLocked(ctx)
	}
	return nil
}

// Head возвращает текущую голову цепочки
func (b *Builder) Head(ctx context.Context) (HeadState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLoadedLocked(ctx); err != nil {
		return HeadState{}, err
	}
	return b.head, nil
}

// Flush принудительно финализирует недобранный сегмент (для shutdown и тестов)
func (b *Builder) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureLoadedLocked(ctx); err != nil {
		return err
	}
	return b.finalizeLocked(ctx)
}

// Start запускает фоновую финализацию по времени
func (b *Builder) Start() {
	go b.worker()
}

// Stop останавливает воркер и дописывает остатки буфера (Drain Pattern)
func (b *Builder) Stop() {
	close(b.stopCh)
	<-b.doneCh

	// Основной контекст может быть уже закрыт — финальный сброс на Background
	if err := b.Flush(context.Background()); err != nil {
		b.logger.Error("final segment flush failed", zap.Error(err))
		return
	}
	b.logger.Info("ledger builder stopped gracefully")
}

func (b *Builder) worker() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.cfg.SegmentMaxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(context.Background()); err != nil {
				// Буфер не потерян: повторим на следующем тике
				b.logger.Error("segment flush failed", zap.Error(err))
			}
		case <-b.stopCh:
			return
		}
	}
}

// normalizeHead приводит голову к контракту HeadStore: пустой хэш
// у нетронутого леджера означает генезис
func (b *Builder) normalizeHead(head HeadState) HeadState {
	if head.Hash == "" {
		head.Hash = b.cfg.Genesis
	}
	return head
}

func (b *Builder) ensureLoadedLocked(ctx context.Context) error {
	if b.loaded {
		return nil
	}
	head, err := b.heads.Load(ctx)
	if err != nil {
		return err
	}
	head = b.normalizeHead(head)

	tail, err := b.recoverTailLocked(ctx)
	if err != nil {
		return err
	}

	b.head = head
	b.buf = tail
	if len(tail) > 0 {
		b.segPrior = tail[0].PriorHash
		if last := tail[len(tail)-1]; last.RecordHash != head.Hash {
			// Падение между CAS и журналированием: хвост журнала отстал от головы
			b.logger.Warn("journal tail does not match ledger head",
				zap.Uint64("journal_sequence", last.SequenceNumber),
				zap.Uint64("head_sequence", head.Sequence),
			)
		}
	} else {
		b.segPrior = head.Hash
	}
	b.loaded = true
	return nil
}

// recoverTailLocked реплеит журнал предзаписи и отбрасывает записи,
// уже попавшие в закоммиченные сегменты (недорезанный журнал — не ошибка)
func (b *Builder) recoverTailLocked(ctx context.Context) ([]domain.AuditRecord, error) {
	tail, err := b.wal.Replay(ctx)
	if err != nil {
		return nil, err
	}
	if len(tail) == 0 {
		return nil, nil
	}

	committed, err := b.lastCommittedSeq(ctx)
	if err != nil {
		return nil, err
	}

	drop := 0
	for drop < len(tail) && tail[drop].SequenceNumber <= committed {
		drop++
	}
	if drop > 0 {
		if err := b.wal.Truncate(ctx, drop); err != nil {
			return nil, err
		}
		tail = tail[drop:]
	}
	if len(tail) > 0 {
		b.logger.Info("recovered uncommitted chain tail from journal",
			zap.Int("records", len(tail)),
			zap.Uint64("first_sequence", tail[0].SequenceNumber),
		)
	}
	return tail, nil
}

func (b *Builder) lastCommittedSeq(ctx context.Context) (uint64, error) {
	names, err := b.store.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, nil
	}
	seg, err := b.store.Load(ctx, names[len(names)-1])
	if err != nil {
		return 0, err
	}
	return seg.Header.FirstSequence + uint64(seg.Header.RecordCount) - 1, nil
}

func (b *Builder) finalizeLocked(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}

	now := b.clock().UTC()
	records := make([]domain.AuditRecord, len(b.buf))
	copy(records, b.buf)

	seg := &domain.LedgerSegment{
		Header: domain.SegmentHeader{
			PriorSegmentFinalHash: b.segPrior,
			RetentionUntil:        now.Add(b.cfg.RetentionPeriod),
			FirstSequence:         records[0].SequenceNumber,
			RecordCount:           len(records),
			CreatedAt:             now,
		},
		Records: records,
	}

	if err := b.store.Commit(ctx, seg); err != nil {
		b.metrics.SegmentCommitFailures.Inc()
		return err
	}

	if err := b.wal.Truncate(ctx, len(records)); err != nil {
		// Журнал подрежется при следующем старте: реплей сам отбрасывает
		// записи, уже попавшие в сегменты
		b.logger.Warn("record journal truncate failed", zap.Error(err))
	}

	b.segPrior = seg.FinalHash()
	b.buf = b.buf[:0]
	b.metrics.SegmentsCommitted.Inc()
	b.metrics.BufferFill.Set(0)

	b.logger.Info("segment committed",
		zap.Uint64("first_sequence", seg.Header.FirstSequence),
		zap.Int("records", seg.Header.RecordCount),
		zap.Time("retention_until", seg.Header.RetentionUntil),
	)
	return nil
}
