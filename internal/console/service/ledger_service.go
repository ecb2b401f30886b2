package service

import (
	"context"

	"github.com/xela07ax/evidence-pipeline-prototype/internal/ledger"
)

// LedgerService запускает проверку цепочки по запросу оператора.
// Верификация читает только сегменты и голову — билдер ей не нужен,
// поэтому консоль может проверять леджер чужого процесса.
type LedgerService struct {
	store   ledger.SegmentStore
	heads   ledger.HeadStore
	genesis string
}

func NewLedgerService(store ledger.SegmentStore, heads ledger.HeadStore, genesis string) *LedgerService {
	if genesis == "" {
		genesis = ledger.GenesisHash
	}
	return &LedgerService{store: store, heads: heads, genesis: genesis}
}

// Verify прогоняет все закрытые сегменты через верификатор
func (s *LedgerService) Verify(ctx context.Context) (ledger.VerifyResult, error) {
	return ledger.VerifyStore(ctx, s.store, s.genesis)
}

// Head возвращает текущую голову цепочки
func (s *LedgerService) Head(ctx context.Context) (ledger.HeadState, error) {
	return s.heads.Load(ctx)
}
