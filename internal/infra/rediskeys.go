package infra

// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
const RedisNamespace = "evw"

// Ключи потоков и состояния
const (
	// RedisKeyMutationStream — Redis Stream с событиями мутаций записей отчетов.
	// Порядок гарантируется внутри одного report_id (писатель один на исполнение).
	RedisKeyMutationStream = RedisNamespace + ":reports:mutations"

	// RedisKeyLedgerGroup — consumer group билдеров леджера
	RedisKeyLedgerGroup = RedisNamespace + ":ledger:builders"

	// RedisKeyDedupPrefix — префикс TTL-ключей индекса дедупликации
	RedisKeyDedupPrefix = RedisNamespace + ":ledger:dedup:"

	// RedisKeyLedgerJournal — журнал предзаписи хвоста цепочки,
	// еще не закоммиченного в сегмент
	RedisKeyLedgerJournal = RedisNamespace + ":ledger:journal"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanExecutionAbort — канал трансляции команд оператора "прервать исполнение"
	RedisChanExecutionAbort = RedisNamespace + ":pipeline:abort-signal"
)

// GetDedupKey собирает полный ключ дедупликации по натуральному ключу события
func GetDedupKey(natural string) string {
	return RedisKeyDedupPrefix + natural
}
