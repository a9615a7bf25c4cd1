package audit

import "errors"

// Ошибки пайплайна аудита. Наружу (в бизнес-код) они не уходят никогда:
// Record/RecordSync их только логируют. Возвращает их лишь Shutdown.
var (
	// ErrStorageUnavailable — временный отказ Sink; ведет к ретраю и постановке в очередь
	ErrStorageUnavailable = errors.New("audit: storage unavailable")

	// ErrShutdownTimeout — за grace period не удалось сбросить очередь, остаток отброшен
	ErrShutdownTimeout = errors.New("audit: shutdown grace period exceeded")

	// ErrClientClosed — запись пришла после Shutdown
	ErrClientClosed = errors.New("audit: client is closed")
)
