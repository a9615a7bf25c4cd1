package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "auditseq"
)

// Ключи счетчиков: один HASH на тип (prefix, last_number, created_at, updated_at)
const (
	RedisKeySequencePrefix = RedisNamespace + ":sequence:"
)

// SequenceKey Генератор ключа счетчика для типа последовательности ("AP" -> auditseq:sequence:AP)
func SequenceKey(sequenceType string) string {
	return fmt.Sprintf("%s%s", RedisKeySequencePrefix, sequenceType)
}
