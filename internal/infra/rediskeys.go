package infra

import "fmt"

const (
	// RedisNamespace — базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "sandarb"
)

// Ключи для Sets (состояние)
const (
	RedisKeyApprovedAgents     = RedisNamespace + ":agents:approved_set"
	RedisKeyLockWarmupApproved = RedisNamespace + ":lock:warmup:approved"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanApprovalSignal транслирует решения оператора по регистрациям.
	// Формат payload: "agentID:STATUS"
	RedisChanApprovalSignal = RedisNamespace + ":agents:approval-signal"
)

// GetWarmupLockKey — генератор ключей для блокировок warmup-а
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
