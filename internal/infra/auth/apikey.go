package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DigestAPIKey считает sha256-дайджест credential сервисного аккаунта.
// По дайджесту ключ ищется в БД, поэтому соленый хэш здесь не подходит:
// bcrypt остается для паролей операторов, где поиск идет по username.
func DigestAPIKey(raw string) string {
	raw = strings.TrimPrefix(raw, "Bearer ")
	raw = strings.TrimSpace(raw)

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
