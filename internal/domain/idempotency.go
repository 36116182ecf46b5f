package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// IdempotencyStatus - стадия обработки запроса под Idempotency-Key:
// processing пока обработчик работает, затем done или failed с сохранённым ответом.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	IdempotencyStatusFailed     IdempotencyStatus = "failed"
)

// DefaultIdempotencyTTL применяется, когда срок жизни ключа не передан.
const DefaultIdempotencyTTL = 24 * time.Hour

var idempotencyStatuses = map[IdempotencyStatus]struct{}{
	IdempotencyStatusProcessing: {},
	IdempotencyStatusDone:       {},
	IdempotencyStatusFailed:     {},
}

func (s IdempotencyStatus) Valid() bool {
	_, ok := idempotencyStatuses[s]
	return ok
}

// IdempotencyRecord - ключ вместе с отпечатком запроса и, после завершения,
// кодом и телом ответа для повторной отдачи.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Status      IdempotencyStatus

	HTTPStatus   int
	ResponseBody []byte

	CreatedAt time.Time
	UpdatedAt time.Time
	TTLAt     time.Time
}

// Completed сообщает, что ответ уже сохранён и его можно проиграть.
func (r IdempotencyRecord) Completed() bool {
	if r.Status == IdempotencyStatusProcessing {
		return false
	}
	return r.HTTPStatus != 0
}

// RequestHash возвращает hex(sha256("METHOD:path:body")).
func RequestHash(method, path string, body []byte) string {
	prefix := method + ":" + path + ":"
	buf := make([]byte, 0, len(prefix)+len(body))
	buf = append(buf, prefix...)
	buf = append(buf, body...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
