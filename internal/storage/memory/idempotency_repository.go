package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

// idempotencyKeys хранит ключи идемпотентности в памяти процесса.
// Просроченный ключ ведёт себя как отсутствующий ещё до того, как его удалит cleanup.
type idempotencyKeys struct {
	mu   sync.Mutex
	byID map[string]*domain.IdempotencyRecord
	now  func() time.Time
}

// NewIdempotencyRepository создаёт in-memory IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyKeys{
		byID: make(map[string]*domain.IdempotencyRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func normalizeKey(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

func snapshot(rec *domain.IdempotencyRecord) domain.IdempotencyRecord {
	out := *rec
	out.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return out
}

func (s *idempotencyKeys) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if requestHash = strings.TrimSpace(requestHash); requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if held, ok := s.byID[key]; ok && held.TTLAt.After(now) {
		if held.RequestHash == requestHash {
			return snapshot(held), domain.ErrIdempotencyKeyAlreadyExists
		}
		return snapshot(held), domain.ErrIdempotencyHashMismatch
	}

	if ttlAt.IsZero() {
		ttlAt = now.Add(domain.DefaultIdempotencyTTL)
	}
	rec := &domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.byID[key] = rec
	return snapshot(rec), nil
}

func (s *idempotencyKeys) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return snapshot(rec), nil
}

func (s *idempotencyKeys) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return s.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (s *idempotencyKeys) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return s.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

func (s *idempotencyKeys) finish(ctx context.Context, key string, status domain.IdempotencyStatus, body []byte, httpStatus int) error {
	key, err := normalizeKey(ctx, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	rec.Status = status
	rec.HTTPStatus = httpStatus
	rec.ResponseBody = append([]byte(nil), body...)
	rec.UpdatedAt = s.now()
	return nil
}

// DeleteExpired удаляет ключи с TTL не позже before, начиная с самых старых.
func (s *idempotencyKeys) DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if before.IsZero() {
		before = s.now()
	}
	var expired []*domain.IdempotencyRecord
	for _, rec := range s.byID {
		if !rec.TTLAt.After(before) {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, rec := range expired {
		delete(s.byID, rec.Key)
	}
	return len(expired), nil
}

var _ domain.IdempotencyRepository = (*idempotencyKeys)(nil)
