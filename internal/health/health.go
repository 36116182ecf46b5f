// Package health отдаёт /healthz, /livez и /readyz.
//
// Обязательная проверка, которая не проходит, делает сервис unhealthy и снимает
// его с балансировки через /readyz. Отказ опциональной проверки только понижает
// общий статус до degraded.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orderdesk/internal/domain"
)

// Status - состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity упорядочивает статусы для сведения общего результата.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check - результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response - тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Checks        map[string]Check `json:"checks,omitempty"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check(ctx context.Context) Check
}

type probe struct {
	name     string
	checker  Checker
	optional bool
}

// Option настраивает Handler.
type Option func(*Handler)

// WithCheckTimeout ограничивает общий прогон проверок.
func WithCheckTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithClock подменяет источник времени для timestamp и uptime.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler собирает проверки и отдаёт их результат по HTTP.
type Handler struct {
	version string
	timeout time.Duration
	now     func() time.Time
	started time.Time

	mu     sync.RWMutex
	probes []probe
}

func NewHandler(version string, opts ...Option) *Handler {
	h := &Handler{
		version: version,
		timeout: 2 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.started = h.now()
	return h
}

// RegisterChecker добавляет обязательную проверку. Повторная регистрация имени заменяет прежнюю.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.add(probe{name: name, checker: checker})
}

// RegisterOptional добавляет проверку, отказ которой даёт degraded, а не unhealthy.
func (h *Handler) RegisterOptional(name string, checker Checker) {
	h.add(probe{name: name, checker: checker, optional: true})
}

func (h *Handler) add(p probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.probes {
		if h.probes[i].name == p.name {
			h.probes[i] = p
			return
		}
	}
	h.probes = append(h.probes, p)
}

// Run запускает проверки параллельно под общим таймаутом.
func (h *Handler) Run(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	probes := append([]probe(nil), h.probes...)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]Check, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.checker.Check(ctx)
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	checks := make(map[string]Check, len(probes))
	for i, p := range probes {
		res := results[i]
		if p.optional && res.Status == StatusUnhealthy {
			res.Status = StatusDegraded
		}
		checks[p.name] = res
		if res.Status.severity() > overall.severity() {
			overall = res.Status
		}
	}
	return overall, checks
}

// failing возвращает имена непройденных обязательных проверок в порядке регистрации.
func (h *Handler) failing(checks map[string]Check) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var names []string
	for _, p := range h.probes {
		if c, ok := checks[p.name]; ok && c.Status == StatusUnhealthy {
			names = append(names, p.name)
		}
	}
	return names
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	overall, checks := h.Run(r.Context())
	now := h.now()

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        overall,
		Timestamp:     now.UTC(),
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
		Checks:        checks,
	})
}

// LivenessHandler отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503 и перечисляет в X-Failed-Checks упавшие обязательные проверки.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	_, checks := h.Run(r.Context())
	if failed := h.failing(checks); len(failed) > 0 {
		w.Header().Set("X-Failed-Checks", strings.Join(failed, ","))
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// CheckFunc превращает функцию в Checker.
type CheckFunc func(ctx context.Context) Check

func (f CheckFunc) Check(ctx context.Context) Check { return f(ctx) }

// NewPingChecker строит проверку из ping-функции: база, Redis, брокер.
func NewPingChecker(name string, ping func(ctx context.Context) error) Checker {
	return CheckFunc(func(ctx context.Context) Check {
		started := time.Now()
		err := ping(ctx)
		res := Check{Name: name, Status: StatusHealthy, DurationMs: time.Since(started).Milliseconds()}
		if err != nil {
			res.Status = StatusUnhealthy
			res.Message = err.Error()
		}
		return res
	})
}

// NewOutboxBacklogChecker сообщает degraded, когда самое старое недоставленное
// событие ждёт дольше maxAge.
func NewOutboxBacklogChecker(repo domain.OutboxRepository, maxAge time.Duration, now func() time.Time) Checker {
	if now == nil {
		now = time.Now
	}
	return CheckFunc(func(ctx context.Context) Check {
		started := time.Now()
		stats, err := repo.Stats(ctx)
		res := Check{Name: "outbox", Status: StatusHealthy, DurationMs: time.Since(started).Milliseconds()}
		switch {
		case err != nil:
			res.Status = StatusUnhealthy
			res.Message = err.Error()
		case stats.PendingCount > 0 && now().Sub(stats.OldestPendingAt) > maxAge:
			res.Status = StatusDegraded
			res.Message = fmt.Sprintf("%d pending events, oldest enqueued at %s",
				stats.PendingCount, stats.OldestPendingAt.UTC().Format(time.RFC3339))
		}
		return res
	})
}
