package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Status — состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse возвращает более тяжёлый из двух статусов.
func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Check — результат проверки одной зависимости.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет одну зависимость маркетплейса (PostgreSQL, Redis).
type Checker interface {
	Check(ctx context.Context) Check
}

// Handler обслуживает /healthz и /readyz. Все проверки идут параллельно
// под общим таймаутом.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
	timeout  time.Duration
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers: map[string]Checker{},
		version:  version,
		started:  time.Now(),
		timeout:  defaultCheckTimeout,
	}
}

// RegisterChecker добавляет проверку; повторное имя заменяет прежнюю.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

// Names возвращает имена проверок по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (h *Handler) snapshot() map[string]Checker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]Checker, len(h.checkers))
	for name, c := range h.checkers {
		out[name] = c
	}
	return out
}

// Run выполняет проверки. Общий статус равен худшему из статусов компонентов.
func (h *Handler) Run(ctx context.Context) Response {
	checkers := h.snapshot()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make(chan Check, len(checkers))
	var wg sync.WaitGroup
	for name, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			check := c.Check(ctx)
			check.Name = name
			results <- check
		}()
	}
	wg.Wait()
	close(results)

	resp := Response{
		Status:        StatusHealthy,
		Timestamp:     time.Now().UTC(),
		Checks:        make(map[string]Check, len(checkers)),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	for check := range results {
		resp.Checks[check.Name] = check
		resp.Status = worse(resp.Status, check.Status)
	}
	return resp
}

// ServeHTTP отдаёт подробный отчёт; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Run(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(resp.Status))
	_ = json.NewEncoder(w).Encode(resp)
}

// ReadinessHandler отвечает текстом ready/not ready. degraded готовности не мешает.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	code := httpStatus(h.Run(r.Context()).Status)
	body := "ready"
	if code != http.StatusOK {
		body = "not ready"
	}
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// LivenessHandler всегда отвечает 200: процесс жив, раз обрабатывает запрос.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func httpStatus(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// SimpleChecker оборачивает функцию проверки, например Store.Ping.
type SimpleChecker struct {
	name    string
	onError Status
	checkFn func(ctx context.Context) error
}

// NewSimpleChecker — обязательная зависимость: ошибка делает сервис unhealthy.
func NewSimpleChecker(name string, checkFn func(ctx context.Context) error) *SimpleChecker {
	return &SimpleChecker{name: name, onError: StatusUnhealthy, checkFn: checkFn}
}

// NewOptionalChecker — зависимость, без которой сервис работает в режиме degraded.
func NewOptionalChecker(name string, checkFn func(ctx context.Context) error) *SimpleChecker {
	return &SimpleChecker{name: name, onError: StatusDegraded, checkFn: checkFn}
}

func (c *SimpleChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.checkFn(ctx)
	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Status = c.onError
		check.Message = err.Error()
	}
	return check
}
