package httpapi

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/petmarket/internal/service/idempotency"
)

const (
	// HeaderIdempotencyKey — необязательный ключ повтора для мутирующих запросов.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay выставляется на ответах, отданных из кэша.
	HeaderIdempotentReplay = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 128
	maxBodyBytes         = 1 << 20
)

// captureWriter дублирует тело ответа в буфер, чтобы сохранить его под ключом.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

// idempotent оборачивает обработчик: повтор запроса с тем же Idempotency-Key
// получает сохранённый ответ вместо повторного выполнения.
// Без заголовка или без guard запрос проходит как обычно.
func idempotent(guard *idempotency.Guard, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
			if guard == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				writeMessage(w, http.StatusBadRequest, "Invalid Idempotency-Key")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				writeMessage(w, http.StatusBadRequest, msgInvalidJSON)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var principal string
			if p, ok := PrincipalFromContext(r.Context()); ok {
				principal = p.ID
			}
			hash := idempotency.RequestHash(r.Method, r.URL.Path, principal, body)

			decision, err := guard.Begin(r.Context(), key, hash)
			if err != nil {
				writeError(w, r, logger, err)
				return
			}

			switch decision.Outcome {
			case idempotency.OutcomeReplay:
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(HeaderIdempotentReplay, "true")
				w.WriteHeader(decision.Record.HTTPStatus)
				_, _ = w.Write(decision.Record.ResponseBody)
				return
			case idempotency.OutcomeInProgress:
				writeMessage(w, http.StatusConflict, "Request with this Idempotency-Key is still in progress")
				return
			case idempotency.OutcomeMismatch:
				writeMessage(w, http.StatusUnprocessableEntity, "Idempotency-Key was used with a different request")
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r)

			status := cw.status
			if status == 0 {
				status = http.StatusOK
			}
			// клиент мог отключиться, а ответ всё равно нужно сохранить
			guard.Complete(context.WithoutCancel(r.Context()), key, status, cw.body.Bytes())
		})
	}
}
