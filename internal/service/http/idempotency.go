package httpsvc

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// withIdempotency оборачивает обработчик: первый запрос с ключом выполняется и его ответ
// сохраняется, повтор с тем же телом получает сохранённый ответ.
func (h *Handler) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		if h.idem == nil || key == "" {
			next(w, r)
			return
		}

		body, ok := h.readBody(w, r)
		if !ok {
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		logger := h.logger.WithFields(log.Fields{
			"idempotency_key": key,
			"request_id":      middleware.GetReqID(r.Context()),
		})

		hash := requestHash(r.Method, r.URL.Path, body)
		record, err := h.idem.CreateProcessing(r.Context(), key, hash, time.Now().UTC().Add(h.idempotencyTTL))
		if err != nil {
			h.replayIdempotent(w, logger, err, record)
			return
		}

		var captured bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&captured)

		// Паника в обработчике не должна оставить ключ в processing до истечения TTL.
		defer func() {
			if rec := recover(); rec != nil {
				body, _ := json.Marshal(errorResponse{Error: "internal server error"})
				h.storeIdempotent(r.Context(), logger, h.idem.MarkFailed, key, body, http.StatusInternalServerError)
				panic(rec)
			}
		}()

		next(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		store := h.idem.MarkDone
		if status >= http.StatusBadRequest {
			store = h.idem.MarkFailed
		}
		h.storeIdempotent(r.Context(), logger, store, key, captured.Bytes(), status)
	}
}

// storeIdempotent сохраняет ответ независимо от отмены запроса: клиент, оборвавший
// соединение, повторит запрос и должен получить сохранённый ответ.
func (h *Handler) storeIdempotent(
	ctx context.Context,
	logger *log.Entry,
	store func(context.Context, string, []byte, int) error,
	key string,
	body []byte,
	status int,
) {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyStoreTimeout)
	defer cancel()

	if err := store(storeCtx, key, body, status); err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}
}

func (h *Handler) replayIdempotent(w http.ResponseWriter, logger *log.Entry, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeError(w, http.StatusUnprocessableEntity, "idempotency key is already used with a different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if record.HTTPStatus == 0 {
				writeError(w, http.StatusInternalServerError, "idempotency cache is empty")
				return
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set(idempotencyReplayed, "true")
			w.WriteHeader(record.HTTPStatus)
			_, _ = w.Write(record.ResponseBody)
		case domain.IdempotencyStatusProcessing:
			writeError(w, http.StatusConflict, "request with the same idempotency key is already processing")
		default:
			writeError(w, http.StatusInternalServerError, "unknown idempotency record status")
		}
	default:
		logger.WithError(createErr).Warn("failed to create idempotency record")
		writeError(w, http.StatusInternalServerError, "failed to initialize idempotent request")
	}
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write([]byte(path))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
