package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const (
	keyPrefix        = "orders:idempotency:"
	defaultTTL       = 24 * time.Hour
	minTTL           = time.Second
	scriptNotFound   = 0
	defaultOpTimeout = 2 * time.Second
)

// markStatusScript обновляет статус и ответ, сохраняя оставшийся TTL ключа.
var markStatusScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return 0
end

local record = cjson.decode(raw)
record['status'] = ARGV[1]
record['response_body'] = ARGV[2]
record['http_status'] = tonumber(ARGV[3])
record['updated_at'] = ARGV[4]

redis.call('SET', KEYS[1], cjson.encode(record), 'KEEPTTL')
return 1
`)

type storedRecord struct {
	Key          string `json:"key"`
	RequestHash  string `json:"request_hash"`
	ResponseBody string `json:"response_body"`
	HTTPStatus   int    `json:"http_status"`
	Status       string `json:"status"`
	TTLAt        string `json:"ttl_at"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// IdempotencyRepository хранит ключи идемпотентности в Redis.
// Срок жизни задаётся TTL ключа, поэтому отдельная очистка не нужна.
type IdempotencyRepository struct {
	client goredis.UniversalClient
}

// NewIdempotencyRepository создаёт Redis-реализацию IdempotencyRepository.
func NewIdempotencyRepository(client goredis.UniversalClient) *IdempotencyRepository {
	return &IdempotencyRepository{client: client}
}

// CreateProcessing атомарно регистрирует ключ через SET NX.
func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	requestHash = strings.TrimSpace(requestHash)

	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := time.Now().UTC()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultTTL)
	}
	ttl := ttlAt.Sub(now)
	if ttl < minTTL {
		ttl = minTTL
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	payload, err := json.Marshal(toStored(record))
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("encode idempotency record: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	ok, err := r.client.SetNX(ctx, keyPrefix+key, payload, ttl).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("create idempotency record: %w", err)
	}
	if !ok {
		existing, getErr := r.Get(ctx, key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}

	return record, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	raw, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
		}
		return domain.IdempotencyRecord{}, fmt.Errorf("get idempotency record: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("decode idempotency record %s: %w", key, err)
	}
	return fromStored(stored)
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.markStatus(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired ничего не делает: Redis удаляет просроченные ключи сам.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

// Ping проверяет доступность Redis (используется readiness-пробой).
func (r *IdempotencyRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *IdempotencyRepository) markStatus(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	res, err := markStatusScript.Run(ctx, r.client, []string{keyPrefix + key},
		string(status),
		string(responseBody),
		httpStatus,
		time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("mark idempotency key status: %w", err)
	}
	if res == scriptNotFound {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func toStored(r domain.IdempotencyRecord) storedRecord {
	return storedRecord{
		Key:          r.Key,
		RequestHash:  r.RequestHash,
		ResponseBody: string(r.ResponseBody),
		HTTPStatus:   r.HTTPStatus,
		Status:       string(r.Status),
		TTLAt:        r.TTLAt.Format(time.RFC3339Nano),
		CreatedAt:    r.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    r.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func fromStored(s storedRecord) (domain.IdempotencyRecord, error) {
	record := domain.IdempotencyRecord{
		Key:         s.Key,
		RequestHash: s.RequestHash,
		HTTPStatus:  s.HTTPStatus,
		Status:      domain.IdempotencyStatus(s.Status),
	}
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("invalid idempotency status %q for key %s", s.Status, s.Key)
	}
	if s.ResponseBody != "" {
		record.ResponseBody = []byte(s.ResponseBody)
	}

	var err error
	if record.TTLAt, err = parseTime(s.TTLAt); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if record.CreatedAt, err = parseTime(s.CreatedAt); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	if record.UpdatedAt, err = parseTime(s.UpdatedAt); err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return record, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse idempotency timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
