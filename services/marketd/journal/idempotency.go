package journal

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const IdempotencyHeader = "Idempotency-Key"

type contextKey string

const contextKeyIdempotency contextKey = "idempotency-key"

// PrincipalFunc resolves the caller so keys are scoped per principal.
type PrincipalFunc func(*http.Request) string

// IdempotencyKeyFromContext returns the key attached by WithIdempotency.
func IdempotencyKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(contextKeyIdempotency).(string)
	return key
}

// pendingTimeout bounds how long a claimed key may stay unfinished before
// another request can take it over, e.g. after a crash mid-request.
const pendingTimeout = time.Minute

// WithIdempotency replays the stored response for a repeated key instead of
// executing the handler twice. The key is claimed before the handler runs, so
// a duplicate arriving while the first request is in flight gets 409. Server
// errors release the key so clients may retry them.
func (j *Journal) WithIdempotency(principal PrincipalFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if key == "" || len(key) > 128 {
				next.ServeHTTP(w, r)
				return
			}
			owner := ""
			if principal != nil {
				owner = principal(r)
			}

			claim, existing, err := j.claimKey(r.Context(), key, owner, r.Method, r.URL.Path)
			if err != nil {
				j.logger.Error("claim idempotency key", "error", err)
				http.Error(w, "idempotency lookup failed", http.StatusInternalServerError)
				return
			}
			if claim == nil {
				replay(w, r, existing)
				return
			}

			recorder := &responseRecorder{ResponseWriter: w}
			finished := false
			defer func() {
				if !finished {
					j.releaseKey(claim)
				}
			}()
			ctx := context.WithValue(r.Context(), contextKeyIdempotency, key)
			next.ServeHTTP(recorder, r.WithContext(ctx))

			status := recorder.status
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}
			finished = true
			err = j.db.Model(&IdempotencyKey{}).
				Where("key = ? AND principal = ? AND request_id = ?", claim.Key, claim.Principal, claim.RequestID).
				Updates(map[string]any{"status": status, "response": recorder.buf.String()}).Error
			if err != nil {
				j.logger.Warn("store idempotency key", "error", err)
			}
		})
	}
}

// claimKey reserves (key, owner) for the caller. It returns the claimed row,
// or nil and the row already holding the key.
func (j *Journal) claimKey(ctx context.Context, key, owner, method, path string) (*IdempotencyKey, *IdempotencyKey, error) {
	now := j.now().UTC()
	row := &IdempotencyKey{
		Key:       key,
		Principal: owner,
		RequestID: uuid.NewString(),
		Method:    method,
		Path:      path,
		CreatedAt: now,
	}
	db := j.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return nil, nil, res.Error
	}
	if res.RowsAffected == 1 {
		return row, nil, nil
	}
	res = db.Model(&IdempotencyKey{}).
		Where("key = ? AND principal = ? AND status = 0 AND created_at < ?", key, owner, now.Add(-pendingTimeout)).
		Updates(map[string]any{"request_id": row.RequestID, "method": method, "path": path, "created_at": now})
	if res.Error != nil {
		return nil, nil, res.Error
	}
	if res.RowsAffected == 1 {
		return row, nil, nil
	}
	var existing IdempotencyKey
	if err := db.First(&existing, "key = ? AND principal = ?", key, owner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Released between the insert and the lookup.
			return j.claimKey(ctx, key, owner, method, path)
		}
		return nil, nil, err
	}
	return nil, &existing, nil
}

func (j *Journal) releaseKey(claim *IdempotencyKey) {
	err := j.db.Where("key = ? AND principal = ? AND request_id = ?", claim.Key, claim.Principal, claim.RequestID).
		Delete(&IdempotencyKey{}).Error
	if err != nil {
		j.logger.Warn("release idempotency key", "error", err)
	}
}

func replay(w http.ResponseWriter, r *http.Request, record *IdempotencyKey) {
	if record.Method != r.Method || record.Path != r.URL.Path {
		http.Error(w, "idempotency key reused for a different request", http.StatusUnprocessableEntity)
		return
	}
	if record.Status == 0 {
		http.Error(w, "idempotency key in use by an in-flight request", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replay", "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write([]byte(record.Response))
}

// responseRecorder captures the response for idempotent operations.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rr *responseRecorder) WriteHeader(status int) {
	rr.status = status
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	rr.buf.Write(b)
	return rr.ResponseWriter.Write(b)
}
