package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MFaiqKhan/sweepjudge/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	maxIdempotentBody    = 1 << 20
)

// storedResponse is what a key replays.
type storedResponse struct {
	Fingerprint string      `json:"fingerprint"`
	Status      int         `json:"status"`
	Header      http.Header `json:"header"`
	Body        []byte      `json:"body"`
}

func (s *storedResponse) writeTo(w http.ResponseWriter, replayed bool) {
	for k, vals := range s.Header {
		w.Header()[k] = append([]string(nil), vals...)
	}
	if replayed {
		w.Header().Set(headerReplayed, "true")
	}
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

// Idempotency makes mutating requests that carry an Idempotency-Key run
// at most once per key, method and path for ttl:
//
//   - a repeat with the same body replays the stored response;
//   - a repeat with a different body is refused with 422;
//   - concurrent duplicates wait for the first and share its response;
//   - 5xx responses are not stored, so the client may retry.
//
// Store failures degrade to running the handler.
func Idempotency(store cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	var inflight singleflight.Group

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idem := r.Header.Get(headerIdempotencyKey)
			if idem == "" || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody+1))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "unreadable request body")
				return
			}
			if len(body) > maxIdempotentBody {
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(body)
			fp := hex.EncodeToString(sum[:])
			key := "idem:" + r.Method + " " + r.URL.Path + ":" + idem

			if prev, ok := lookup(r, store, key); ok {
				if prev.Fingerprint != fp {
					writeJSONError(w, http.StatusUnprocessableEntity, "idempotency key reused with a different request")
					return
				}
				prev.writeTo(w, true)
				return
			}

			leader := false
			v, _, _ := inflight.Do(key+":"+fp, func() (any, error) {
				leader = true
				buf := &bufferedResponse{header: make(http.Header), status: http.StatusOK}
				next.ServeHTTP(buf, r)
				resp := &storedResponse{Fingerprint: fp, Status: buf.status, Header: buf.header, Body: buf.body.Bytes()}
				if resp.Status < http.StatusInternalServerError && len(resp.Body) <= maxIdempotentBody {
					save(r, store, key, resp, ttl)
				}
				return resp, nil
			})
			v.(*storedResponse).writeTo(w, !leader)
		})
	}
}

func lookup(r *http.Request, store cache.Cache, key string) (*storedResponse, bool) {
	data, ok, err := store.Get(r.Context(), key)
	if err != nil {
		slog.WarnContext(r.Context(), "idempotency lookup failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var resp storedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.WarnContext(r.Context(), "idempotency entry unreadable, running request", "error", err)
		return nil, false
	}
	return &resp, true
}

func save(r *http.Request, store cache.Cache, key string, resp *storedResponse, ttl time.Duration) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := store.Set(r.Context(), key, data, ttl); err != nil {
		slog.WarnContext(r.Context(), "idempotency store failed", "error", err)
	}
}

// bufferedResponse collects a handler's response so it can be stored and
// written to every waiting duplicate.
type bufferedResponse struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.status = code
	b.wroteHeader = true
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}
