package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	mem "subyield/pkg/memcache"
	"subyield/pkg/utils"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware replays the first response of a mutating request carrying an
// Idempotency-Key. Keys are scoped to the caller and route. Server errors are not kept.
func IdempotencyMiddleware(store mem.IdempotencyStore, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(IdempotencyKeyHeader)
		if header == "" || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		if len(header) > 128 {
			utils.RespondError(c, http.StatusBadRequest, "Idempotency-Key too long")
			c.Abort()
			return
		}

		key := CallerAddress(c) + "|" + c.Request.Method + " " + c.Request.URL.Path + "|" + header
		cached, inFlight := store.Begin(key, ttl)
		switch {
		case inFlight:
			utils.RespondError(c, http.StatusConflict, "A request with this Idempotency-Key is in progress")
			c.Abort()
			return
		case cached != nil:
			c.Header("Idempotent-Replayed", "true")
			c.Data(cached.Status, cached.ContentType, cached.Body)
			c.Abort()
			return
		}

		finished := false
		defer func() {
			if !finished {
				store.Abort(key)
			}
		}()

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Next()

		if rec.Status() < http.StatusInternalServerError {
			store.Finish(key, mem.CachedResponse{
				Status:      rec.Status(),
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}, ttl)
			finished = true
		}
	}
}
