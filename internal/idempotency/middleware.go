package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

const maxKeyLength = 255

// InFlightTTL is how long a claim survives without a stored response. It
// bounds the lockout left behind by a process that dies mid-request.
const InFlightTTL = 30 * time.Second

// Middleware replays responses of repeated keyed requests. It must run after
// authentication: keys are scoped to the principal, the method and the path.
// Server errors and panics are not remembered so the client may retry them.
// Reusing a key with a different body is rejected with 422.
func Middleware(store Store, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(Header)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxKeyLength {
			reject(c, http.StatusBadRequest, "idempotency key is too long")
			return
		}

		ctx := c.Request.Context()
		lg := zctx.From(ctx)
		p, _ := auth.FromContext(ctx)
		scoped := p.ID + ":" + c.Request.Method + ":" + c.FullPath() + ":" + key

		fingerprint, err := fingerprintBody(c.Request)
		if err != nil {
			reject(c, http.StatusBadRequest, "could not read request body")
			return
		}

		rec, started, err := store.Begin(ctx, scoped, min(InFlightTTL, ttl))
		if err != nil {
			lg.Warn("Idempotency store unavailable, executing request", zap.Error(err))
			c.Next()
			return
		}
		if !started {
			switch {
			case !rec.Done:
				reject(c, http.StatusConflict, "a request with this idempotency key is in progress")
			case rec.Fingerprint != fingerprint:
				reject(c, http.StatusUnprocessableEntity, "idempotency key was already used with a different request")
			default:
				c.Header("Idempotent-Replayed", "true")
				c.Data(rec.Status, rec.ContentType, rec.Body)
				c.Abort()
			}
			return
		}

		// The request may have been cancelled; the outcome still has to land.
		bg := context.WithoutCancel(ctx)
		stored := false
		defer func() {
			if stored {
				return
			}
			r := recover()
			if err := store.Abort(bg, scoped); err != nil {
				lg.Warn("Failed to release idempotency key", zap.Error(err))
			}
			if r != nil {
				panic(r)
			}
		}()

		w := &recorder{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError {
			return
		}
		err = store.Complete(bg, scoped, Record{
			Status:      status,
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
			Fingerprint: fingerprint,
		}, ttl)
		if err != nil {
			lg.Warn("Failed to store idempotent response", zap.Error(err))
			return
		}
		stored = true
	}
}

// fingerprintBody hashes the request body and puts it back for the handler.
func fingerprintBody(req *http.Request) (string, error) {
	h := sha256.New()
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return "", err
		}
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
		h.Write(body)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func reject(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

type recorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}
