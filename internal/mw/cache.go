package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// snapshot is a finished response kept for replay.
type snapshot struct {
	code   int
	header http.Header
	body   []byte
}

// recorder tees the body into a buffer while it is written to the client.
type recorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

func replay(c *gin.Context, snap snapshot) {
	h := c.Writer.Header()
	for k, v := range snap.header {
		h[k] = v
	}
	h.Set("X-Cache", "HIT")
	c.Writer.WriteHeader(snap.code)
	_, _ = c.Writer.Write(snap.body)
}

// Cache serves repeated GET requests from memory for ttl. Only 2xx responses are kept.
func Cache(store *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.URL.RequestURI()
		if v, ok := store.Get(key); ok {
			replay(c, v.(snapshot))
			c.Abort()
			return
		}

		rec := &recorder{ResponseWriter: c.Writer}
		c.Writer = rec
		rec.Header().Set("X-Cache", "MISS")
		c.Next()

		code := rec.Status()
		if code < 200 || code >= 300 {
			return
		}
		header := rec.Header().Clone()
		header.Del("X-Cache")
		store.Set(key, snapshot{code: code, header: header, body: bytes.Clone(rec.buf.Bytes())}, ttl)
	}
}
