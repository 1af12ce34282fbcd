package mw

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
)

// HeaderCacheStatus reports whether a response was served from the cache.
const HeaderCacheStatus = "X-Cache"

type cachedResponse struct {
	status  int
	headers http.Header
	body    []byte
}

type bodyCacheWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyCacheWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w bodyCacheWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Cache is a middleware for in-memory caching of GET requests. Entries
// are keyed by request URI; callers that change the underlying data
// should Flush the store. A request sent with Cache-Control: no-cache
// skips the lookup but still refreshes the entry.
func Cache(store *cache.Cache, duration time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		key := c.Request.RequestURI
		revalidate := strings.Contains(c.GetHeader("Cache-Control"), "no-cache")
		if resp, found := store.Get(key); found && !revalidate {
			cached := resp.(cachedResponse)
			for k, v := range cached.headers {
				c.Writer.Header()[k] = v
			}
			c.Writer.Header().Set(HeaderCacheStatus, "HIT")
			c.Writer.WriteHeader(cached.status)
			c.Writer.Write(cached.body)
			c.Abort()
			return
		}

		blw := &bodyCacheWriter{body: bytes.NewBuffer(nil), ResponseWriter: c.Writer}
		c.Writer = blw
		blw.Header().Set(HeaderCacheStatus, "MISS")

		c.Next()

		if blw.Status() < 200 || blw.Status() >= 300 {
			return
		}
		headers := blw.Header().Clone()
		headers.Del(HeaderCacheStatus)
		store.Set(key, cachedResponse{
			status:  blw.Status(),
			headers: headers,
			body:    blw.body.Bytes(),
		}, duration)
	}
}
