package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"
)

// CompressionConfig holds configuration for the compression middleware
type CompressionConfig struct {
	// MinSize is the smallest body worth compressing.
	MinSize int
	// Types lists the compressible media types.
	Types []string
}

// DefaultCompressionConfig compresses API JSON of 1KB or more. Media
// bodies are already compressed and pass through untouched.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize: 1024,
		Types:   []string{"application/json", "text/plain"},
	}
}

var gzipPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return w
	},
}

// gzipWriter buffers the start of a response until it can decide whether
// compression applies.
type gzipWriter struct {
	http.ResponseWriter
	config   CompressionConfig
	buf      []byte
	status   int
	decided  bool
	compress bool
	gz       *gzip.Writer
}

func newGzipWriter(w http.ResponseWriter, config CompressionConfig) *gzipWriter {
	return &gzipWriter{ResponseWriter: w, config: config, status: http.StatusOK}
}

func (g *gzipWriter) WriteHeader(code int) {
	if !g.decided {
		g.status = code
	}
}

func (g *gzipWriter) Write(p []byte) (int, error) {
	if g.decided {
		if g.compress {
			return g.gz.Write(p)
		}
		return g.ResponseWriter.Write(p)
	}
	// Non-compressible types skip buffering entirely.
	if !g.compressibleType() {
		g.decide(false)
		return g.ResponseWriter.Write(p)
	}
	g.buf = append(g.buf, p...)
	if len(g.buf) >= g.config.MinSize {
		if err := g.flushBuffer(true); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (g *gzipWriter) compressibleType() bool {
	ct := g.Header().Get("Content-Type")
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	for _, t := range g.config.Types {
		if mediaType == t {
			return true
		}
	}
	return false
}

func (g *gzipWriter) decide(compress bool) {
	g.decided = true
	g.compress = compress
	if compress {
		h := g.Header()
		h.Del("Content-Length")
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
		g.gz = gzipPool.Get().(*gzip.Writer)
		g.gz.Reset(g.ResponseWriter)
	}
	g.ResponseWriter.WriteHeader(g.status)
}

func (g *gzipWriter) flushBuffer(compress bool) error {
	g.decide(compress)
	buf := g.buf
	g.buf = nil
	if len(buf) == 0 {
		return nil
	}
	var err error
	if compress {
		_, err = g.gz.Write(buf)
	} else {
		_, err = g.ResponseWriter.Write(buf)
	}
	return err
}

// Flush implements http.Flusher.
func (g *gzipWriter) Flush() {
	if !g.decided {
		_ = g.flushBuffer(len(g.buf) >= g.config.MinSize)
	}
	if g.gz != nil {
		g.gz.Flush()
	}
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (g *gzipWriter) close() error {
	if !g.decided {
		if err := g.flushBuffer(false); err != nil {
			return err
		}
	}
	if g.gz == nil {
		return nil
	}
	err := g.gz.Close()
	gzipPool.Put(g.gz)
	g.gz = nil
	return err
}

// Compression gzips compressible responses for clients that accept it.
func Compression(config CompressionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			gw := newGzipWriter(w, config)
			defer gw.close()
			next.ServeHTTP(gw, r)
		})
	}
}
