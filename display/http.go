package display

import (
	"bytes"
	"context"
	"html/template"
	"image"
	"image/jpeg"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	goutils "go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"go.viam.com/stereo/logging"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>stereo</title></head>
<body>
{{range .}}<figure><img src="/frame/{{.}}" onload="setTimeout(() => this.src = '/frame/{{.}}?' + Date.now(), 200)"><figcaption>{{.}}</figcaption></figure>
{{else}}<p>no frames yet</p>
{{end}}</body>
</html>
`))

// HTTPSink serves the latest JPEG of each frame name and an index page showing all of them.
type HTTPSink struct {
	mu     sync.RWMutex
	frames map[string][]byte

	listener net.Listener
	server   *http.Server
	workers  sync.WaitGroup
	logger   logging.Logger
}

// NewHTTPSink starts serving on addr. Use ":0" to pick a free port; Addr reports it.
func NewHTTPSink(addr string, logger logging.Logger) (*HTTPSink, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot listen on %q", addr)
	}
	s := &HTTPSink{
		frames:   map[string][]byte{},
		listener: listener,
		logger:   logger,
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.workers.Add(1)
	goutils.ManagedGo(func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("display server stopped", "error", err)
		}
	}, s.workers.Done)
	logger.Infow("serving display", "url", "http://"+listener.Addr().String())
	return s, nil
}

// Addr is the address the sink listens on.
func (s *HTTPSink) Addr() net.Addr {
	return s.listener.Addr()
}

// Handler returns the routes of the sink.
func (s *HTTPSink) Handler() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/"), s.serveIndex)
	mux.HandleFunc(pat.Get("/frame/:name"), s.serveFrame)
	return cors.AllowAll().Handler(mux)
}

func (s *HTTPSink) names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.frames))
	for name := range s.frames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *HTTPSink) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, s.names()); err != nil {
		s.logger.Debugw("cannot render index", "error", err)
	}
}

func (s *HTTPSink) serveFrame(w http.ResponseWriter, r *http.Request) {
	name := pat.Param(r, "name")
	s.mu.RLock()
	data, ok := s.frames[name]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(data); err != nil {
		s.logger.Debugw("cannot write frame", "name", name, "error", err)
	}
}

// Show encodes img and makes it the frame served under name.
func (s *HTTPSink) Show(ctx context.Context, name string, img image.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return errors.Wrapf(err, "cannot encode frame %q", name)
	}
	s.mu.Lock()
	s.frames[name] = buf.Bytes()
	s.mu.Unlock()
	return nil
}

// Close stops the server and waits for it to exit.
func (s *HTTPSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.workers.Wait()
	return err
}
