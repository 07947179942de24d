package ruleimport

import (
	"context"
	"crypto/tls"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Read/Write timeout in the admin server
const adminServerTimeout = 10 * time.Second

// AdminListener serves the import metrics over HTTP(S).
type AdminListener struct {
	httpServer *http.Server

	id   string
	addr string
	opt  AdminListenerOptions

	mux *http.ServeMux
}

// AdminListenerOptions contains options used by the admin service.
type AdminListenerOptions struct {
	// Serve HTTPS if set, plain HTTP otherwise.
	TLSConfig *tls.Config
}

// NewAdminListener returns an instance of an admin service listener.
func NewAdminListener(id, addr string, opt AdminListenerOptions) *AdminListener {
	l := &AdminListener{
		id:   id,
		addr: addr,
		opt:  opt,
		mux:  http.NewServeMux(),
	}
	// Serve metrics.
	l.mux.Handle("/ruleimport/vars", expvar.Handler())
	l.mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	return l
}

// Start the admin server. Blocks until the server is stopped.
func (s *AdminListener) Start() error {
	s.log().Info("starting listener")
	s.httpServer = &http.Server{
		Addr:         s.addr,
		TLSConfig:    s.opt.TLSConfig,
		Handler:      s.mux,
		ReadTimeout:  adminServerTimeout,
		WriteTimeout: adminServerTimeout,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	if s.opt.TLSConfig != nil {
		err = s.httpServer.ServeTLS(ln, "", "")
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop the server.
func (s *AdminListener) Stop() error {
	s.log().Info("stopping listener")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(context.Background())
}

func (s *AdminListener) log() *logrus.Entry {
	return Log.WithFields(logrus.Fields{"id": s.id, "addr": s.addr})
}

// Handler returns the HTTP handler of the admin service.
func (s *AdminListener) Handler() http.Handler {
	return s.mux
}

func (s *AdminListener) String() string {
	return s.id
}
