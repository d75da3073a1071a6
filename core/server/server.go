// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*Package server wires the registry's HTTP surface together: it builds
the gorilla/mux route table, runs the accept loop over a fixed worker
pool, and translates between raw TCP connections and the net/http
handler interface so every handler can stay a plain http.HandlerFunc.
*/
package server

import (
	"bufio"
	"net"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/cargoregistry/core/access"
	"github.com/relabs-tech/cargoregistry/core/config"
	"github.com/relabs-tech/cargoregistry/core/download"
	"github.com/relabs-tech/cargoregistry/core/gitindex"
	"github.com/relabs-tech/cargoregistry/core/httpcodec"
	"github.com/relabs-tech/cargoregistry/core/logger"
	"github.com/relabs-tech/cargoregistry/core/metastore"
	"github.com/relabs-tech/cargoregistry/core/owners"
	"github.com/relabs-tech/cargoregistry/core/publish"
	"github.com/relabs-tech/cargoregistry/core/registryindex"
	"github.com/relabs-tech/cargoregistry/core/schema"
	"github.com/relabs-tech/cargoregistry/core/search"
	"github.com/relabs-tech/cargoregistry/core/workerpool"
	"github.com/relabs-tech/cargoregistry/core/yank"
)

// Dependencies bundles the components the route table is built from.
type Dependencies struct {
	Index        *registryindex.Store
	Meta         *metastore.Store
	Git          *gitindex.Driver
	Validator    *schema.PublishedPackageValidator
	DownloadRoot string
}

// BuildRouter assembles the full cargo registry API route table.
func BuildRouter(deps Dependencies) *mux.Router {
	router := mux.NewRouter()
	logger.AddRequestID(router)

	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpcodec.WriteJSONError(w, http.StatusMethodNotAllowed, "unknown route or unsupported method")
	})
	router.NotFoundHandler = methodNotAllowed
	router.MethodNotAllowedHandler = methodNotAllowed

	publishPipeline := &publish.Pipeline{
		Index:        deps.Index,
		Meta:         deps.Meta,
		Git:          deps.Git,
		Validator:    deps.Validator,
		DownloadRoot: deps.DownloadRoot,
	}
	yankHandler := &yank.Handler{Index: deps.Index, Git: deps.Git}
	ownersHandler := &owners.Handler{Meta: deps.Meta}
	searchHandler := &search.Handler{Index: deps.Index, Meta: deps.Meta}
	downloadHandler := &download.Handler{Root: deps.DownloadRoot}

	api := router.PathPrefix("/api/v1/crates").Subrouter()
	api.Handle("/new", http.HandlerFunc(publishPipeline.ServeHTTP)).Methods(http.MethodPut)
	api.Handle("/{name}/{version}/yank", http.HandlerFunc(yankHandler.Yank)).Methods(http.MethodDelete)
	api.Handle("/{name}/{version}/unyank", http.HandlerFunc(yankHandler.Unyank)).Methods(http.MethodPut)
	api.Handle("/{name}/owners", http.HandlerFunc(ownersHandler.List)).Methods(http.MethodGet)
	api.Handle("/{name}/owners", http.HandlerFunc(ownersHandler.Add)).Methods(http.MethodPut)
	api.Handle("/{name}/owners", http.HandlerFunc(ownersHandler.Remove)).Methods(http.MethodDelete)

	// search has no authorization requirement; everything else under
	// /api/v1/crates does.
	api.Handle("", http.HandlerFunc(searchHandler.ServeHTTP)).Methods(http.MethodGet)

	api.Use(protectExceptSearch)

	router.Handle("/"+deps.DownloadRoot+"/{name}/{version}/download", http.HandlerFunc(downloadHandler.ServeHTTP)).Methods(http.MethodGet)

	return router
}

// protectExceptSearch requires an Authorization header on every
// /api/v1/crates route except the bare search GET.
func protectExceptSearch(h http.Handler) http.Handler {
	required := access.RequireAuthorization()(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/api/v1/crates" {
			h.ServeHTTP(w, r)
			return
		}
		required.ServeHTTP(w, r)
	})
}

// Server owns the listening socket and the worker pool that serves it.
type Server struct {
	listener net.Listener
	pool     *workerpool.Pool
	router   *mux.Router
}

// New binds addr and builds a Server with threads workers, each
// dispatching through router with recovery middleware installed.
func New(cfg config.Configuration, router *mux.Router) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.SocketAddr())
	if err != nil {
		return nil, err
	}
	handler := handlers.RecoveryHandler()(router)
	s := &Server{listener: listener, router: router}
	s.pool = workerpool.New(cfg.Net.Threads, func(conn net.Conn) {
		serveConnection(conn, handler)
	})
	return s, nil
}

// Serve accepts connections until the listener is closed, handing each
// one to the worker pool.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		s.pool.Submit(conn)
	}
}

// Close stops accepting new connections and waits for in-flight
// handlers to return.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.pool.Close()
	s.pool.Wait()
	return err
}

// Addr returns the address the server is actually bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// serveConnection parses the request line and headers off conn with
// net/http's own parser, stashes a RawConn positioned right after the
// header block so handlers needing the publish/owners framing can read
// it directly, dispatches through handler into a buffered response
// writer, and flushes that response back to conn in the registry's own
// wire format.
func serveConnection(conn net.Conn, handler http.Handler) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}
	req.RequestURI = ""

	raw := httpcodec.NewRawConn(conn, br)
	ctx := httpcodec.ContextWithRawConn(req.Context(), raw)
	req = req.WithContext(ctx)

	w := httpcodec.NewBufferedResponseWriter()
	handler.ServeHTTP(w, req)
	_ = w.Flush(conn)
}
