package admin

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes mounts the admin API under /admin on the given mux.
func RegisterRoutes(mux *http.ServeMux, handlers *Handlers) {
	r := chi.NewRouter()

	r.Get("/status", handlers.handleStatus)

	r.Route("/cluster", func(r chi.Router) {
		r.Get("/nodes", handlers.handleListNodes)
		r.Post("/nodes", handlers.handleAddNode)
		r.Delete("/nodes/seqno/{seqno}", func(w http.ResponseWriter, req *http.Request) {
			seqno, err := strconv.ParseInt(chi.URLParam(req, "seqno"), 10, 64)
			if err != nil {
				writeErrorResponse(w, http.StatusBadRequest, "invalid seqno")
				return
			}
			handlers.handleDeleteNodeBySeqno(w, req, seqno)
		})
		r.Delete("/nodes/{name}", func(w http.ResponseWriter, req *http.Request) {
			handlers.handleDeleteNode(w, req, chi.URLParam(req, "name"))
		})
		r.Post("/check", handlers.handleCheck)
	})

	r.Post("/signal/{name}", func(w http.ResponseWriter, req *http.Request) {
		handlers.handleSignal(w, req, chi.URLParam(req, "name"))
	})

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))
}

// Serve runs the admin API on its own listener.
func Serve(bind string, port int, handlers *Handlers) {
	mux := http.NewServeMux()
	RegisterRoutes(mux, handlers)

	addr := fmt.Sprintf("%s:%d", bind, port)
	go func() {
		log.Info().Str("addr", addr).Msg("Admin API listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("Admin API stopped")
		}
	}()
}
