package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the join, version and persistent-connection endpoints.
func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "OK")
	}).Methods("GET")
	r.HandleFunc("/version", s.VersionHandler).Methods("GET")
	r.HandleFunc("/join", s.JoinHandler).Methods("GET")
	r.HandleFunc("/join/{token}", s.ConnectHandler).Methods("GET")
	return r
}
