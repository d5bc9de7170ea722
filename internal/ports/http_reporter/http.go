package http_reporter

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/fllarpy/reqprof/domain"
	"github.com/fllarpy/reqprof/profiling"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the JSON body describing the profiling mode.
type Status struct {
	Active bool `json:"active"`
	Silent bool `json:"silent"`
}

type reporter struct {
	mode   *profiling.Mode
	store  domain.ProfileReader
	logger logrus.FieldLogger
}

type route struct {
	path    string
	handler http.HandlerFunc
	method  string
	name    string
}

// NewHandler creates the control API rooted at prefix (e.g. "/debug/reqprof").
// store may be nil, in which case the profile routes are not registered.
func NewHandler(prefix string, mode *profiling.Mode, store domain.ProfileReader, logger logrus.FieldLogger) (http.Handler, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	rep := &reporter{mode: mode, store: store, logger: logger}

	routes := []route{
		{path: "/status", handler: rep.status, method: "GET", name: "status_get"},
		{path: "/enable", handler: rep.enable, method: "POST", name: "enable_post"},
		{path: "/disable", handler: rep.disable, method: "POST", name: "disable_post"},
	}
	if store != nil {
		routes = append(routes,
			route{path: "/profiles", handler: rep.profiles, method: "GET", name: "profiles_get"},
			route{path: "/profiles/{id:[0-9]+}", handler: rep.profile, method: "GET", name: "profile_get"},
		)
	}

	router := mux.NewRouter()
	sub := router
	if prefix = strings.TrimSuffix(prefix, "/"); prefix != "" {
		sub = router.PathPrefix(prefix).Subrouter()
	}
	for _, rt := range routes {
		r := sub.HandleFunc(rt.path, rt.handler).Methods(rt.method).Name(rt.name)
		if err := r.GetError(); err != nil {
			return nil, fmt.Errorf("error creating route %s: %w", rt.name, err)
		}
	}
	router.Use(rep.logRequest)
	return router, nil
}

func (rep *reporter) status(w http.ResponseWriter, r *http.Request) {
	rep.writeJSON(w, Status{Active: rep.mode.Active(), Silent: rep.mode.Silent()})
}

// enable switches profiling on. The silent query parameter defaults to true.
func (rep *reporter) enable(w http.ResponseWriter, r *http.Request) {
	silent := true
	if v := r.URL.Query().Get("silent"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "invalid silent parameter", http.StatusBadRequest)
			return
		}
		silent = parsed
	}
	rep.mode.Enable(silent)
	rep.status(w, r)
}

func (rep *reporter) disable(w http.ResponseWriter, r *http.Request) {
	rep.mode.Disable()
	rep.status(w, r)
}

func (rep *reporter) profiles(w http.ResponseWriter, r *http.Request) {
	rep.writeJSON(w, rep.store.GetSnapshot())
}

// profile serves the raw pprof data of one stored profile.
func (rep *reporter) profile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid profile id", http.StatusBadRequest)
		return
	}
	record, ok := rep.store.GetProfile(id)
	if !ok {
		http.Error(w, "profile not found", http.StatusNotFound)
		return
	}
	if len(record.Raw) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="profile-%d.pb.gz"`, record.ID))
	if _, err := w.Write(record.Raw); err != nil {
		rep.logger.WithError(err).WithField("id", id).Warn("Failed to write profile")
	}
}

func (rep *reporter) writeJSON(w http.ResponseWriter, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		// If encoding fails, it's a server-side problem.
		http.Error(w, "Failed to encode response to JSON", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_, _ = w.Write(append(body, '\n'))
}

func (rep *reporter) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fields := logrus.Fields{
			"path":   req.URL.Path,
			"method": req.Method,
		}
		if route := mux.CurrentRoute(req); route != nil {
			fields["route"] = route.GetName()
		}
		handler.ServeHTTP(w, req)
		rep.logger.WithFields(fields).Debug("control request")
	})
}
