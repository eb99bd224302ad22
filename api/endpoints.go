package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"correlatest/client"
	"correlatest/logging"
)

type (
	liveness struct {
		Up bool
	}
	readiness struct {
		Up                        bool
		atLeastOneActorRegistered bool
		numActorsNotYetReady      int
	}
)

const (
	DefaultAddress    = ":8080"
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

var (
	l     *liveness
	r     *readiness
	mutex sync.Mutex
	lp    *logging.LogProvider
)

func init() {

	l = &liveness{true}
	r = &readiness{false, false, 0}
	lp = logging.GetLogProviderInstance(client.ID())

}

func newMux() *http.ServeMux {

	mux := http.NewServeMux()
	mux.HandleFunc("/liveness", livenessHandler)
	mux.HandleFunc("/readiness", readinessHandler)
	mux.HandleFunc("/status", statusHandler)

	return mux

}

// Expose serves the liveness, readiness and status endpoints on the given address until the
// context is done.
func Expose(ctx context.Context, address string) {

	server := &http.Server{
		Addr:              address,
		Handler:           newMux(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		lp.LogApiEvent(fmt.Sprintf("exposing api on '%s'", address), log.InfoLevel)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lp.LogApiEvent(fmt.Sprintf("api server stopped unexpectedly: %v", err), log.ErrorLevel)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			lp.LogApiEvent(fmt.Sprintf("unable to shut down api server: %v", err), log.WarnLevel)
		}
	}()

}

// RaiseNotReady registers an actor that is not ready yet. The application is ready once every
// registered actor has called RaiseReady.
func RaiseNotReady() {

	mutex.Lock()
	defer mutex.Unlock()

	r.atLeastOneActorRegistered = true
	r.numActorsNotYetReady++
	r.Up = false
	lp.LogApiEvent(fmt.Sprintf("actor raised not ready, %d actor/-s not yet ready", r.numActorsNotYetReady), log.TraceLevel)

}

func RaiseReady() {

	mutex.Lock()
	defer mutex.Unlock()

	if r.numActorsNotYetReady > 0 {
		r.numActorsNotYetReady--
	}
	if r.atLeastOneActorRegistered && r.numActorsNotYetReady == 0 {
		r.Up = true
		lp.LogApiEvent("all actors ready", log.InfoLevel)
	}

}

func livenessHandler(w http.ResponseWriter, req *http.Request) {

	switch req.Method {
	case http.MethodGet:
		bytes, _ := json.Marshal(l)
		_, _ = w.Write(bytes)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}

}

func readinessHandler(w http.ResponseWriter, req *http.Request) {

	switch req.Method {
	case http.MethodGet:
		mutex.Lock()
		up := r.Up
		var bytes []byte
		if up {
			bytes, _ = json.Marshal(r)
		}
		mutex.Unlock()
		if up {
			_, _ = w.Write(bytes)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}

}

func statusHandler(w http.ResponseWriter, req *http.Request) {

	switch req.Method {
	case http.MethodGet:
		bytes, err := json.Marshal(assembleStatus())
		if err != nil {
			lp.LogApiEvent(fmt.Sprintf("unable to marshal status: %v", err), log.ErrorLevel)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(bytes)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}

}
