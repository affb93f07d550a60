package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-socketcan/internal/logging"
)

var readiness atomic.Pointer[func() bool]

// SetReadinessFunc registers the check behind /ready and IsReady. nil
// clears it.
func SetReadinessFunc(fn func() bool) {
	if fn == nil {
		readiness.Store(nil)
		return
	}
	readiness.Store(&fn)
}

// IsReady reports true until a readiness func is registered.
func IsReady() bool {
	fn := readiness.Load()
	return fn == nil || (*fn)()
}

func readyHandler(w http.ResponseWriter, _ *http.Request) {
	if !IsReady() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ready\n"))
}

// Handler serves /metrics and /ready.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", readyHandler)
	return mux
}

// StartHTTP serves Handler on addr in the background. Shut it down with
// the returned server.
func StartHTTP(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: Handler()}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}
