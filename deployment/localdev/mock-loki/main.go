// Command mock-loki is a local stand-in for Loki and the remediation webhook
// target. It replays a failure cascade every burst interval so the remediation
// engine's poller has something to correlate.
package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"
)

const burstInterval = 45 * time.Second

type mockLine struct {
	offset    time.Duration
	container string
	line      string
}

var cascades = [][]mockLine{
	{
		{0, "vault", "core: vault is sealed, 503 Service Unavailable on /v1/auth/kubernetes/login"},
		{3 * time.Second, "eso", "calling vault: failed to authenticate SecretStore vault-backend after 3 retries"},
		{9 * time.Second, "database", "FATAL: password authentication failed for user \"auth_svc\""},
		{14 * time.Second, "auth_service", "calling database: connection pool exhausted, 47 requests waiting"},
		{20 * time.Second, "api_gateway", "calling auth_service: upstream unhealthy, circuit breaker open 502 Bad Gateway"},
	},
	{
		{0, "vault", "lease renewal failed for auth/jwt/signing: lease not found"},
		{4 * time.Second, "auth_service", "calling vault: JWT signing key not found in keystore"},
		{8 * time.Second, "auth_service", "token validation failed: 401 Unauthorized"},
		{15 * time.Second, "user_service", "calling auth_service: request rejected as unauthorized"},
	},
	{
		{0, "cert_manager", "ACME challenge failed for api-gateway.prod: certificate not renewed"},
		{5 * time.Second, "api_gateway", "TLS certificate for api-gateway.prod has expired"},
		{9 * time.Second, "api_gateway", "TLS handshake failed: SSL_ERROR_EXPIRED_CERT_ALERT"},
		{16 * time.Second, "user_service", "calling api_gateway: certificate verify failed, auth provider unavailable"},
	},
}

type queryResult struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type hookRecord struct {
	Path     string          `json:"path"`
	Received time.Time       `json:"received"`
	Body     json.RawMessage `json:"body"`
}

type hookSink struct {
	mu      sync.Mutex
	records []hookRecord
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("component", "mock-loki"))
	started := time.Now()
	hooks := &hookSink{}

	mux := http.NewServeMux()
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ready\n")
	})

	mux.HandleFunc("/loki/api/v1/query_range", func(w http.ResponseWriter, r *http.Request) {
		if !enforceMethod(w, r, http.MethodGet) {
			return
		}
		startNs, _ := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = 100
		}
		writeJSON(w, map[string]any{
			"status": "success",
			"data": map[string]any{
				"resultType": "streams",
				"result":     replay(started, time.Now(), startNs, limit),
			},
		})
	})

	mux.HandleFunc("/hooks/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
			if err != nil || !json.Valid(body) {
				http.Error(w, "body must be JSON", http.StatusBadRequest)
				return
			}
			hooks.mu.Lock()
			hooks.records = append(hooks.records, hookRecord{Path: r.URL.Path, Received: time.Now().UTC(), Body: body})
			hooks.mu.Unlock()
			logger.Info("webhook received", slog.String("path", r.URL.Path), slog.Int("bytes", len(body)))
			w.WriteHeader(http.StatusAccepted)
		case http.MethodGet:
			hooks.mu.Lock()
			records := append([]hookRecord(nil), hooks.records...)
			hooks.mu.Unlock()
			writeJSON(w, records)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	addr := os.Getenv("MOCK_LOKI_ADDR")
	if addr == "" {
		addr = ":3100"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

// replay returns every line emitted between started and now whose timestamp
// is at or after startNs, grouped into one stream per container.
func replay(started, now time.Time, startNs int64, limit int) []queryResult {
	byContainer := map[string]*queryResult{}
	var order []string
	emitted := 0
	for burst := 0; ; burst++ {
		base := started.Add(time.Duration(burst) * burstInterval)
		if base.After(now) {
			break
		}
		for _, l := range cascades[burst%len(cascades)] {
			ts := base.Add(l.offset)
			if ts.After(now) || ts.UnixNano() < startNs {
				continue
			}
			if emitted == limit {
				return collect(byContainer, order)
			}
			res, ok := byContainer[l.container]
			if !ok {
				res = &queryResult{Stream: map[string]string{"container": l.container, "namespace": "prod"}}
				byContainer[l.container] = res
				order = append(order, l.container)
			}
			res.Values = append(res.Values, [2]string{strconv.FormatInt(ts.UnixNano(), 10), l.line})
			emitted++
		}
	}
	return collect(byContainer, order)
}

func collect(byContainer map[string]*queryResult, order []string) []queryResult {
	out := make([]queryResult, 0, len(order))
	for _, c := range order {
		out = append(out, *byContainer[c])
	}
	return out
}

func enforceMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode error", slog.Any("error", err))
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("took", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
