package bundler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/flashbots/launch-bundler/jsonrpcserver"
	"github.com/flashbots/launch-bundler/metrics"
	"github.com/flashbots/launch-bundler/spike"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	UpdateConfigEndpointName = "bundler_updateConfig"
	GetConfigEndpointName    = "bundler_getConfig"
	StatusEndpointName       = "bundler_status"

	maxConfigBodySize   = 1 << 20
	defaultAttemptLimit = 20
	maxAttemptLimit     = 500
)

var (
	ErrRateLimited     = errors.New("too many requests")
	ErrHistoryDisabled = errors.New("attempt history is not configured")

	storeConfigTimeout = 3 * time.Second
	attemptsCacheTime  = time.Second
)

// AttemptHistory is implemented by DBBackend
type AttemptHistory interface {
	RecentAttempts(ctx context.Context, limit int) ([]DBBundleAttempt, error)
}

type apiResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// API is the operator facing configuration ingress.
// It stores documents verbatim, semantic validation happens when the engine loads them.
type API struct {
	log *zap.Logger

	store   ConfigStore
	status  *StatusTracker
	history *spike.Fetcher[[]DBBundleAttempt]
	limiter *rate.Limiter
	origins []string
}

func NewAPI(log *zap.Logger, store ConfigStore, status *StatusTracker, history AttemptHistory, rateLimit rate.Limit, origins []string) *API {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	// a non positive limit disables rate limiting
	if rateLimit <= 0 {
		rateLimit = rate.Inf
	}
	burst := 1
	if rateLimit != rate.Inf && rateLimit > 1 {
		burst = int(rateLimit)
	}
	api := &API{
		log:     log.Named("api"),
		store:   store,
		status:  status,
		limiter: rate.NewLimiter(rateLimit, burst),
		origins: origins,
	}
	if history != nil {
		// concurrent reads of the same page share one query
		api.history = spike.NewFetcher(func(ctx context.Context, key string) ([]DBBundleAttempt, error) {
			limit, err := strconv.Atoi(key)
			if err != nil {
				return nil, err
			}
			return history.RecentAttempts(ctx, limit)
		}, attemptsCacheTime)
	}
	return api
}

// Router returns the REST routes, rpc is mounted on /rpc when not nil
func (a *API) Router(rpc http.Handler) http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/api/updateConfig", a.timed("updateConfig", a.handleUpdateConfig)).Methods(http.MethodPost)
	router.HandleFunc("/api/config", a.timed("config", a.handleGetConfig)).Methods(http.MethodGet)
	router.HandleFunc("/api/status", a.timed("status", a.handleStatus)).Methods(http.MethodGet)
	router.HandleFunc("/api/attempts", a.timed("attempts", a.handleAttempts)).Methods(http.MethodGet)
	if rpc != nil {
		router.Handle("/rpc", a.rateLimited(rpc.ServeHTTP)).Methods(http.MethodPost)
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(a.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", jsonrpcserver.SignatureHeader}),
	)
	return cors(router)
}

func (a *API) timed(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	limited := a.rateLimited(handler)
	return func(w http.ResponseWriter, r *http.Request) {
		startAt := time.Now()
		defer func() {
			metrics.RecordAPICallDuration(endpoint, time.Since(startAt).Milliseconds())
		}()
		limited(w, r)
	}
}

func (a *API) rateLimited(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			writeAPIError(w, http.StatusTooManyRequests, ErrRateLimited)
			return
		}
		handler(w, r)
	}
}

func writeAPIResponse(w http.ResponseWriter, code int, res apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(res)
}

func writeAPIError(w http.ResponseWriter, code int, err error) {
	writeAPIResponse(w, code, apiResponse{Status: "error", Message: err.Error()})
}

func (a *API) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBodySize))
	if err != nil {
		metrics.IncConfigUpdatesFailed()
		writeAPIError(w, http.StatusBadRequest, err)
		return
	}
	doc, err := a.UpdateConfig(r.Context(), body)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrNotJSONObject) {
			code = http.StatusBadRequest
		}
		writeAPIError(w, code, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, apiResponse{Status: "success", Data: doc})
}

func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	doc, err := a.GetConfig(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrNoConfig) {
			code = http.StatusNotFound
		}
		writeAPIError(w, code, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, apiResponse{Status: "success", Data: doc})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	res := apiResponse{Status: "success"}
	if status, _ := a.Status(r.Context()); status != nil {
		res.Data = status
	}
	writeAPIResponse(w, http.StatusOK, res)
}

func (a *API) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeAPIError(w, http.StatusNotFound, ErrHistoryDisabled)
		return
	}
	limit := defaultAttemptLimit
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			writeAPIError(w, http.StatusBadRequest, errors.New("limit must be a positive integer")) //nolint:goerr113
			return
		}
		limit = min(parsed, maxAttemptLimit)
	}
	attempts, err := a.history.Get(r.Context(), strconv.Itoa(limit))
	if err != nil {
		a.log.Error("Failed to read attempts", zap.Error(err))
		writeAPIError(w, http.StatusInternalServerError, err)
		return
	}
	writeAPIResponse(w, http.StatusOK, apiResponse{Status: "success", Data: attempts})
}

// UpdateConfig stores doc verbatim, replacing the previous document.
// Only the JSON shape is checked, mismatched arrays are accepted here and rejected on the next tick.
func (a *API) UpdateConfig(ctx context.Context, doc json.RawMessage) (json.RawMessage, error) {
	if err := CheckDocumentShape(doc); err != nil {
		metrics.IncConfigUpdatesFailed()
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, storeConfigTimeout)
	defer cancel()
	if err := a.store.Store(ctx, doc); err != nil {
		metrics.IncConfigUpdatesFailed()
		a.log.Error("Failed to store deployment config", zap.Error(err))
		return nil, err
	}
	metrics.IncConfigUpdates()
	a.log.Info("Deployment config updated", zap.Int("size", len(doc)))
	return doc, nil
}

func (a *API) GetConfig(ctx context.Context) (json.RawMessage, error) {
	doc, err := a.store.Raw(ctx)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Status returns the summary of the latest tick, nil before the first one
func (a *API) Status(_ context.Context) (*OutcomeSummary, error) {
	if a.status == nil {
		return nil, nil
	}
	return a.status.Last(), nil
}
