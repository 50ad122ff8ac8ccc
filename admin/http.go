package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sig-0/go-qbft/validator"
)

type HTTPServer struct {
	done chan struct{}
}

type HTTPServerConfig struct {
	Listener net.Listener

	API *API

	// Gatherer serves /metrics when set
	Gatherer prometheus.Gatherer
}

func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: NewHandler(log, cfg.API, cfg.Gatherer),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

// NewHandler routes the JSON-RPC endpoint, the REST routes and, with a
// non-nil gatherer, /metrics
func NewHandler(log *slog.Logger, api *API, gatherer prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", handleRPC(log, api)).Methods("POST")

	r.HandleFunc("/validators", handleValidators(log, api)).Methods("GET")
	r.HandleFunc("/tally", handleTally(log, api)).Methods("GET")
	r.HandleFunc("/votes", handlePendingVotes(log, api)).Methods("GET")
	r.HandleFunc("/votes", handleProposeVote(log, api)).Methods("POST")
	r.HandleFunc("/votes/{address}", handleDiscardVote(log, api)).Methods("DELETE")

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r
}

func handleRPC(log *slog.Logger, api *API) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		var rpcReq rpcRequest

		resp := rpcResponse{JSONRPC: jsonRPCVersion}

		switch err := json.NewDecoder(req.Body).Decode(&rpcReq); {
		case err != nil:
			resp.Error = &rpcError{Code: CodeParseError, Message: "Parse error"}
		case rpcReq.JSONRPC != jsonRPCVersion || rpcReq.Method == "":
			resp.ID = rpcReq.ID
			resp.Error = &rpcError{Code: CodeInvalidRequest, Message: "Invalid Request"}
		default:
			resp.ID = rpcReq.ID

			result, err := api.Call(rpcReq.Method, rpcReq.Params)
			if err != nil {
				log.Debug("JSON-RPC call failed", "method", rpcReq.Method, "err", err)
				resp.Error = toRPCError(err)
			} else {
				resp.Result = result
			}
		}

		writeJSON(log, w, http.StatusOK, resp)
	}
}

func handleValidators(log *slog.Logger, api *API) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(log, w, http.StatusOK, api.Validators())
	}
}

func handleTally(log *slog.Logger, api *API) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(log, w, http.StatusOK, api.ctx.Tally().Tally())
	}
}

func handlePendingVotes(log *slog.Logger, api *API) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		if api.votes == nil {
			http.Error(w, ErrMethodNotEnabled.Error(), http.StatusForbidden)
			return
		}

		writeJSON(log, w, http.StatusOK, api.PendingVotes())
	}
}

type voteRequest struct {
	Address string `json:"address"`
	Auth    bool   `json:"auth"`
}

func handleProposeVote(log *slog.Logger, api *API) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		if api.votes == nil {
			http.Error(w, ErrMethodNotEnabled.Error(), http.StatusForbidden)
			return
		}

		var vr voteRequest
		if err := json.NewDecoder(req.Body).Decode(&vr); err != nil {
			http.Error(w, "malformed vote request", http.StatusBadRequest)
			return
		}

		target, ok := parseAddress(vr.Address)
		if !ok {
			http.Error(w, "invalid address", http.StatusBadRequest)
			return
		}

		auth := validator.AuthDrop
		if vr.Auth {
			auth = validator.AuthAdd
		}

		api.ProposeVote(target, auth)

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDiscardVote(_ *slog.Logger, api *API) func(w http.ResponseWriter, req *http.Request) {
	return func(w http.ResponseWriter, req *http.Request) {
		if api.votes == nil {
			http.Error(w, ErrMethodNotEnabled.Error(), http.StatusForbidden)
			return
		}

		target, ok := parseAddress(mux.Vars(req)["address"])
		if !ok {
			http.Error(w, "invalid address", http.StatusBadRequest)
			return
		}

		api.DiscardVote(target)

		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to marshal response", "err", err)
	}
}
