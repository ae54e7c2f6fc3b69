package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edustream/personalize-gateway/internal/events"
	"github.com/edustream/personalize-gateway/internal/handles"
	"github.com/edustream/personalize-gateway/internal/observability"
	"github.com/edustream/personalize-gateway/internal/orchestrator"
	"github.com/edustream/personalize-gateway/internal/personalization"
)

// maxInitiateBody bounds the initiate request body. The largest legal
// request (255-char topic plus 1000-char note) fits comfortably.
const maxInitiateBody = 16 << 10

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients are served from arbitrary origins; the stream id
		// itself is the authorization token.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Gateway exposes the two-phase HTTP surface: POST /initiate stashes a
// validated request under an opaque handle, GET /stream/{streamId} replays
// it as a server-sent event stream.
type Gateway struct {
	handles   handles.Store
	orch      *orchestrator.Orchestrator
	handleTTL time.Duration
}

func New(handleStore handles.Store, orch *orchestrator.Orchestrator, handleTTL time.Duration) *Gateway {
	return &Gateway{
		handles:   handleStore,
		orch:      orch,
		handleTTL: handleTTL,
	}
}

// Routes registers the gateway's endpoints on mux
func (g *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /initiate", g.handleInitiate)
	mux.HandleFunc("GET /stream/{streamId}", g.handleStream)
	mux.HandleFunc("GET /ws/{streamId}", g.handleWebSocket)
}

type initiateResponse struct {
	StreamID string `json:"streamId"`
}

type validationResponse struct {
	Errors map[string]string `json:"errors"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleInitiate validates the personalization request and stashes it for a
// later stream connection. Nothing upstream is called yet: the expensive
// work happens only when the client actually connects to consume it.
func (g *Gateway) handleInitiate(w http.ResponseWriter, r *http.Request) {
	log := observability.WithComponent("gateway")

	var req personalization.Request
	body := http.MaxBytesReader(w, r.Body, maxInitiateBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		observability.RecordInitiate("bad_request")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body."})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		observability.RecordInitiate("validation_failed")
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Errors: errs})
		return
	}

	// Identity is asserted upstream of this service; guests get an empty
	// owner and their results are not persisted.
	ownerID := r.Header.Get("X-User-ID")

	id, err := g.handles.Put(r.Context(), handles.Payload{
		Request:   req,
		OwnerID:   ownerID,
		CreatedAt: time.Now(),
	}, g.handleTTL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to stash initiate request")
		observability.RecordInitiate("store_error")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to initiate stream."})
		return
	}

	log.Info().
		Str("stream_id", id).
		Str("topic", req.Topic).
		Bool("authenticated", ownerID != "").
		Msg("Stream initiated")
	observability.RecordInitiate("ok")

	writeJSON(w, http.StatusOK, initiateResponse{StreamID: id})
}

// handleStream executes a previously initiated request as an SSE stream.
// All post-handshake failures travel inside the stream as streamError
// events; the HTTP status is already committed by then.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("streamId")
	log := observability.WithStream(streamID)

	ch, err := events.NewSSEChannel(w)
	if err != nil {
		log.Error().Err(err).Msg("Response writer does not support streaming")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	g.orch.Run(r.Context(), streamID, ch)
}

// handleWebSocket is the duplex alternative to the SSE endpoint: same
// handle, same event sequence, framed as JSON messages.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("streamId")
	log := observability.WithStream(streamID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	g.orch.Run(r.Context(), streamID, events.NewWSChannel(conn))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		observability.WithComponent("gateway").Debug().Err(err).Msg("Failed to write response")
	}
}
