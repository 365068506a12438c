package eventfeed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/bluexfer/coordinator"
	"github.com/user/bluexfer/link"
	"github.com/user/bluexfer/logger"
)

const (
	pingInterval   = 20 * time.Second
	writeWait      = 5 * time.Second
	maxRequestBody = 4 << 20
)

const logPrefix = "eventfeed"

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Node is the part of coordinator.Node the API drives.
type Node interface {
	Endpoints() []coordinator.EndpointInfo
	Endpoint(id link.Identity) (coordinator.EndpointInfo, bool)
	SendMessage(ctx context.Context, id link.Identity, payload []byte) error
	Broadcast(ctx context.Context, payload []byte) int
	Connect(id link.Identity) error
	Disconnect(id link.Identity) error
}

// Server holds handler dependencies.
type Server struct {
	node Node
	bus  *Bus
}

// NewHandler wires the feed routes:
//
//	GET    /events                  WebSocket stream of Event values
//	GET    /endpoints               snapshot of every tracked endpoint
//	GET    /endpoints/{id}          snapshot of one endpoint
//	POST   /endpoints/{id}/connect  dial a discovered candidate
//	DELETE /endpoints/{id}          tear an endpoint down
//	POST   /messages                send a message to one endpoint, or broadcast
func NewHandler(node Node, bus *Bus) http.Handler {
	s := &Server{node: node, bus: bus}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.eventStream)
	mux.HandleFunc("GET /endpoints", s.listEndpoints)
	mux.HandleFunc("GET /endpoints/{id}", s.getEndpoint)
	mux.HandleFunc("POST /endpoints/{id}/connect", s.connectEndpoint)
	mux.HandleFunc("DELETE /endpoints/{id}", s.disconnectEndpoint)
	mux.HandleFunc("POST /messages", s.sendMessage)
	return withLogging(mux)
}

func (s *Server) listEndpoints(w http.ResponseWriter, r *http.Request) {
	eps := s.node.Endpoints()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoints": eps,
		"count":     len(eps),
	})
}

func (s *Server) getEndpoint(w http.ResponseWriter, r *http.Request) {
	info, ok := s.node.Endpoint(link.Identity(r.PathValue("id")))
	if !ok {
		http.Error(w, "unknown endpoint", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) connectEndpoint(w http.ResponseWriter, r *http.Request) {
	id := link.Identity(r.PathValue("id"))
	if err := s.node.Connect(id); err != nil {
		http.Error(w, err.Error(), connectStatus(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": id})
}

func (s *Server) disconnectEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.node.Disconnect(link.Identity(r.PathValue("id"))); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func connectStatus(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrUnknownEndpoint):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrCapReached), errors.Is(err, coordinator.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sendRequest is the POST /messages body. Body wins over Text when both are
// set; an empty To broadcasts to every ready endpoint.
type sendRequest struct {
	To   link.Identity `json:"to"`
	Text string        `json:"text"`
	Body []byte        `json:"body"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	msg := req.Body
	if len(msg) == 0 {
		msg = []byte(req.Text)
	}
	if len(msg) == 0 {
		http.Error(w, "message is empty", http.StatusBadRequest)
		return
	}

	if req.To == "" {
		n := s.node.Broadcast(r.Context(), msg)
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"size": len(msg), "endpoints": n})
		return
	}

	if err := s.node.SendMessage(r.Context(), req.To, msg); err != nil {
		logger.Debug(logPrefix, "send to %s refused: %v", req.To.Short(), err)
		http.Error(w, err.Error(), sendStatus(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"to": req.To, "size": len(msg)})
}

// sendStatus maps a SendMessage error to an HTTP status.
func sendStatus(err error) int {
	switch {
	case errors.Is(err, coordinator.ErrUnknownEndpoint):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrAlreadyInProgress), errors.Is(err, coordinator.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrRoleDisabled):
		return http.StatusForbidden
	case errors.Is(err, coordinator.ErrMessageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, coordinator.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(logPrefix, "ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch, unsub := s.bus.Subscribe()
	defer unsub()

	// The client never sends data; reading is how a close is noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				logger.Debug(logPrefix, "ws write: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Debug(logPrefix, "%s %s %d %s", r.Method, r.URL.Path, rw.code, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade through the logging wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("eventfeed: response writer cannot hijack")
	}
	rw.code = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
