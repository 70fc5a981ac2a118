package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/snappy-loop/notesum/internal/models"
	"github.com/snappy-loop/notesum/internal/services"
	"github.com/snappy-loop/notesum/internal/summarize"
)

const (
	wsReadLimit    = 4 << 10
	wsWriteTimeout = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is the JSON shape sent to the client.
type wsMessage struct {
	Type     string                   `json:"type"` // progress, result, error
	Progress *summarize.ProgressEvent `json:"progress,omitempty"`
	Result   *models.SummaryResponse  `json:"result,omitempty"`
	Error    string                   `json:"error,omitempty"`
	Code     string                   `json:"code,omitempty"`
}

// wsConn serializes writes; progress events and the result come from different goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(v wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// SummarizeProfileWS handles GET /v1/users/{id}/summary/ws. Query parameters
// notes_limit and include_followers mirror the JSON body of SummarizeProfile.
// Progress events are streamed, then one result or error message, then the
// connection is closed.
func (h *Handler) SummarizeProfileWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.instanceID(w, r, "invalid user id")
	if !ok {
		return
	}
	req, ok := h.profileRequestFromQuery(w, r)
	if !ok {
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("summary ws upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client sends nothing; a read error means it went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	out := &wsConn{conn: conn}
	progress := summarize.ProgressFunc(func(_ context.Context, ev summarize.ProgressEvent) {
		if err := out.send(wsMessage{Type: "progress", Progress: &ev}); err != nil {
			log.Debug().Err(err).Msg("summary ws write")
		}
	})

	resp, err := h.summaries.SummarizeProfile(ctx, userID, req, progress)
	if err != nil {
		_ = out.send(wsMessage{Type: "error", Error: err.Error(), Code: services.ErrorCode(err)})
	} else {
		_ = out.send(wsMessage{Type: "result", Result: resp})
	}

	out.mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	out.mu.Unlock()
}

func (h *Handler) profileRequestFromQuery(w http.ResponseWriter, r *http.Request) (*models.ProfileSummaryRequest, bool) {
	q := r.URL.Query()
	var req models.ProfileSummaryRequest

	if v := q.Get("notes_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "notes_limit must be an integer")
			return nil, false
		}
		req.NotesLimit = &n
	}
	if v := q.Get("include_followers"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "include_followers must be a boolean")
			return nil, false
		}
		req.IncludeFollowers = b
	}

	if err := h.validate.Struct(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "notes_limit must be between 1 and 1000")
		return nil, false
	}
	return &req, true
}
