package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"servicemarket/core/events"
	"servicemarket/services/marketd/api"
	"servicemarket/services/marketd/journal"
)

const wsWriteTimeout = 10 * time.Second

type eventView struct {
	ID         uint64            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
	Published  bool              `json:"published"`
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, api.ErrorBody{Error: api.ErrorDetail{Code: "journal_disabled", Message: "event journal not configured"}})
		return
	}
	query := r.URL.Query()
	q := journal.Query{
		Type:      strings.TrimSpace(query.Get("type")),
		ListingID: strings.TrimSpace(query.Get("listing")),
	}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, api.ErrInvalidRequest)
			return
		}
		q.AfterID = after
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, api.ErrInvalidRequest)
			return
		}
		q.Limit = limit
	}
	rows, err := s.journal.List(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]eventView, 0, len(rows))
	for _, row := range rows {
		rec, err := row.Decode()
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, eventView{ID: row.ID, Type: rec.Type, Attributes: rec.Attributes, CreatedAt: row.CreatedAt, Published: row.Published})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// handleEventStream replays buffered events after the supplied cursor, then
// streams live events until the client disconnects.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	filter := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Debug("event stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor, filter string) error {
	updates, cancel, backlog := s.broker.Subscribe(ctx, cursor)
	defer cancel()

	for _, env := range backlog {
		if err := writeEnvelope(ctx, conn, env, filter); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEnvelope(ctx, conn, env, filter); err != nil {
				return err
			}
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env events.Envelope, filter string) error {
	if filter != "" && !strings.HasPrefix(env.Type, filter) {
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
