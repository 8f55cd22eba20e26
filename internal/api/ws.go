package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/refine"
	"github.com/sprite-ai/revloop/internal/review"
)

// newUpgrader accepts same-origin requests and requests without an Origin
// header, plus any origin listed in allowed. "*" accepts every origin.
func newUpgrader(allowed []string) websocket.Upgrader {
	u := websocket.Upgrader{
		ReadBufferSize:  1024 * 64,
		WriteBufferSize: 1024 * 64,
	}
	if len(allowed) == 0 {
		return u
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimSuffix(strings.ToLower(strings.TrimSpace(o)), "/")] = true
	}
	u.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] {
			return true
		}
		if set[strings.ToLower(origin)] {
			return true
		}
		parsed, err := url.Parse(origin)
		return err == nil && strings.EqualFold(parsed.Host, r.Host)
	}
	return u
}

// WebSocket message types from client.
const (
	wsMsgReview = "review"
	wsMsgCancel = "cancel"
)

// WebSocket message types to client.
const (
	wsMsgAccepted = "accepted"
	wsMsgEvent    = "event"
	wsMsgResult   = "result"
	wsMsgError    = "error"
)

// wsMessage is the envelope for WebSocket messages in both directions.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// wsAccepted is sent once a review run starts.
type wsAccepted struct {
	RunID string `json:"run_id"`
	File  string `json:"file"`
}

// wsEvent mirrors one state transition of the running loop.
type wsEvent struct {
	RunID       string   `json:"run_id"`
	State       string   `json:"state"`
	Iteration   int      `json:"iteration"`
	Time        string   `json:"time"`
	Findings    *int     `json:"findings,omitempty"`
	Score       *float64 `json:"overall_score,omitempty"`
	ShouldRetry *bool    `json:"should_retry,omitempty"`
	Aborted     bool     `json:"aborted,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

func toWSEvent(runID string, ev refine.Event) wsEvent {
	out := wsEvent{
		RunID:     runID,
		State:     ev.State.String(),
		Iteration: ev.Iteration,
		Time:      ev.Time.UTC().Format(time.RFC3339Nano),
		Aborted:   ev.Aborted,
		Reason:    ev.Reason,
	}
	if ev.Report != nil {
		n := ev.Report.TotalFindings()
		out.Findings = &n
	}
	if ev.Evaluation != nil {
		score, retry := ev.Evaluation.OverallScore, ev.Evaluation.ShouldRetry
		out.Score = &score
		out.ShouldRetry = &retry
	}
	return out
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *logging.Logger
}

func (c *wsConn) send(msgType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.log.Warn(context.Background(), "ws marshal", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(wsMessage{Type: msgType, Data: raw}); err != nil {
		c.log.Debug(context.Background(), "ws write", zap.Error(err))
	}
}

func (c *wsConn) sendError(msg string) {
	c.send(wsMsgError, map[string]string{"message": msg})
}

// reviewSession tracks the run a connection has in flight. One run at a
// time per connection.
type reviewSession struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (rs *reviewSession) start(parent context.Context) (context.Context, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.cancel != nil {
		return nil, false
	}
	ctx, cancel := context.WithCancel(parent)
	rs.cancel = cancel
	rs.wg.Add(1)
	return ctx, true
}

func (rs *reviewSession) done() {
	rs.mu.Lock()
	if rs.cancel != nil {
		rs.cancel()
		rs.cancel = nil
	}
	rs.mu.Unlock()
	rs.wg.Done()
}

func (rs *reviewSession) stop() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.cancel == nil {
		return false
	}
	rs.cancel()
	return true
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(s.cfg.MaxUploadBytes + 64<<10)

	wc := &wsConn{conn: conn, log: s.log}
	ctx, cancel := context.WithCancel(context.Background())
	session := &reviewSession{}
	defer func() {
		cancel()
		session.wg.Wait()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn(ctx, "websocket read", zap.Error(err))
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			wc.sendError("invalid message format")
			continue
		}

		switch msg.Type {
		case wsMsgReview:
			s.handleWSReview(ctx, wc, session, msg.Data)
		case wsMsgCancel:
			if !session.stop() {
				wc.sendError("no review in progress")
			}
		default:
			wc.sendError("unknown message type: " + msg.Type)
		}
	}
}

func (s *Server) handleWSReview(ctx context.Context, wc *wsConn, session *reviewSession, data json.RawMessage) {
	var sub submission
	if err := json.Unmarshal(data, &sub); err != nil {
		wc.sendError("invalid review data")
		return
	}
	if strings.TrimSpace(sub.Name) == "" || strings.TrimSpace(sub.Content) == "" {
		wc.sendError("name and content are required")
		return
	}
	if int64(len(sub.Content)) > s.cfg.MaxUploadBytes {
		wc.sendError("content too large")
		return
	}

	runCtx, ok := session.start(ctx)
	if !ok {
		wc.sendError("a review is already in progress")
		return
	}

	runID := uuid.NewString()
	wc.send(wsMsgAccepted, wsAccepted{RunID: runID, File: sub.Name})

	go func() {
		defer session.done()
		res, err := s.reviewer.ReviewContent(runCtx, sub.Name, []byte(sub.Content),
			review.WithRunID(runID),
			review.WithObserver(func(ev refine.Event) {
				wc.send(wsMsgEvent, toWSEvent(runID, ev))
			}),
		)
		switch {
		case err == nil:
			wc.send(wsMsgResult, s.toReviewResponse(res))
		case errors.Is(err, review.ErrNoEvaluation) && res != nil:
			resp := s.toReviewResponse(res)
			resp.Error = err.Error()
			wc.send(wsMsgResult, resp)
		case errors.Is(err, context.Canceled):
			wc.sendError("review cancelled")
		default:
			s.log.Error(runCtx, "ws review failed", zap.String("run_id", runID), zap.Error(err))
			wc.sendError("review failed: " + err.Error())
		}
	}()
}
