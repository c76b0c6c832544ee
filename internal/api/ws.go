package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kjannette/bitmage-backend/internal/game"
	"github.com/kjannette/bitmage-backend/internal/models"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 50 * time.Second
	wsStateEvery   = time.Second
	wsSendBuffer   = 64
)

// wsMessage is every frame sent to a client.
type wsMessage struct {
	Type string `json:"type"` // price, chart, round, balance, notification, notifications, error
	Data any    `json:"data,omitempty"`
}

// wsClientMessage is a frame from a client.
type wsClientMessage struct {
	Type   string `json:"type"` // select_period, refresh
	Period string `json:"period,omitempty"`
}

type balanceFrame struct {
	Balance int64 `json:"balance"`
	Pending int   `json:"pending"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	log := s.log.With().Str("user", sess.UserID()).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("websocket connected")

	prices := make(chan models.Quote, 4)
	notes := make(chan models.Notification, 16)
	priceSub := s.game.SubscribePrices(prices)
	noteSub := sess.Subscribe(notes)
	out := make(chan wsMessage, wsSendBuffer)
	done := make(chan struct{})

	go s.wsWritePump(conn, sess, prices, notes, out, done)
	go s.wsStatePump(sess, out, done)

	// initial state
	out <- wsMessage{Type: "price", Data: s.game.Engine().Current(r.Context())}
	out <- wsMessage{Type: "round", Data: sess.Round.Snapshot()}
	out <- wsMessage{Type: "notifications", Data: sess.Notes.Visible(s.now())}
	if series, ok := sess.Chart.Series(); ok {
		out <- wsMessage{Type: "chart", Data: series}
	}

	s.wsReadPump(r.Context(), conn, sess, out)

	close(done)
	priceSub.Unsubscribe()
	noteSub.Unsubscribe()
	log.Info().Msg("websocket disconnected")
}

func (s *Server) wsReadPump(ctx context.Context, conn *websocket.Conn, sess *game.Session, out chan<- wsMessage) {
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str("user", sess.UserID()).Msg("websocket read error")
			}
			return
		}

		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.enqueue(out, wsMessage{Type: "error", Data: "invalid message"})
			continue
		}

		switch msg.Type {
		case "select_period":
			p, ok := models.ParsePeriod(msg.Period)
			if !ok {
				s.enqueue(out, wsMessage{Type: "error", Data: "invalid period"})
				continue
			}
			sess.Chart.Select(p)
			fallthrough
		case "refresh":
			// a stale refresh is dropped; the next scheduled refresh catches up
			if series, fresh := sess.Chart.Refresh(ctx, s.game.Engine()); fresh {
				s.enqueue(out, wsMessage{Type: "chart", Data: series})
			}
		default:
			s.enqueue(out, wsMessage{Type: "error", Data: "unknown message type"})
		}
	}
}

// enqueue drops the frame when the client is not keeping up.
func (s *Server) enqueue(out chan<- wsMessage, m wsMessage) {
	select {
	case out <- m:
	default:
		s.log.Warn().Str("type", m.Type).Msg("websocket send buffer full, dropping frame")
	}
}

// wsStatePump pushes round and balance changes. The write pump never takes
// session locks, so a slow socket cannot stall a settling round.
func (s *Server) wsStatePump(sess *game.Session, out chan<- wsMessage, done <-chan struct{}) {
	t := time.NewTicker(wsStateEvery)
	defer t.Stop()

	var lastState models.RoundState
	lastBalance := int64(-1)
	for {
		select {
		case <-done:
			return
		case <-t.C:
		}
		view := sess.Round.Snapshot()
		if shouldPushRound(view.State, lastState) {
			s.enqueue(out, wsMessage{Type: "round", Data: view})
			lastState = view.State
		}
		if bal := sess.Balance(); bal != lastBalance {
			s.enqueue(out, wsMessage{Type: "balance", Data: balanceFrame{Balance: bal, Pending: len(sess.Recon.Pending())}})
			lastBalance = bal
		}
	}
}

// shouldPushRound is true every second while a round runs and once more when
// it returns to idle.
func shouldPushRound(cur, last models.RoundState) bool {
	return cur != models.StateIdle || last != models.StateIdle
}

func (s *Server) wsWritePump(conn *websocket.Conn, sess *game.Session, prices <-chan models.Quote,
	notes <-chan models.Notification, out <-chan wsMessage, done <-chan struct{}) {
	ping := time.NewTicker(wsPingInterval)
	defer func() {
		ping.Stop()
		conn.Close()
	}()

	write := func(m wsMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(m); err != nil {
			s.log.Debug().Err(err).Str("user", sess.UserID()).Msg("websocket write failed")
			return false
		}
		return true
	}

	for {
		var ok bool
		select {
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case q := <-prices:
			ok = write(wsMessage{Type: "price", Data: q})
		case n := <-notes:
			ok = write(wsMessage{Type: "notification", Data: n})
		case m := <-out:
			ok = write(m)
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			ok = conn.WriteMessage(websocket.PingMessage, nil) == nil
		}
		if !ok {
			return
		}
	}
}
