package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wonny/scorebt/internal/backtest"
	"github.com/wonny/scorebt/pkg/logger"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	streamBuffer = 64
)

// StepMessage is one committed step as sent over the websocket
type StepMessage struct {
	Type       string   `json:"type"` // step, done
	Date       string   `json:"date,omitempty"`
	Buys       int      `json:"buys,omitempty"`
	Sells      int      `json:"sells,omitempty"`
	Holdings   int      `json:"holdings,omitempty"`
	Cash       string   `json:"cash,omitempty"`
	TotalValue string   `json:"total_value,omitempty"`
	Unpriced   []string `json:"unpriced,omitempty"`
	Status     string   `json:"status,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func stepMessage(step backtest.Step) StepMessage {
	msg := StepMessage{
		Type:       "step",
		Date:       step.Date.Format("2006-01-02"),
		Holdings:   step.Holdings,
		Cash:       step.Valuation.Cash.StringFixed(2),
		TotalValue: step.Valuation.TotalValue.StringFixed(2),
		Unpriced:   step.Unpriced,
	}
	for _, tx := range step.Transactions {
		tx := tx
		if tx.IsBuy() {
			msg.Buys++
		} else {
			msg.Sells++
		}
	}
	return msg
}

// StreamHandler streams committed steps of a run over a websocket
type StreamHandler struct {
	registry *Registry
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(registry *Registry, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: log,
	}
}

// Stream replays the steps committed so far, then follows the run until it ends
// GET /ws/backtests/{id}
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	run, ok := h.registry.Get(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "Run not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	replay, steps, unsubscribe := run.Subscribe(streamBuffer)
	defer unsubscribe()

	// Reader goroutine: handles pongs and notices the client going away
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg StepMessage) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.logger.WithError(err).WithField("run_id", run.ID).Debug("Websocket write failed")
			return false
		}
		return true
	}

	for _, step := range replay {
		if !send(stepMessage(step)) {
			return
		}
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		case step, ok := <-steps:
			if !ok {
				<-run.Done()
				view := run.View()
				send(StepMessage{Type: "done", Status: string(view.Status), Error: view.Error})
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			if !send(stepMessage(step)) {
				return
			}
		}
	}
}
