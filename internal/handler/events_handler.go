package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/opencivic/demand-ledger-api/internal/broadcast"
	appErrors "github.com/opencivic/demand-ledger-api/pkg/errors"
	"github.com/opencivic/demand-ledger-api/pkg/response"
)

// EventsHandler streams demand state-change events over SSE. Subscribers
// receive events published after they connect; catch-up is the client's
// responsibility via the regular read endpoints.
type EventsHandler struct {
	events broadcast.Broadcaster
}

// NewEventsHandler constructs the handler.
func NewEventsHandler(events broadcast.Broadcaster) *EventsHandler {
	return &EventsHandler{events: events}
}

// Stream godoc
// @Summary Stream demand state-change events (SSE)
// @Tags Events
// @Produce text/event-stream
// @Param demandId query string false "Restrict to one demand"
// @Success 200 {string} string
// @Router /events/demands [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	if h.events == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "event stream not configured"))
		return
	}

	topic := broadcast.TopicDemands
	if demandID := c.Query("demandId"); demandID != "" {
		topic = broadcast.DemandTopic(demandID)
	}

	// Pending events accumulate in a queue rather than a fixed-size channel:
	// a slow client write never blocks the broadcaster's delivery goroutine,
	// and no event accepted for this stream is ever discarded.
	var (
		pendingMu sync.Mutex
		pending   []broadcast.Event
	)
	wake := make(chan struct{}, 1)
	unsubscribe, err := h.events.Subscribe(topic, func(evt broadcast.Event) {
		pendingMu.Lock()
		pending = append(pending, evt)
		pendingMu.Unlock()
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "subscribe to event stream"))
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			pendingMu.Lock()
			batch := pending
			pending = nil
			pendingMu.Unlock()
			for _, evt := range batch {
				data, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				_, _ = c.Writer.WriteString("id: " + evt.ID + "\n")
				_, _ = c.Writer.WriteString("event: " + evt.Type + "\n")
				_, _ = c.Writer.WriteString("data: " + string(data) + "\n\n")
			}
			c.Writer.Flush()
		}
	}
}
