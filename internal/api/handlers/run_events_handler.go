package handlers

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/covermap/backend/internal/mapping"
	"github.com/covermap/backend/pkg/logger"
)

// RunEventHub fans matching-run lifecycle events out to connected websocket
// clients. Publish never blocks; slow subscribers drop events.
type RunEventHub struct {
	mu          sync.Mutex
	subscribers map[chan mapping.RunEvent]struct{}
}

func NewRunEventHub() *RunEventHub {
	return &RunEventHub{
		subscribers: make(map[chan mapping.RunEvent]struct{}),
	}
}

func (h *RunEventHub) Publish(event mapping.RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

func (h *RunEventHub) subscribe() chan mapping.RunEvent {
	ch := make(chan mapping.RunEvent, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *RunEventHub) unsubscribe(ch chan mapping.RunEvent) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
	close(ch)
}

// HandleConnection streams run events to one websocket client until the
// client goes away.
func (h *RunEventHub) HandleConnection(c *websocket.Conn) {
	logger.Info("Run event subscriber connected")

	ch := h.subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.unsubscribe(ch)
		c.Close()
		logger.Info("Run event subscriber disconnected")
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				logger.Warn("Failed to write run event", zap.Error(err))
				return
			}
		}
	}
}
