// Package feed holds the subscription bookkeeping shared by tick sources.
package feed

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
	interfaces "ohlcv-collector/internal/domain/interfaces"
)

var ErrNilHandler = errors.New("tick handler is nil")

// Router maps (channel, instrument) to the handlers subscribed to it.
type Router struct {
	mu       sync.RWMutex
	handlers map[interfaces.Channel]map[string][]interfaces.TickHandler
	order    map[interfaces.Channel][]string
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[interfaces.Channel]map[string][]interfaces.TickHandler),
		order:    make(map[interfaces.Channel][]string),
	}
}

func (r *Router) Subscribe(channel interfaces.Channel, instrument string, handler interfaces.TickHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	instrument = strings.TrimSpace(instrument)
	if instrument == "" {
		return errors.New("instrument is empty")
	}
	if channel != interfaces.ChannelTrades {
		return fmt.Errorf("unsupported channel %q", channel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byInstrument, ok := r.handlers[channel]
	if !ok {
		byInstrument = make(map[string][]interfaces.TickHandler)
		r.handlers[channel] = byInstrument
	}
	if _, seen := byInstrument[instrument]; !seen {
		r.order[channel] = append(r.order[channel], instrument)
	}
	byInstrument[instrument] = append(byInstrument[instrument], handler)
	return nil
}

// Instruments returns the instruments subscribed on channel in subscription order.
func (r *Router) Instruments(channel interfaces.Channel) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order[channel]...)
}

// Dispatch calls every handler subscribed to the tick's instrument and
// reports whether there was any.
func (r *Router) Dispatch(channel interfaces.Channel, tick domain.Tick) bool {
	r.mu.RLock()
	handlers := r.handlers[channel][tick.Instrument]
	r.mu.RUnlock()

	for _, h := range handlers {
		h(tick)
	}
	return len(handlers) > 0
}
