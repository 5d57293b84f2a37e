package broker

import (
	"encoding/json"
	"errors"
	"fmt"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
)

// TickMessage is the JSON envelope published on the ticks exchange.
type TickMessage struct {
	Source string       `json:"source,omitempty"`
	Tick   *domain.Tick `json:"tick,omitempty"`
}

func decodeTick(body []byte) (domain.Tick, error) {
	var msg TickMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.Tick{}, fmt.Errorf("decode payload: %w", err)
	}
	if msg.Tick == nil {
		return domain.Tick{}, errors.New("tick payload is nil")
	}
	tick := msg.Tick.Normalize()
	if err := tick.Validate(); err != nil {
		return domain.Tick{}, err
	}
	return tick, nil
}
