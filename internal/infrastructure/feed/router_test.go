package feed

import (
	"testing"
	"time"

	domain "ohlcv-collector/internal/domain/entity/marketdata"
	interfaces "ohlcv-collector/internal/domain/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_DispatchToSubscribers(t *testing.T) {
	r := NewRouter()
	var got []domain.Tick
	handler := func(tick domain.Tick) { got = append(got, tick) }

	require.NoError(t, r.Subscribe(interfaces.ChannelTrades, "BTC_JPY", handler))
	require.NoError(t, r.Subscribe(interfaces.ChannelTrades, "ETH_JPY", handler))
	require.NoError(t, r.Subscribe(interfaces.ChannelTrades, "BTC_JPY", handler))

	assert.Equal(t, []string{"BTC_JPY", "ETH_JPY"}, r.Instruments(interfaces.ChannelTrades))

	tick := domain.Tick{Instrument: "BTC_JPY", Price: 1, Volume: 1, Timestamp: time.Now()}
	assert.True(t, r.Dispatch(interfaces.ChannelTrades, tick))
	assert.Len(t, got, 2)

	assert.False(t, r.Dispatch(interfaces.ChannelTrades, domain.Tick{Instrument: "XRP_JPY"}))
	assert.Len(t, got, 2)
}

func TestRouter_SubscribeValidation(t *testing.T) {
	r := NewRouter()
	noop := func(domain.Tick) {}

	assert.ErrorIs(t, r.Subscribe(interfaces.ChannelTrades, "BTC_JPY", nil), ErrNilHandler)
	assert.Error(t, r.Subscribe(interfaces.ChannelTrades, "  ", noop))
	assert.Error(t, r.Subscribe(interfaces.Channel("orderbooks"), "BTC_JPY", noop))
	assert.Empty(t, r.Instruments(interfaces.ChannelTrades))
}
