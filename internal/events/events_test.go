package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/sigrelay/internal/domain"
)

var src = Source{Account: "acc", Exchange: "binance", Endpoint: "127.0.0.1:8080"}

func TestConstructors(t *testing.T) {
	ev := domain.SignalEvent{Kind: domain.SignalEntryFill, Pair: "BTC/USDT"}

	r := SignalReceived(src, ev)
	assert.Equal(t, KindSignalReceived, r.Kind)
	assert.Equal(t, domain.SignalEntryFill, r.SignalKind)
	require.NotNil(t, r.Signal)
	assert.Equal(t, "BTC/USDT", r.Signal.Pair)
	assert.Equal(t, src, r.Source)
	assert.False(t, r.Time.IsZero())

	r = Failed(src, domain.SignalExitFill, errors.New("boom"))
	assert.Equal(t, KindError, r.Kind)
	assert.Equal(t, "boom", r.Error)
	assert.Nil(t, r.Order)
}

func TestFanout(t *testing.T) {
	var got []string
	sink := func(name string) Sink {
		return SinkFunc(func(_ context.Context, r Record) { got = append(got, name+":"+string(r.Kind)) })
	}

	Fanout{sink("a"), sink("b")}.Report(context.Background(), Record{Kind: KindError})
	assert.Equal(t, []string{"a:error", "b:error"}, got)
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster(1)
	ch := b.Subscribe()

	b.Report(context.Background(), Record{Kind: KindOrderResult})
	// buffer is full, second record is dropped for this subscriber
	b.Publish(Record{Kind: KindError})

	r := <-ch
	assert.Equal(t, KindOrderResult, r.Kind)
	select {
	case r := <-ch:
		t.Fatalf("unexpected record %s", r.Kind)
	default:
	}

	b.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)

	// unsubscribing twice is harmless
	b.Unsubscribe(ch)
}
