package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStreamHandleTradePersistsAndEnqueues(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	s := NewStream("wss://example.test", []string{"0xLeader"}, store, sink, discardLogger())

	a := testActivity("0xt1:7141:BUY", "0xleader", time.Now().UTC())
	s.handleTrade(context.Background(), a)

	assert.Len(t, store.inserted, 1)
	assert.Equal(t, []string{"0xt1:7141:BUY"}, sink.ids())
}

func TestStreamHandleTradeDropsUnknownLeader(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	s := NewStream("wss://example.test", []string{"0xleader"}, store, sink, discardLogger())

	a := testActivity("0xt1:7141:BUY", "0xstranger", time.Now().UTC())
	s.handleTrade(context.Background(), a)

	assert.Empty(t, store.inserted)
	assert.Empty(t, sink.ids())
}

func TestStreamHandleTradeInsertFailureDropsEvent(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("db down")}
	sink := &fakeSink{}
	s := NewStream("wss://example.test", []string{"0xleader"}, store, sink, discardLogger())

	a := testActivity("0xt1:7141:BUY", "0xleader", time.Now().UTC())
	s.handleTrade(context.Background(), a)

	assert.Empty(t, sink.ids(), "poller recovers dropped events on the next cycle")
}

func TestStreamRunNoLeaders(t *testing.T) {
	s := NewStream("wss://example.test", nil, &fakeStore{}, &fakeSink{}, discardLogger())
	assert.NoError(t, s.Run(context.Background()))
}
