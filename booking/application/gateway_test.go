package application

import (
	"context"
	"errors"
	"testing"

	"bus-booking/booking/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGateway() (*Gateway, *fakeQueue, *fakeCounters) {
	q := &fakeQueue{}
	c := &fakeCounters{}
	return &Gateway{Queue: q, Counters: c}, q, c
}

func TestGateway_OptionsAcks(t *testing.T) {
	gw, _, c := newTestGateway()

	res := gw.Handle(context.Background(), Request{Method: MethodOptions, Path: "/anything"})
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, AckBody{OK: true}, res.Body)
	assert.Zero(t, c.calls())
}

func TestGateway_StatsReturnsCounters(t *testing.T) {
	gw, _, c := newTestGateway()
	c.c = domain.Counters{Processed: 4, Success: 3, Requests: 5}

	res := gw.Handle(context.Background(), Request{Method: MethodGet, Path: "/prod/api/stats"})
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, domain.Counters{Processed: 4, Success: 3, Requests: 5}, res.Body)
}

func TestGateway_UnknownRouteIsNotFound(t *testing.T) {
	gw, _, _ := newTestGateway()

	for _, req := range []Request{
		{Method: MethodGet, Path: "/api/book-bus"},
		{Method: MethodPost, Path: "/api/stats"},
		{Method: "DELETE", Path: "/api/book-bus"},
	} {
		res := gw.Handle(context.Background(), req)
		assert.Equal(t, StatusNotFound, res.Status, req)
		assert.Equal(t, ErrorBody{Error: "not found"}, res.Body)
	}
}

func TestGateway_BookEnqueuesWithKeysAndCountsRequest(t *testing.T) {
	gw, q, c := newTestGateway()

	res := gw.Handle(context.Background(), Request{
		Method: MethodPost,
		Path:   "/api/book-bus",
		Body:   []byte(`{"tripId":"T9","seatNo":"4B","requestId":"req-1","extra":{"b":2,"a":1}}`),
	})
	require.Equal(t, StatusOK, res.Status)

	body, ok := res.Body.(EnqueueResult)
	require.True(t, ok)
	assert.Equal(t, "queued", body.Status)
	assert.Equal(t, domain.Counters{Requests: 1}, body.Stats)

	require.Len(t, q.msgs, 1)
	msg := q.msgs[0]
	assert.Equal(t, "T9#4B", msg.GroupKey)
	assert.Equal(t, "req-1", msg.DedupKey)
	assert.JSONEq(t, `{"tripId":"T9","seatNo":"4B","requestId":"req-1","extra":{"a":1,"b":2}}`, string(msg.Body))
	assert.Equal(t, 1, c.increments)
}

func TestGateway_EmptyBodyIsEmptyObject(t *testing.T) {
	gw, q, _ := newTestGateway()

	res := gw.Handle(context.Background(), Request{Method: MethodPost, Path: "/api/book-bus"})
	require.Equal(t, StatusOK, res.Status)
	require.Len(t, q.msgs, 1)
	assert.Equal(t, "defaultTrip#defaultSeat", q.msgs[0].GroupKey)
	assert.Equal(t, `{}`, string(q.msgs[0].Body))
}

func TestGateway_RetryWithSameRequestIDCollapses(t *testing.T) {
	gw, q, c := newTestGateway()
	body := []byte(`{"requestId":"same","seatNo":1}`)

	for i := 0; i < 2; i++ {
		res := gw.Handle(context.Background(), Request{Method: MethodPost, Path: "/api/book-bus", Body: body})
		require.Equal(t, StatusOK, res.Status)
	}

	assert.Len(t, q.msgs, 1)
	assert.Equal(t, int64(2), c.c.Requests)
}

func TestGateway_MalformedBodyIsServerError(t *testing.T) {
	gw, q, c := newTestGateway()

	res := gw.Handle(context.Background(), Request{Method: MethodPost, Path: "/api/book-bus", Body: []byte(`{"tripId":`)})
	assert.Equal(t, StatusInternalError, res.Status)
	assert.NotEmpty(t, res.Body.(ErrorBody).Error)
	assert.Empty(t, q.msgs)
	assert.Zero(t, c.increments)
}

func TestGateway_QueueFailureDoesNotCount(t *testing.T) {
	gw, q, c := newTestGateway()
	q.err = errors.New("queue unavailable")

	res := gw.Handle(context.Background(), Request{Method: MethodPost, Path: "/api/book-bus", Body: []byte(`{}`)})
	assert.Equal(t, StatusInternalError, res.Status)
	assert.Contains(t, res.Body.(ErrorBody).Error, "queue unavailable")
	assert.Zero(t, c.increments)
}

func TestGateway_CounterReadFailureIsServerError(t *testing.T) {
	gw, _, c := newTestGateway()
	c.readErr = errors.New("store down")

	res := gw.Handle(context.Background(), Request{Method: MethodGet, Path: "/api/stats"})
	assert.Equal(t, StatusInternalError, res.Status)
	assert.Equal(t, ErrorBody{Error: "store down"}, res.Body)
}
