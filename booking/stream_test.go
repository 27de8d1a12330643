package booking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bus-booking/booking/domain"
	"bus-booking/booking/infra"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsStream_PushesCounters(t *testing.T) {
	counters := infra.NewMemoryCounterStore()
	require.NoError(t, counters.Increment(context.Background(), domain.Counters{Requests: 2}))

	stream := NewStatsStream(counters, 10*time.Millisecond, nil)
	srv := httptest.NewServer(stream)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + RouteStatsStream
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first domain.Counters
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, domain.Counters{Requests: 2}, first)

	require.NoError(t, counters.Increment(context.Background(), domain.Counters{Processed: 1, Success: 1}))
	require.Eventually(t, func() bool {
		var c domain.Counters
		if err := conn.ReadJSON(&c); err != nil {
			return false
		}
		return c.Processed == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, 1, stream.ClientCount())
}

func TestStatsStream_MountSendsOnlyUpgradesToStream(t *testing.T) {
	gw, _, counters := newTestGateway()
	stream := NewStatsStream(counters, time.Hour, nil)
	srv := httptest.NewServer(stream.Mount(NewHandler(gw)))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+RouteStatsStream, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))

	res, err = http.Get(srv.URL + RouteStatsStream)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + RouteStatsStream
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var c domain.Counters
	require.NoError(t, conn.ReadJSON(&c))
	assert.Equal(t, domain.Counters{}, c)
}
