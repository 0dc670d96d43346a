package wsstream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensiasoft/sensorhub-sub000/internal/adapters/kv/memkv"
	"github.com/sensiasoft/sensorhub-sub000/internal/domain"
	"github.com/sensiasoft/sensorhub-sub000/internal/provider"
	"github.com/sensiasoft/sensorhub-sub000/internal/storage"
)

var tempSchema = domain.DataComponent{
	Name: "temp",
	Type: domain.TypeRecord,
	Fields: []domain.DataComponent{
		{Name: "time", Type: domain.TypeTime, Definition: domain.DefSamplingTime},
		{Name: "value", Type: domain.TypeQuantity, Definition: "urn:temp"},
	},
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := storage.Open(memkv.New())
	require.NoError(t, err)
	ps, err := store.AddProducer("station-1")
	require.NoError(t, err)
	require.NoError(t, ps.AddRecordType("temp", tempSchema, domain.DefaultTextEncoding()))
	for i := 1; i <= 3; i++ {
		ts := float64(1000 + i)
		key := domain.DataKey{RecordType: "temp", Timestamp: ts, ProducerID: "station-1"}
		require.NoError(t, store.StoreRecord(key, domain.DataBlock{ts, float64(i)}))
	}

	reg := provider.NewOfferingRegistry(nil)
	f, err := provider.NewFactory(provider.FactoryConfig{OfferingID: "history", Mode: provider.ModeArchive, Enabled: true}, nil, store)
	require.NoError(t, err)
	require.NoError(t, reg.Register(f))
	off, err := provider.NewFactory(provider.FactoryConfig{OfferingID: "off", Mode: provider.ModeArchive}, nil, store)
	require.NoError(t, err)
	require.NoError(t, reg.Register(off))

	mux := http.NewServeMux()
	NewHandler(reg, nil).Register(mux, "/ws")
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
}

func TestStreamArchivedObservations(t *testing.T) {
	srv := newServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "offering=history&begin=1002"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []float64
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected close: %v", err)
			break
		}
		var f Frame
		require.NoError(t, json.Unmarshal(data, &f))
		require.Equal(t, FrameObservation, f.Type)
		assert.Equal(t, "station-1", f.Observation.ProcedureID)
		got = append(got, f.Observation.Result[1])
	}
	assert.Equal(t, []float64{2, 3}, got)
}

func TestStreamRejectsBadRequests(t *testing.T) {
	srv := newServer(t)
	cases := map[string]int{
		"offering=ghost":             http.StatusNotFound,
		"offering=off":               http.StatusServiceUnavailable,
		"":                           http.StatusBadRequest,
		"offering=history&max=-1":    http.StatusBadRequest,
		"offering=history&begin=abc": http.StatusBadRequest,
	}
	for query, status := range cases {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
		require.ErrorIs(t, err, websocket.ErrBadHandshake, query)
		require.NotNil(t, resp, query)
		assert.Equal(t, status, resp.StatusCode, query)
		resp.Body.Close()
	}
}

func TestCapabilitiesEndpoints(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/capabilities")
	require.NoError(t, err)
	defer resp.Body.Close()
	var all []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&all))
	require.Len(t, all, 1)
	assert.Equal(t, "history", all[0]["offering"])

	resp2, err := http.Get(srv.URL + "/capabilities/history")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var one struct {
		RecordTypes    []string          `json:"record_types"`
		PhenomenonTime domain.TimeExtent `json:"phenomenon_time"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&one))
	assert.Equal(t, []string{"temp"}, one.RecordTypes)
	assert.Equal(t, domain.Period(1001, 1003), one.PhenomenonTime)

	resp3, err := http.Get(srv.URL + "/capabilities/ghost")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(url.Values{"begin": {"now"}, "types": {"temp, hum"}, "speed": {"2"}})
	require.NoError(t, err)
	assert.True(t, f.Time.IsFromNow())
	assert.Equal(t, []string{"temp", "hum"}, f.RecordTypes)
	assert.Equal(t, 2.0, f.ReplaySpeed)

	f, err = ParseFilter(url.Values{"begin": {"now"}, "end": {"now"}})
	require.NoError(t, err)
	assert.True(t, f.Time.IsNow())

	f, err = ParseFilter(url.Values{"begin": {"2023-11-14T22:13:20Z"}, "end": {"1700000010"}, "max": {"5"}})
	require.NoError(t, err)
	assert.Equal(t, domain.Period(1_700_000_000, 1_700_000_010), f.Time)
	assert.Equal(t, 5, f.MaxCount)

	f, err = ParseFilter(url.Values{})
	require.NoError(t, err)
	assert.True(t, f.Time.IsZero())

	f, err = ParseFilter(url.Values{"begin": {"0"}, "end": {"0"}})
	require.NoError(t, err)
	assert.False(t, f.Time.IsZero())
	assert.Equal(t, domain.TimeInterval{Begin: 0, End: 0}, f.Time.Resolve(1_700_000_000))

	_, err = ParseFilter(url.Values{"begin": {"20"}, "end": {"10"}})
	assert.ErrorIs(t, err, domain.ErrInvalid)
}
