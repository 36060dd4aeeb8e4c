package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fleet-route-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWialon answers token/login and core/search_items. Unknown session ids
// are rejected with error 1.
type fakeWialon struct {
	mu        sync.Mutex
	issued    int
	valid     map[string]bool
	logins    atomic.Int32
	searches  atomic.Int32
	failNext  atomic.Int32
	lastParam map[string]any
}

func newFakeWialon() *fakeWialon {
	return &fakeWialon{valid: make(map[string]bool)}
}

func (f *fakeWialon) expireAll() {
	f.mu.Lock()
	f.valid = make(map[string]bool)
	f.mu.Unlock()
}

func (f *fakeWialon) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.failNext.Load() > 0 {
		f.failNext.Add(-1)
		http.Error(w, "upstream busy", http.StatusServiceUnavailable)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.PostForm.Get("svc") {
	case "token/login":
		f.logins.Add(1)
		var p map[string]string
		_ = json.Unmarshal([]byte(r.PostForm.Get("params")), &p)
		if p["token"] != "secret" {
			_, _ = w.Write([]byte(`{"error":4}`))
			return
		}
		f.mu.Lock()
		f.issued++
		eid := "sid-" + string(rune('a'+f.issued))
		f.valid[eid] = true
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"eid": eid})

	case "core/search_items":
		f.searches.Add(1)
		f.mu.Lock()
		ok := f.valid[r.PostForm.Get("sid")]
		_ = json.Unmarshal([]byte(r.PostForm.Get("params")), &f.lastParam)
		f.mu.Unlock()
		if !ok {
			_, _ = w.Write([]byte(`{"error":1}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"items": [
				{"id": 101, "nm": "Truck 1", "uid": "teltonika", "ph": "+27000",
				 "pflds": {"plate_number": "CA 123-456", "vin": "VIN1", "year": 2019},
				 "pos": {"x": 28.0567, "y": -26.1076, "z": 1600, "s": 54, "c": 90, "sc": 11, "t": 1709539200, "p": {"ign": 1}}},
				{"id": 102, "nm": "Truck 2", "pos": null}
			]
		}`))

	default:
		_, _ = w.Write([]byte(`{"error":5}`))
	}
}

func newTestProvider(t *testing.T, f *fakeWialon, token string) *WialonProvider {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	p, err := NewWialonProvider(srv.URL, token)
	require.NoError(t, err)
	p.backoff = time.Millisecond
	return p
}

func TestFetchLiveUnitsParsesPositions(t *testing.T) {
	f := newFakeWialon()
	p := newTestProvider(t, f, "secret")

	units, err := p.FetchLiveUnits(context.Background())
	require.NoError(t, err)
	require.Len(t, units, 2)

	u := units[0]
	assert.Equal(t, int64(101), u.ExternalID)
	assert.Equal(t, "Truck 1", u.Name)
	assert.True(t, u.HasPosition)
	assert.Equal(t, domain.Coordinate{Lat: -26.1076, Lon: 28.0567}, u.Coordinate)
	assert.Equal(t, 54.0, u.SpeedKmh)
	assert.Equal(t, 90.0, u.Course)
	assert.Equal(t, 1600.0, u.AltitudeM)
	assert.Equal(t, 11, u.Satellites)
	assert.Equal(t, int64(1709539200), u.TimestampUnix)
	assert.Equal(t, "CA 123-456", u.Fields["plate_number"])
	assert.Equal(t, "2019", u.Fields["year"])
	assert.Equal(t, "teltonika", u.Fields["device_type"])
	assert.Equal(t, float64(1), u.Sensors["ign"])

	assert.False(t, units[1].HasPosition)

	assert.Equal(t, float64(unitSearchFlags), f.lastParam["flags"])
	assert.Equal(t, int32(1), f.logins.Load())
}

func TestSessionIsReused(t *testing.T) {
	f := newFakeWialon()
	p := newTestProvider(t, f, "secret")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := p.FetchLiveUnits(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.logins.Load())
	assert.NotEmpty(t, p.Session().ID())
}

func TestSessionRenewedAfterExpiry(t *testing.T) {
	f := newFakeWialon()
	p := newTestProvider(t, f, "secret")
	ctx := context.Background()

	_, err := p.FetchLiveUnits(ctx)
	require.NoError(t, err)
	first := p.Session().ID()

	f.expireAll()

	units, err := p.FetchLiveUnits(ctx)
	require.NoError(t, err)
	assert.Len(t, units, 2)
	assert.Equal(t, int32(2), f.logins.Load())
	assert.NotEqual(t, first, p.Session().ID())
}

func TestLoginRejected(t *testing.T) {
	f := newFakeWialon()
	p := newTestProvider(t, f, "wrong")

	_, err := p.FetchLiveUnits(context.Background())
	require.Error(t, err)

	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 4, ae.Code)
	assert.Empty(t, p.Session().ID())
}

func TestRetriesTransientStatus(t *testing.T) {
	f := newFakeWialon()
	p := newTestProvider(t, f, "secret")
	f.failNext.Store(2)

	units, err := p.FetchLiveUnits(context.Background())
	require.NoError(t, err)
	assert.Len(t, units, 2)
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFakeWialon()
	p := newTestProvider(t, f, "secret")
	f.failNext.Store(100)

	_, err := p.FetchLiveUnits(context.Background())
	var he *httpStatusError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusServiceUnavailable, he.Code)
}

func TestNewWialonProviderValidates(t *testing.T) {
	_, err := NewWialonProvider("", "token")
	assert.Error(t, err)
	_, err = NewWialonProvider("http://localhost", "")
	assert.Error(t, err)
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider()
	units, err := p.FetchLiveUnits(context.Background())
	require.NoError(t, err)
	assert.Empty(t, units)

	p.SetError(assert.AnError)
	_, err = p.FetchLiveUnits(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 2, p.Calls())
}
