package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/package-cache/journal"
	"github.com/wolfeidau/package-cache/retention"
	"github.com/wolfeidau/package-cache/sweep"
	"github.com/wolfeidau/package-cache/telemetry"
)

type fakeSweeper struct {
	last        *sweep.Result
	runTrigger  telemetry.Trigger
	required    uint64
	makeSpace   func(required uint64) (*sweep.Result, error)
	runNowError error
}

func (f *fakeSweeper) RunNow(ctx context.Context) (*sweep.Result, error) {
	f.runTrigger = telemetry.TriggerFromContext(ctx)
	if f.runNowError != nil {
		return nil, f.runNowError
	}
	f.last = &sweep.Result{Trigger: f.runTrigger, PackagesEvicted: 2, BytesReclaimed: 30}
	return f.last, nil
}

func (f *fakeSweeper) MakeSpace(_ context.Context, required uint64) (*sweep.Result, error) {
	f.required = required
	return f.makeSpace(required)
}

func (f *fakeSweeper) Status() *sweep.Result { return f.last }

type fakeJournal struct {
	entries []journal.Entry
	age     journal.CacheAge
}

func (f *fakeJournal) Snapshot(context.Context) ([]journal.Entry, error) {
	return append([]journal.Entry(nil), f.entries...), nil
}

func (f *fakeJournal) CacheAge(context.Context) (journal.CacheAge, error) { return f.age, nil }

func newTestServer(t *testing.T, sw *fakeSweeper, j *fakeJournal) http.Handler {
	t.Helper()
	return New(Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, sw, j).Handler()
}

func entry(t *testing.T, id, version string, size uint64) journal.Entry {
	t.Helper()
	p, err := journal.NewPackageIdentity(id, version)
	require.NoError(t, err)
	return journal.Entry{Package: p, FileSizeBytes: size}
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(newTestServer(t, &fakeSweeper{}, &fakeJournal{}), http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDPropagated(t *testing.T) {
	h := newTestServer(t, &fakeSweeper{}, &fakeJournal{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestStatus(t *testing.T) {
	sw := &fakeSweeper{}
	h := newTestServer(t, sw, &fakeJournal{})

	rec := do(h, http.MethodGet, "/status")
	require.Equal(t, http.StatusNotFound, rec.Code)

	sw.last = &sweep.Result{Trigger: telemetry.TriggerScheduled, PackagesEvicted: 4}
	rec = do(h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got sweep.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, telemetry.TriggerScheduled, got.Trigger)
	assert.Equal(t, 4, got.PackagesEvicted)
}

func TestSweep(t *testing.T) {
	sw := &fakeSweeper{}
	h := newTestServer(t, sw, &fakeJournal{})

	rec := do(h, http.MethodPost, "/sweep")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, telemetry.TriggerManual, sw.runTrigger)

	var got sweep.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, uint64(30), got.BytesReclaimed)

	rec = do(h, http.MethodGet, "/sweep")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSweep_Error(t *testing.T) {
	sw := &fakeSweeper{runNowError: errors.New("boom")}
	rec := do(newTestServer(t, sw, &fakeJournal{}), http.MethodPost, "/sweep")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMakeSpace(t *testing.T) {
	sw := &fakeSweeper{makeSpace: func(required uint64) (*sweep.Result, error) {
		return &sweep.Result{Trigger: telemetry.TriggerMakeSpace, BytesReclaimed: required}, nil
	}}
	h := newTestServer(t, sw, &fakeJournal{})

	rec := do(h, http.MethodPost, "/make-space?bytes=4096")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(4096), sw.required)
}

func TestMakeSpace_Insufficient(t *testing.T) {
	sw := &fakeSweeper{makeSpace: func(required uint64) (*sweep.Result, error) {
		return &sweep.Result{}, &retention.InsufficientCacheSpaceError{SpaceFound: 10, SpaceRequired: required}
	}}
	h := newTestServer(t, sw, &fakeJournal{})

	rec := do(h, http.MethodPost, "/make-space?bytes=100")
	require.Equal(t, http.StatusConflict, rec.Code)

	var body makeSpaceConflict
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, uint64(10), body.SpaceFound)
	assert.Equal(t, uint64(100), body.SpaceRequired)
	assert.NotEmpty(t, body.Error)
}

func TestMakeSpace_BadRequest(t *testing.T) {
	sw := &fakeSweeper{}
	h := newTestServer(t, sw, &fakeJournal{})

	for _, target := range []string{"/make-space", "/make-space?bytes=-1", "/make-space?bytes=lots"} {
		t.Run(target, func(t *testing.T) {
			rec := do(h, http.MethodPost, target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestJournal(t *testing.T) {
	j := &fakeJournal{
		age: 7,
		entries: []journal.Entry{
			entry(t, "Acme.Api", "1.0.0", 10),
			entry(t, "Acme.Web", "2.0.0", 20),
			entry(t, "acme.api", "1.1.0", 30),
		},
	}
	h := newTestServer(t, &fakeSweeper{}, j)

	rec := do(h, http.MethodGet, "/journal")
	require.Equal(t, http.StatusOK, rec.Code)

	var all journalResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&all))
	assert.Equal(t, journal.CacheAge(7), all.CacheAge)
	assert.Equal(t, uint64(60), all.TotalBytes)
	assert.Len(t, all.Entries, 3)

	rec = do(h, http.MethodGet, "/journal?package=ACME.API")
	require.Equal(t, http.StatusOK, rec.Code)

	var filtered journalResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&filtered))
	assert.Equal(t, uint64(40), filtered.TotalBytes)
	require.Len(t, filtered.Entries, 2)
	assert.Equal(t, "acme.api@1.1.0", filtered.Entries[1].Package.Key())
}

func TestJournal_Empty(t *testing.T) {
	rec := do(newTestServer(t, &fakeSweeper{}, &fakeJournal{}), http.MethodGet, "/journal")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entries":[]`)
}

func TestMetrics_NotEnabled(t *testing.T) {
	rec := do(newTestServer(t, &fakeSweeper{}, &fakeJournal{}), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
