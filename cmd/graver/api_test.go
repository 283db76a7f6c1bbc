package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/graver/coord"
	"github.com/mastercactapus/graver/machine"
	"github.com/mastercactapus/graver/vm"
)

func newTestAPI(t *testing.T) (*api, *vm.Device) {
	t.Helper()
	dev := vm.NewDevice()
	m := machine.NewWithOpener("sim", dev.Open)
	s := machine.NewSync(context.Background(), m)
	require.NoError(t, s.Open())
	t.Cleanup(func() {
		s.Close()
		s.Stop()
	})
	return newAPI(s, m.History()), dev
}

func do(a *api, method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	return rec
}

func TestAPI_MoveAndPosition(t *testing.T) {
	a, dev := newTestAPI(t)

	rec := do(a, "POST", "/api/move", url.Values{"x": {"10"}, "c": {"90"}, "w": {"1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"sent":true}`, rec.Body.String())
	assert.Equal(t, coord.Point{X: 10, C: 90}, dev.Position())

	rec = do(a, "POST", "/api/move", url.Values{"relative": {"1"}, "x": {"-2.5"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(a, "GET", "/api/position", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var p coord.Point
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, coord.Point{X: 7.5, C: 90}, p)

	rec = do(a, "POST", "/api/move", url.Values{"x": {"abc"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_SetPosition(t *testing.T) {
	a, dev := newTestAPI(t)

	rec := do(a, "POST", "/api/position", url.Values{"z": {"5"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, dev.Received(), "G92 Z5.000000")
}

func TestAPI_Trace(t *testing.T) {
	a, dev := newTestAPI(t)

	req := httptest.NewRequest("POST", "/api/trace", strings.NewReader(`{"x":[1,2,3,4]}`))
	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"sent":true}`, rec.Body.String())
	assert.Equal(t, coord.Point{X: 4}, dev.Position())

	req = httptest.NewRequest("POST", "/api/trace", strings.NewReader(`{"x":[1,2,3,4],"y":[1,2,3]}`))
	rec = httptest.NewRecorder()
	a.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(a, "GET", "/api/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var segs []machine.Segment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &segs))
	require.Len(t, segs, 1)
	assert.Len(t, segs[0].Points, 5)
}

func TestAPI_Endstops(t *testing.T) {
	a, _ := newTestAPI(t)

	rec := do(a, "GET", "/api/endstops", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"X":true,"Y":true,"Z":true,"C":false}`, rec.Body.String())
}

func TestAPI_Motors(t *testing.T) {
	a, dev := newTestAPI(t)

	rec := do(a, "POST", "/api/motors", url.Values{"on": {"1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, dev.MotorsOn())
}

func TestAPI_Tool(t *testing.T) {
	a, _ := newTestAPI(t)

	rec := do(a, "POST", "/api/tool", url.Values{"size": {"0"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(a, "POST", "/api/tool", url.Values{"size": {"x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(a, "POST", "/api/tool", url.Values{"size": {"2"}, "feedRate": {"300"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(a, "GET", "/api/tool", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAPI_HistoryEvents(t *testing.T) {
	a, _ := newTestAPI(t)
	srv := httptest.NewServer(a)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+historyChannel, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := make(chan string)
	go func() {
		scan := bufio.NewScanner(resp.Body)
		for scan.Scan() {
			line, ok := strings.CutPrefix(scan.Text(), "data:")
			if !ok {
				continue
			}
			select {
			case data <- strings.TrimSpace(line):
			case <-ctx.Done():
				return
			}
		}
	}()

	type event struct {
		Kind  string      `json:"kind"`
		Point coord.Point `json:"point"`
	}

	// the stream may register after the first move, so keep moving
	// until one is seen
	deadline := time.After(5 * time.Second)
	for x := 1; ; x++ {
		rec := do(a, "POST", "/api/move", url.Values{"x": {strconv.Itoa(x)}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		wait := time.After(200 * time.Millisecond)
	read:
		for {
			select {
			case line := <-data:
				var e event
				require.NoError(t, json.Unmarshal([]byte(line), &e), line)
				if e.Point.X == 0 {
					continue
				}
				assert.Equal(t, "point-appended", e.Kind)
				assert.LessOrEqual(t, e.Point.X, float64(x))
				return
			case <-wait:
				break read
			case <-deadline:
				t.Fatal("no history event received")
			}
		}
	}
}
