package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/classcall/classcall/server"
	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/store"
	"github.com/classcall/classcall/server/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const prometheusAccessToken = "prom1234"

func prom() server.PrometheusConfig {
	return server.PrometheusConfig{AccessToken: prometheusAccessToken}
}

func newMux(t *testing.T, baseURL string) (*server.Mux, store.Store) {
	t.Helper()

	log := test.NewLogger()
	st := store.NewMemoryStore(log, clock.New())

	t.Cleanup(func() {
		assert.NoError(t, st.Close())
	})

	iceServers := []server.ICEServer{{
		URLs: []string{"stun:stun.l.google.com:19302"},
	}}

	return server.NewMux(log, baseURL, "v0.0.0", clock.New(), st, iceServers, prom()), st
}

func Test_routeCreateRoom(t *testing.T) {
	mux, st := newMux(t, "/test")

	body, err := json.Marshal(server.CreateRoomRequest{
		TutorID:     "tutor-1",
		TutorName:   "Alice",
		StudentID:   "student-1",
		StudentName: "Bob",
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/test/rooms", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")

	mux.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)

	var res server.CreateRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.RoomID)

	record, err := st.GetCall(store.RoomID(res.RoomID))
	require.NoError(t, err)
	assert.False(t, record.Ended)
	assert.Equal(t, "tutor-1", record.TutorID)
	assert.Equal(t, "Alice", record.TutorName)
	assert.Equal(t, "student-1", record.StudentID)
	assert.Equal(t, "Bob", record.StudentName)
	assert.False(t, record.CreatedAt.IsZero())
}

func Test_routeCreateRoom_emptyBody(t *testing.T) {
	mux, _ := newMux(t, "")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/rooms", nil)

	mux.ServeHTTP(w, r)

	require.Equal(t, http.StatusCreated, w.Code)

	var res server.CreateRoomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.NotEmpty(t, res.RoomID)
}

func Test_routeRoomConfig(t *testing.T) {
	mux, st := newMux(t, "/test")

	ended := false
	require.NoError(t, st.SetCall("room1", store.CallFields{Ended: &ended}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/test/rooms/room1/config", nil)

	mux.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var config server.ClientConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &config))
	assert.Equal(t, "/test", config.BaseURL)
	assert.Equal(t, "room1", config.RoomID)
	assert.Equal(t, "ws://example.com/test/ws", config.GatewayURL)
	require.Len(t, config.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, config.ICEServers[0].URLs)
}

func Test_routeRoomConfig_notFound(t *testing.T) {
	mux, _ := newMux(t, "/test")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/test/rooms/missing/config", nil)

	mux.ServeHTTP(w, r)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func Test_probes(t *testing.T) {
	mux, _ := newMux(t, "")

	for _, url := range []string{"/probes/liveness", "/probes/health"} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", url, nil)

		mux.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code, url)
	}
}

func Test_Metrics(t *testing.T) {
	mux, _ := newMux(t, "/test")

	for _, testCase := range []struct {
		statusCode    int
		authorization string
		url           string
	}{
		{401, "", "/test/metrics"},
		{401, "Bearer ", "/test/metrics"},
		{401, "Bearer", "/test/metrics"},
		{401, "Bearer invalid-token", "/test/metrics"},
		{200, "Bearer " + prometheusAccessToken, "/test/metrics"},
		{200, "", "/test/metrics?access_token=" + prometheusAccessToken},
		{401, "", "/test/metrics?access_token=invalid_token"},
	} {
		t.Run("URL: "+testCase.url+", Authorization: "+testCase.authorization, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest("GET", testCase.url, nil)
			r.Header.Set("Authorization", testCase.authorization)

			mux.ServeHTTP(w, r)

			assert.Equal(t, testCase.statusCode, w.Code)
		})
	}
}
