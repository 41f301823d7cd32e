package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/logger"
	"github.com/classcall/classcall/server/multierr"
	"github.com/classcall/classcall/server/store"
	"github.com/classcall/classcall/server/uuid"
	"github.com/go-chi/chi"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Mux struct {
	BaseURL string

	log        logger.Logger
	handler    *chi.Mux
	clk        clock.Clock
	store      store.Store
	iceServers []ICEServer
	version    string
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.handler.ServeHTTP(w, r)
}

func withCounter(counter prometheus.Counter, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counter.Inc()
		h.ServeHTTP(w, r)
	}
}

func NewMux(
	log logger.Logger,
	baseURL string,
	version string,
	clk clock.Clock,
	st store.Store,
	iceServers []ICEServer,
	prom PrometheusConfig,
) *Mux {
	log = log.WithNamespaceAppended("mux")

	handler := chi.NewRouter()
	mux := &Mux{
		BaseURL:    baseURL,
		log:        log,
		handler:    handler,
		clk:        clk,
		store:      st,
		iceServers: iceServers,
		version:    version,
	}

	var root string
	if baseURL == "" {
		root = "/"
	} else {
		root = baseURL
	}

	gateway := NewGateway(log, st)

	handler.Route(root, func(router chi.Router) {
		router.Post("/rooms", withCounter(prometheusRoomCreateTotal, mux.routeCreateRoom))
		router.Get("/rooms/{roomID}/config", mux.routeRoomConfig)
		router.Get("/probes/liveness", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
		})
		router.Get("/probes/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
		})
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			accessToken := r.Header.Get("Authorization")
			if strings.HasPrefix(accessToken, "Bearer ") {
				accessToken = accessToken[len("Bearer "):]
			} else {
				accessToken = r.FormValue("access_token")
			}

			if accessToken == "" || accessToken != prom.AccessToken {
				w.WriteHeader(http.StatusUnauthorized)

				return
			}
			promhttp.Handler().ServeHTTP(w, r)
		})

		router.Mount("/ws", gateway)
	})

	return mux
}

// CreateRoomRequest carries the participant identities stamped on the call
// record when a room is created.
type CreateRoomRequest struct {
	TutorID     string `json:"tutorId"`
	TutorName   string `json:"tutorName"`
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
}

type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}

func (mux *Mux) routeCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest

	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)

			return
		}
	}

	roomID := store.RoomID(uuid.New())

	ended := false
	err := mux.store.SetCall(roomID, store.CallFields{
		Ended:       &ended,
		TutorID:     &req.TutorID,
		TutorName:   &req.TutorName,
		StudentID:   &req.StudentID,
		StudentName: &req.StudentName,
	})
	if err != nil {
		mux.log.Error("Create room", errors.Trace(err), logger.Ctx{
			"room_id": roomID,
		})
		http.Error(w, "create room", http.StatusInternalServerError)

		return
	}

	mux.log.Info("Room created", logger.Ctx{
		"room_id": roomID,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)

	_ = json.NewEncoder(w).Encode(CreateRoomResponse{
		RoomID: roomID.String(),
	})
}

func (mux *Mux) routeRoomConfig(w http.ResponseWriter, r *http.Request) {
	roomID := store.RoomID(chi.URLParam(r, "roomID"))

	if _, err := mux.store.GetCall(roomID); err != nil {
		if multierr.Is(err, store.ErrRoomNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)

			return
		}

		mux.log.Error("Get room", errors.Trace(err), logger.Ctx{
			"room_id": roomID,
		})
		http.Error(w, "get room", http.StatusInternalServerError)

		return
	}

	config := ClientConfig{
		BaseURL:    mux.BaseURL,
		RoomID:     roomID.String(),
		GatewayURL: mux.gatewayURL(r),
		ICEServers: GetICEAuthServers(mux.clk, mux.iceServers),
	}

	w.Header().Set("Content-Type", "application/json")

	_ = json.NewEncoder(w).Encode(config)
}

// gatewayURL points peers at the websocket gateway of the same deployment
// the config was fetched from.
func (mux *Mux) gatewayURL(r *http.Request) string {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}

	return scheme + "://" + r.Host + mux.BaseURL + "/ws"
}
