package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/engage/internal/adapters/http/ws"
	"github.com/okian/engage/internal/adapters/pubsub"
	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/pkg/logger"
)

// startHub serves the hub over httptest and runs it until the test ends.
func startHub(t *testing.T, bus *pubsub.Bus) (string, *ws.Hub) {
	t.Helper()
	hub := ws.New(bus, ws.WithLogger(logger.NewNop()))
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestHub(t *testing.T) {
	Convey("Given a hub fed by a bus", t, func() {
		bus := pubsub.NewBus(pubsub.WithLogger(logger.NewNop()))
		url, hub := startHub(t, bus)
		So(waitFor(func() bool { return bus.Subscribers() == 1 }), ShouldBeTrue)

		Convey("When two clients are connected and a score changes", func() {
			a := dial(t, url)
			b := dial(t, url)
			So(waitFor(func() bool { return hub.Count() == 2 }), ShouldBeTrue)

			at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			for _, n := range pubsub.ScoreNotifications(model.Lead{ID: "l", CurrentScore: 15}, model.EventEmailOpen, at) {
				bus.Publish(context.Background(), n)
			}

			Convey("Then each client receives both envelopes in order", func() {
				for _, conn := range []*websocket.Conn{a, b} {
					_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
					_, raw, err := conn.ReadMessage()
					So(err, ShouldBeNil)
					var first struct {
						Event string         `json:"event"`
						Data  map[string]any `json:"data"`
					}
					So(json.Unmarshal(raw, &first), ShouldBeNil)
					So(first.Event, ShouldEqual, "score-updated")
					So(first.Data["leadId"], ShouldEqual, "l")
					So(first.Data["newScore"], ShouldEqual, 15.0)

					_, raw, err = conn.ReadMessage()
					So(err, ShouldBeNil)
					So(string(raw), ShouldEqual, `{"event":"leaderboard-updated"}`)
				}
			})
		})

		Convey("When a client disconnects", func() {
			c := dial(t, url)
			So(waitFor(func() bool { return hub.Count() == 1 }), ShouldBeTrue)
			_ = c.Close()

			Convey("Then it is unregistered", func() {
				So(waitFor(func() bool { return hub.Count() == 0 }), ShouldBeTrue)
			})
		})
	})
}
