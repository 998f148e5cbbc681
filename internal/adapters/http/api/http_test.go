package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/engage/internal/adapters/http/api"
	service "github.com/okian/engage/internal/app"
	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/internal/domain/types"
	"github.com/okian/engage/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// unreachable reports the store as down.
type unreachable struct {
	*service.Service
}

func (unreachable) Ready(context.Context) error { return errors.New("connection refused") }

func newMux(deps api.Dependencies, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, opts...).Register(mux)
	return mux
}

func do(mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Events(t *testing.T) {
	Convey("Given the API over an unstarted service", t, func() {
		svc := service.New()
		defer svc.Stop()
		mux := newMux(svc, api.WithMaxBatchSize(3))

		Convey("When a valid event is posted", func() {
			body := `{"event_id":"e-1","lead_id":"jane@example.com","event_type":"PURCHASE","timestamp":"2024-01-01T10:00:00Z"}`
			w := do(mux, http.MethodPost, "/events", body)

			Convey("Then it is accepted with 202", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Header().Get("Content-Type"), ShouldContainSubstring, "application/json")
				var ack map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &ack), ShouldBeNil)
				So(ack["status"], ShouldEqual, "accepted")
				So(ack["duplicate"], ShouldEqual, false)
			})

			Convey("And the webhook alias reports the replay as a duplicate", func() {
				w := do(mux, http.MethodPost, "/webhooks/events", body)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"duplicate":true`)
			})

			Convey("And the lead and its events are readable", func() {
				w := do(mux, http.MethodGet, "/leads/jane@example.com", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var lead model.Lead
				So(json.Unmarshal(w.Body.Bytes(), &lead), ShouldBeNil)
				So(lead.ID, ShouldEqual, "jane@example.com")
				So(lead.MaxScore, ShouldEqual, 1000)

				w = do(mux, http.MethodGet, "/leads/jane@example.com/events?page=1&limit=5", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				var page types.EventPage
				So(json.Unmarshal(w.Body.Bytes(), &page), ShouldBeNil)
				So(page.Pagination.Total, ShouldEqual, 1)
				So(page.Events[0].EventID, ShouldEqual, "e-1")
			})
		})

		Convey("When the event is invalid", func() {
			w := do(mux, http.MethodPost, "/events", `{"event_id":"e-2","lead_id":"x","event_type":"CLICK","timestamp":"2024-01-01"}`)

			Convey("Then 400 is returned with an error code", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, `"code":"bad_request"`)
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(mux, http.MethodPost, "/events", `not json`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a batch is posted as a bare array", func() {
			w := do(mux, http.MethodPost, "/events/batch", `[
				{"event_id":"b-1","lead_id":"l-1","event_type":"PAGE_VIEW","timestamp":"2024-01-01T10:00:00Z"},
				{"event_id":"b-1","lead_id":"l-1","event_type":"PAGE_VIEW","timestamp":"2024-01-01T10:00:00Z"},
				{"event_id":"b-2","lead_id":"","event_type":"PAGE_VIEW","timestamp":"2024-01-01T10:00:00Z"}
			]`)

			Convey("Then per-item outcomes are reported", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var res types.BatchResult
				So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
				So(res.Success, ShouldBeFalse)
				So(res.Processed, ShouldEqual, 2)
				So(res.Duplicates, ShouldEqual, 1)
				So(res.Errors, ShouldEqual, 1)
				So(res.ErrorDetails[0].Index, ShouldEqual, 2)
			})
		})

		Convey("When a wrapped batch is posted", func() {
			w := do(mux, http.MethodPost, "/events/batch", `{"events":[{"event_id":"w-1","lead_id":"l-2","event_type":"EMAIL_OPEN","timestamp":"2024-01-01T10:00:00Z"}]}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"success":true`)
		})

		Convey("When a batch is empty or too large", func() {
			empty := do(mux, http.MethodPost, "/events/batch", `{"events":[]}`)
			item := `{"event_id":"x","lead_id":"l","event_type":"PAGE_VIEW","timestamp":"2024-01-01"}`
			large := do(mux, http.MethodPost, "/events/batch", "["+strings.Repeat(item+",", 3)+item+"]")

			Convey("Then it is rejected", func() {
				So(empty.Code, ShouldEqual, http.StatusBadRequest)
				So(large.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			})
		})
	})
}

func TestServer_Reads(t *testing.T) {
	Convey("Given the API over a started service", t, func() {
		svc := service.New(service.WithMaxPageLimit(50))
		defer svc.Stop()
		So(svc.Start(context.Background()), ShouldBeNil)
		mux := newMux(svc)

		Convey("When listing scoring rules", func() {
			w := do(mux, http.MethodGet, "/scoring-rules", "")

			Convey("Then the seeded rules are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var rules []model.ScoringRule
				So(json.Unmarshal(w.Body.Bytes(), &rules), ShouldBeNil)
				So(len(rules), ShouldEqual, 5)
			})
		})

		Convey("When a rule's points are updated", func() {
			w := do(mux, http.MethodPut, "/scoring-rules/EMAIL_OPEN", `{"points":15}`)

			Convey("Then other fields are kept", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var rule model.ScoringRule
				So(json.Unmarshal(w.Body.Bytes(), &rule), ShouldBeNil)
				So(rule.Points, ShouldEqual, 15)
				So(rule.Enabled, ShouldBeTrue)
				So(rule.Description, ShouldEqual, "Default scoring rule for EMAIL_OPEN")
			})
		})

		Convey("When an unknown rule type or negative points are sent", func() {
			So(do(mux, http.MethodPut, "/scoring-rules/WEBINAR", `{"points":1}`).Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodPut, "/scoring-rules/PAGE_VIEW", `{"points":-1}`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a lead is created explicitly", func() {
			w := do(mux, http.MethodPost, "/leads", `{"email":"bob@example.com","company":"Acme","max_score":200}`)

			Convey("Then it is returned with 201", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(w.Body.String(), ShouldContainSubstring, `"max_score":200`)
			})

			Convey("And creating it again conflicts", func() {
				again := do(mux, http.MethodPost, "/leads", `{"email":"bob@example.com"}`)
				So(again.Code, ShouldEqual, http.StatusConflict)
			})
		})

		Convey("When reading an unknown lead", func() {
			So(do(mux, http.MethodGet, "/leads/nobody", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When pagination is out of range", func() {
			So(do(mux, http.MethodGet, "/leads/x/events?page=0", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/leads/x/history?limit=500", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/leads/x/events?limit=abc", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/leaderboard?limit=0", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When reading the leaderboard, failed jobs and stats", func() {
			So(do(mux, http.MethodGet, "/leaderboard", "").Code, ShouldEqual, http.StatusOK)
			So(do(mux, http.MethodGet, "/jobs/failed", "").Code, ShouldEqual, http.StatusOK)
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("When probing health and metrics", func() {
			So(do(mux, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
			So(do(mux, http.MethodGet, "/readyz", "").Code, ShouldEqual, http.StatusOK)
			So(do(mux, http.MethodGet, "/metrics", "").Code, ShouldEqual, http.StatusOK)
		})

		Convey("When the route or method is unknown", func() {
			So(do(mux, http.MethodGet, "/unknown", "").Code, ShouldEqual, http.StatusNotFound)
			So(do(mux, http.MethodDelete, "/events", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
			So(do(mux, http.MethodGet, "/ws", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})

	Convey("Given a store that cannot be reached", t, func() {
		svc := service.New()
		defer svc.Stop()
		mux := newMux(unreachable{svc})

		Convey("Then readiness fails while liveness holds", func() {
			So(do(mux, http.MethodGet, "/readyz", "").Code, ShouldEqual, http.StatusServiceUnavailable)
			So(do(mux, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
		})
	})
}
