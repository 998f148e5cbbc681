package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a metrics manager", t, func() {
		Convey("When created with a custom registry and options", func() {
			registry := prometheus.NewRegistry()
			m := NewManager(
				WithPrometheusRegistry(registry),
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
			)

			Convey("Then collectors are registered on that registry", func() {
				So(m.Registry(), ShouldEqual, registry)
				m.eventsAccepted.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				var found bool
				for _, f := range families {
					if f.GetName() == "test_unit_events_accepted_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldEqual, "test")
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When two managers are created with default options", func() {
			Convey("Then they do not collide on registration", func() {
				So(func() { NewManager(); NewManager() }, ShouldNotPanic)
			})
		})
	})
}

func TestPackageHelpers(t *testing.T) {
	Convey("Given the global manager", t, func() {
		m := Default()

		Convey("When intake counters are recorded", func() {
			before := testutil.ToFloat64(m.eventsAccepted)
			dupBefore := testutil.ToFloat64(m.eventsDuplicate)
			RecordEventAccepted()
			RecordEventDuplicate()
			RecordEventRejected("invalid")

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(m.eventsAccepted), ShouldEqual, before+1)
				So(testutil.ToFloat64(m.eventsDuplicate), ShouldEqual, dupBefore+1)
				So(testutil.ToFloat64(m.eventsRejected.WithLabelValues("invalid")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When a score mutation is recorded", func() {
			before := testutil.ToFloat64(m.scoreMutations)
			pointsBefore := testutil.ToFloat64(m.pointsAwarded.WithLabelValues("PURCHASE"))
			RecordScoreMutation("PURCHASE", 10)
			RecordScoreMutation("PURCHASE", 0)

			Convey("Then mutations and points are tracked separately", func() {
				So(testutil.ToFloat64(m.scoreMutations), ShouldEqual, before+2)
				So(testutil.ToFloat64(m.pointsAwarded.WithLabelValues("PURCHASE")), ShouldEqual, pointsBefore+10)
			})
		})

		Convey("When gauges are updated", func() {
			UpdateJobsByState("waiting", 7)
			UpdateWorkerCount(5)
			UpdateWSClients(2)

			Convey("Then they hold the last value", func() {
				So(testutil.ToFloat64(m.jobsByState.WithLabelValues("waiting")), ShouldEqual, 7)
				So(testutil.ToFloat64(m.workerCount), ShouldEqual, 5)
				So(testutil.ToFloat64(m.wsClients), ShouldEqual, 2)
			})
		})

		Convey("When remaining helpers are called", func() {
			Convey("Then none of them panic", func() {
				So(func() {
					RecordLeadCreated()
					RecordJobEnqueued()
					RecordEnqueueError()
					RecordJobOutcome(OutcomeApplied)
					RecordWorkerProcessingLatency(3)
					RecordScoreApplyLatency(1)
					RecordNotificationPublished("score-updated")
					RecordNotificationDropped()
					RecordHTTPRequest("events", "POST", "202")
					RecordHTTPRequestDuration("events", "POST", "202", 4)
				}, ShouldNotPanic)
				So(GetRegistry(), ShouldEqual, m.Registry())
			})
		})

		Convey("When an error response is recorded", func() {
			before := testutil.ToFloat64(m.httpErrors.WithLabelValues("events", "POST", "unavailable", "high"))
			RecordHTTPError("events", "POST", "unavailable", "high")

			Convey("Then it is counted under its code and severity", func() {
				So(testutil.ToFloat64(m.httpErrors.WithLabelValues("events", "POST", "unavailable", "high")), ShouldEqual, before+1)
			})
		})
	})
}
