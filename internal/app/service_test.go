package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/engage/internal/app"
	"github.com/okian/engage/internal/adapters/mq/queue"
	"github.com/okian/engage/internal/domain/model"
	"github.com/okian/engage/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func event(id, lead, eventType, ts string) model.EventInput {
	return model.EventInput{EventID: id, LeadID: lead, EventType: eventType, Timestamp: ts}
}

// brokenQueue refuses every enqueue.
type brokenQueue struct {
	*queue.InMemoryQueue
}

func (brokenQueue) Enqueue(context.Context, model.Job) (model.Job, error) {
	return model.Job{}, errors.New("queue unavailable")
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()
		defer svc.Stop()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Bus(), ShouldNotBeNil)
			stats := svc.GetStats(context.Background())
			So(stats["workerCount"], ShouldEqual, 5)
			So(stats["started"], ShouldEqual, false)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(
			service.WithWorkerCount(8),
			service.WithDedupeSize(25_000),
			service.WithDefaultMaxScore(500),
			service.WithMaxPageLimit(10),
		)
		defer svc.Stop()

		Convey("Then it should be created successfully", func() {
			So(svc, ShouldNotBeNil)
			So(svc.GetStats(context.Background())["workerCount"], ShouldEqual, 8)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithWorkerCount(2))
		defer svc.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("When starting the service", func() {
			err := svc.Start(ctx)

			Convey("Then it should start and seed the default rules", func() {
				So(err, ShouldBeNil)
				So(svc.GetStats(ctx)["started"], ShouldEqual, true)

				rules, err := svc.Rules(ctx)
				So(err, ShouldBeNil)
				So(len(rules), ShouldEqual, 5)
				So(rules[4].EventType, ShouldEqual, model.EventPurchase)
				So(rules[4].Points, ShouldEqual, 100)
			})

			Convey("And starting twice is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})
		})

		Convey("When stopping a started service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			svc.Stop()

			Convey("Then it should be marked as stopped and refuse to restart", func() {
				So(svc.GetStats(ctx)["started"], ShouldEqual, false)
				So(errors.Is(svc.Start(ctx), service.ErrStopped), ShouldBeTrue)
			})
		})
	})
}

func TestService_SubmitEvent(t *testing.T) {
	Convey("Given a service without running workers", t, func() {
		q := queue.NewInMemoryQueue()
		svc := service.New(service.WithQueue(q))
		defer svc.Stop()
		ctx := context.Background()

		Convey("When an event is submitted", func() {
			res, err := svc.SubmitEvent(ctx, event("evt-1", "jane@example.com", "PAGE_VIEW", "2024-01-01T10:00:00Z"))

			Convey("Then it is accepted, stored unprocessed and enqueued once", func() {
				So(err, ShouldBeNil)
				So(res.Accepted, ShouldBeTrue)
				So(res.Duplicate, ShouldBeFalse)
				So(res.Event, ShouldNotBeNil)
				So(res.Event.Processed, ShouldBeFalse)
				So(res.Event.Type, ShouldEqual, model.EventPageView)
				So(q.Stats(ctx).Waiting, ShouldEqual, 1)
			})

			Convey("And the lead is created on first sight", func() {
				page, err := svc.ListEvents(ctx, "jane@example.com", 1, 10)
				So(err, ShouldBeNil)
				So(page.Pagination.Total, ShouldEqual, 1)
				So(page.Events[0].LeadID, ShouldEqual, res.Event.LeadID)
			})

			Convey("And a resubmission is a duplicate without a second job", func() {
				again, err := svc.SubmitEvent(ctx, event("evt-1", "jane@example.com", "PURCHASE", "2024-01-02T10:00:00Z"))
				So(err, ShouldBeNil)
				So(again.Duplicate, ShouldBeTrue)
				So(again.Accepted, ShouldBeFalse)
				So(q.Stats(ctx).Waiting, ShouldEqual, 1)
			})
		})

		Convey("When the event is malformed", func() {
			_, err := svc.SubmitEvent(ctx, event("evt-2", "jane@example.com", "WEBINAR", "2024-01-01T10:00:00Z"))

			Convey("Then ErrInvalidEvent is returned and nothing is queued", func() {
				So(errors.Is(err, service.ErrInvalidEvent), ShouldBeTrue)
				So(errors.Is(err, model.ErrUnknownEventType), ShouldBeTrue)
				So(q.Stats(ctx).Waiting, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a service whose queue refuses work", t, func() {
		svc := service.New(service.WithQueue(brokenQueue{queue.NewInMemoryQueue()}))
		defer svc.Stop()
		ctx := context.Background()

		Convey("When an event is submitted", func() {
			_, err := svc.SubmitEvent(ctx, event("evt-1", "lead-1", "EMAIL_OPEN", "2024-01-01T10:00:00Z"))

			Convey("Then ErrEnqueue is returned", func() {
				So(errors.Is(err, service.ErrEnqueue), ShouldBeTrue)
			})

			Convey("And no event row is left behind without a job", func() {
				page, err := svc.ListEvents(ctx, "lead-1", 1, 10)
				So(err, ShouldBeNil)
				So(len(page.Events), ShouldEqual, 0)
			})

			Convey("And a resubmission is not reported as a duplicate", func() {
				_, err := svc.SubmitEvent(ctx, event("evt-1", "lead-1", "EMAIL_OPEN", "2024-01-01T10:00:00Z"))
				So(errors.Is(err, service.ErrEnqueue), ShouldBeTrue)
			})
		})
	})
}

func TestService_SubmitEventBatch(t *testing.T) {
	Convey("Given a service", t, func() {
		svc := service.New()
		defer svc.Stop()
		ctx := context.Background()

		Convey("When a batch repeats one event id and carries one bad item", func() {
			res := svc.SubmitEventBatch(ctx, []model.EventInput{
				event("b-1", "lead-1", "PAGE_VIEW", "2024-01-01T10:00:00Z"),
				event("b-2", "lead-1", "EMAIL_OPEN", "2024-01-01T11:00:00Z"),
				event("b-1", "lead-1", "PAGE_VIEW", "2024-01-01T10:00:00Z"),
				event("b-3", "", "PAGE_VIEW", "2024-01-01T12:00:00Z"),
			})

			Convey("Then every item is reported independently", func() {
				So(res.Success, ShouldBeFalse)
				So(res.Processed, ShouldEqual, 3)
				So(res.Accepted, ShouldEqual, 2)
				So(res.Duplicates, ShouldEqual, 1)
				So(res.Errors, ShouldEqual, 1)
				So(len(res.Results), ShouldEqual, 3)
				So(res.ErrorDetails[0].Index, ShouldEqual, 3)
				So(res.ErrorDetails[0].EventID, ShouldEqual, "b-3")
			})
		})

		Convey("When every item succeeds", func() {
			res := svc.SubmitEventBatch(ctx, []model.EventInput{
				event("c-1", "lead-2", "PAGE_VIEW", "2024-01-01T10:00:00Z"),
			})

			Convey("Then the batch is successful", func() {
				So(res.Success, ShouldBeTrue)
				So(res.Processed, ShouldEqual, 1)
				So(res.ErrorDetails, ShouldBeEmpty)
			})
		})
	})
}

func TestService_ListEvents(t *testing.T) {
	Convey("Given a lead with three events", t, func() {
		svc := service.New(service.WithMaxPageLimit(50))
		defer svc.Stop()
		ctx := context.Background()

		for _, in := range []model.EventInput{
			event("e-1", "lead-1", "PAGE_VIEW", "2024-01-01T10:00:00Z"),
			event("e-3", "lead-1", "PURCHASE", "2024-01-03T10:00:00Z"),
			event("e-2", "lead-1", "EMAIL_OPEN", "2024-01-02T10:00:00Z"),
		} {
			_, err := svc.SubmitEvent(ctx, in)
			So(err, ShouldBeNil)
		}

		Convey("When listing the second page of size two", func() {
			page, err := svc.ListEvents(ctx, "lead-1", 2, 2)

			Convey("Then the oldest event is returned with totals", func() {
				So(err, ShouldBeNil)
				So(len(page.Events), ShouldEqual, 1)
				So(page.Events[0].EventID, ShouldEqual, "e-1")
				So(page.Pagination.Total, ShouldEqual, 3)
				So(page.Pagination.TotalPages, ShouldEqual, 2)
			})
		})

		Convey("When listing the first page", func() {
			page, err := svc.ListEvents(ctx, "lead-1", 1, 2)

			Convey("Then events are newest first by event time", func() {
				So(err, ShouldBeNil)
				So(page.Events[0].EventID, ShouldEqual, "e-3")
				So(page.Events[1].EventID, ShouldEqual, "e-2")
			})
		})

		Convey("When the lead is unknown", func() {
			page, err := svc.ListEvents(ctx, "nobody", 1, 10)

			Convey("Then the page is empty", func() {
				So(err, ShouldBeNil)
				So(page.Events, ShouldBeEmpty)
				So(page.Pagination.Total, ShouldEqual, 0)
			})
		})

		Convey("When pagination is out of range", func() {
			_, err1 := svc.ListEvents(ctx, "lead-1", 0, 10)
			_, err2 := svc.ListEvents(ctx, "lead-1", 1, 51)
			_, err3 := svc.ScoreHistory(ctx, "lead-1", 1, 0)
			_, err4 := svc.Leaderboard(ctx, 0)

			Convey("Then ErrInvalidPagination is returned", func() {
				So(errors.Is(err1, service.ErrInvalidPagination), ShouldBeTrue)
				So(errors.Is(err2, service.ErrInvalidPagination), ShouldBeTrue)
				So(errors.Is(err3, service.ErrInvalidPagination), ShouldBeTrue)
				So(errors.Is(err4, service.ErrInvalidPagination), ShouldBeTrue)
			})
		})
	})
}
