package types_test

import (
	"encoding/json"
	"testing"

	types "github.com/okian/engage/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPagination(t *testing.T) {
	Convey("Given list sizes and page limits", t, func() {
		Convey("When the total divides evenly", func() {
			p := types.NewPagination(2, 20, 40)
			So(p.TotalPages, ShouldEqual, 2)
		})

		Convey("When the total has a remainder", func() {
			p := types.NewPagination(1, 20, 41)
			So(p.TotalPages, ShouldEqual, 3)
		})

		Convey("When the list is empty", func() {
			p := types.NewPagination(1, 20, 0)
			So(p.TotalPages, ShouldEqual, 0)
		})

		Convey("When computing offsets", func() {
			So(types.Offset(1, 20), ShouldEqual, 0)
			So(types.Offset(3, 20), ShouldEqual, 40)
			So(types.Offset(0, 20), ShouldEqual, 0)
		})
	})
}

func TestBatchResultJSON(t *testing.T) {
	Convey("Given a batch result", t, func() {
		res := types.BatchResult{
			Success:   false,
			Processed: 2,
			Errors:    1,
			ErrorDetails: []types.BatchItemError{
				{Index: 2, EventID: "e-3", Error: "missing lead_id"},
			},
		}

		Convey("When encoded", func() {
			b, err := json.Marshal(res)
			So(err, ShouldBeNil)

			var out map[string]any
			So(json.Unmarshal(b, &out), ShouldBeNil)

			Convey("Then it uses snake_case keys", func() {
				So(out["processed"], ShouldEqual, 2.0)
				So(out["errors"], ShouldEqual, 1.0)
				details := out["error_details"].([]any)
				So(details[0].(map[string]any)["event_id"], ShouldEqual, "e-3")
			})
		})
	})
}
