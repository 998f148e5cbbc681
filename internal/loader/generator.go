package loader

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/okian/engage/internal/domain/model"
)

// Generate returns n synthetic events spread over leads distinct leads, with
// timestamps one second apart starting at start.
func Generate(n, leads int, start time.Time) []model.EventInput {
	if leads < 1 {
		leads = 1
	}
	events := make([]model.EventInput, n)
	for i := range events {
		events[i] = model.EventInput{
			EventID:   uuid.NewString(),
			LeadID:    fmt.Sprintf("lead-%d@example.com", rand.IntN(leads)),
			EventType: string(model.EventTypes[rand.IntN(len(model.EventTypes))]),
			Timestamp: start.Add(time.Duration(i) * time.Second).UTC().Format(time.RFC3339),
			Metadata:  map[string]any{"source": "load-events"},
		}
	}
	return events
}
