package generation

import (
	"context"

	"basegraph.app/testgen/internal/model"
)

type Mode string

const (
	// ModeFull asks for the requirement inventory plus initial scenarios.
	ModeFull Mode = "full"
	// ModeCompletion asks only for scenarios of the named missing ids.
	ModeCompletion Mode = "completion"
)

type Request struct {
	Mode      Mode
	AnchorKey string
	Payload   model.Payload

	// Completion only.
	Inventory  []model.InventoryItem
	MissingIDs []int
	Round      int
}

// Response carries candidates exactly as the service produced them.
// Validation is the caller's job.
type Response struct {
	Inventory []model.InventoryItem // empty in completion mode
	Scenarios []model.Scenario
}

// Service is the generation boundary. Implementations return errors matching
// ErrOversizedRequest, ErrUnavailable, ErrMalformedResponse or *RateLimitError
// for the conditions the pipeline reacts to.
type Service interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
