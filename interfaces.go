package caseforge

import (
	"context"
	"encoding/json"
)

// Gate reviews drafted artifacts. When provided via WithGate it replaces
// the built-in terminal console. The draft is the step artifact encoded
// as JSON; structured steps decode into one object, the automated-tests
// step into {"source": "..."}.
//
// Present blocks until the reviewer decides. There is no automatic
// confirmation path: returning VerdictConfirm is always an explicit act
// of the implementation.
type Gate interface {
	Present(ctx context.Context, step StepInfo, draft json.RawMessage) (Decision, error)
}
