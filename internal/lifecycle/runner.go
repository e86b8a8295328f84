package lifecycle

import (
	"context"

	"github.com/pressly/ephemeral/pkg/service"
)

// Body is the user test code run against a ready service.
type Body func(ctx context.Context, data service.ConnectionData) error

// runBody calls body with data and captures both a returned error and a panic, so cleanup can
// run before the failure is surfaced. A body that exits the goroutine (t.FailNow) never returns
// here; deferred cleanup in the caller still runs.
func runBody(ctx context.Context, body Body, data service.ConnectionData) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = newPanicError(v)
		}
	}()
	return body(ctx, data)
}
