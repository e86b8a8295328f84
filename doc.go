// Package ephemeral runs throwaway service containers (databases, brokers, search engines) for
// integration tests.
//
// A run pulls the service image, starts one container under a per-run unique name, waits for
// the service's readiness probe, calls the test body with the connection data and always tears
// the container down:
//
//	import _ "github.com/pressly/ephemeral/pkg/service/postgres"
//
//	func TestOrders(t *testing.T) {
//		ephemeral.RunT(t, "postgres", func(ctx context.Context, data ephemeral.ConnectionData) error {
//			conn, err := pgx.Connect(ctx, data.ConnInfo())
//			if err != nil {
//				return err
//			}
//			defer conn.Close(ctx)
//			// ...
//			return nil
//		})
//	}
//
// Container stderr lines are reported as diagnostics (t.Log under RunT). The default cli
// runtime runs docker with a TTY, which merges stderr into stdout; set EPHEMERAL_RUNTIME=engine
// to receive stderr diagnostics, or use WithStdoutHook to see the merged output.
//
// A missing docker daemon, an unknown image or a service that is too slow to start skips the
// test instead of failing it. Only an error or panic from the body fails it, after teardown.
package ephemeral
