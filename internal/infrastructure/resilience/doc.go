/*
Package resilience keeps the host from repeatedly starting workers that
cannot start.

The websocket handler runs worker construction and page hydration through a
Breaker. When page scripts keep throwing, the breaker opens and new
/session requests are answered 503 until the cooldown ends; /health reports
the host as degraded meanwhile. Half-open admits MaxRequests trial sessions;
if they all start, the breaker closes.

	Closed --(ReadyToTrip)--> Open --(Timeout)--> Half-Open --(MaxRequests successes)--> Closed
	                            ^                     |
	                            +------(failure)------+

Cancelled hydration is a client hanging up, not a broken page, so the host
configures IsSuccessful to accept context.Canceled:

	b := resilience.New("worker", resilience.Settings{
		Timeout:      30 * time.Second,
		ReadyToTrip:  func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 5 },
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, context.Canceled) },
	})

	w, err := resilience.Call(b, func() (*worker.Worker, error) {
		return start(ctx)
	})
*/
package resilience
