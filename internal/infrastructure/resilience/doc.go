/*
Package resilience provides a circuit breaker.

The shell registry wraps process spawning in a Breaker so a broken shell
program (missing binary, bad arguments, exhausted PTYs) is reported
immediately instead of being retried by every session request.

	breaker := resilience.New("shell-spawn", resilience.Settings{
		Threshold: 3,
		Cooldown:  30 * time.Second,
	})
	err := breaker.Do(session.Start)

States:
  - Closed: calls run; consecutive failures are counted
  - Open: calls fail with ErrOpen until the cooldown passes
  - Half-open: one trial call decides between closed and open
*/
package resilience
