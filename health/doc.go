// Package health provides a small health model shared by controlbus components.
//
// Queued endpoints, state machines and the NATS bridge implement Reporter.
// The runner aggregates them with Collect and serves the result on the
// metrics server's /health route:
//
//	status := health.Collect("controlbus", machine, bridge)
//	if !status.Healthy {
//	    // at least one component is unhealthy or degraded
//	}
package health
