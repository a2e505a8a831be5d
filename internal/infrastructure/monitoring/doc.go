/*
Package monitoring provides metrics collection for the block pipeline.

# Overview

Metrics live on a private Prometheus registry owned by each *Metrics, so
several servers (or tests) can coexist in one process. Every recording
method accepts a nil receiver and does nothing, which lets the domain
packages run without metrics wired.

# Features

- HTTP request metrics (latency, throughput, size)
- Block lifecycle metrics (submitted, finalized by status, duration)
- Output batching and dispatch latency
- Broadcast channel outcomes and degraded pipeline conditions
- Session and WebSocket connection gauges

# Usage

	metrics := monitoring.NewMetrics()
	defer metrics.Close()

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", metrics.GinHandler())

	timer := monitoring.NewTimer(metrics)
	// ... write the command ...
	timer.Stop("success")
*/
package monitoring
