package main

import (
	"context"
	"log"
	"time"

	"github.com/arbiter-hq/arbiter/internal/alerts"
	"github.com/arbiter-hq/arbiter/internal/queue"
	"github.com/arbiter-hq/arbiter/internal/registry"
)

// runAlertsSweep polls queue depth and registry health on a fixed
// interval, handing each snapshot to checker. It runs until ctx is
// cancelled, the same cooperative-goroutine shape as the store's health
// prober and the orchestrator's timeout sweeper.
func runAlertsSweep(ctx context.Context, interval time.Duration, checker *alerts.Checker, q *queue.Queue, reg *registry.Registry, logger *log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checker.CheckQueueDepth(q.Size())

			agents, err := reg.ListAgents(ctx)
			if err != nil {
				logger.Printf("alerts: list agents: %v", err)
				continue
			}
			checker.CheckAgentHealth(agents, time.Now())

			stats, err := reg.GetStats(ctx)
			if err != nil {
				logger.Printf("alerts: get stats: %v", err)
				continue
			}
			checker.CheckSuccessRate(stats)
		}
	}
}
