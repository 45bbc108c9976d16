package firewall

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/archive"
	"github.com/algorand-firewall-service/internal/config"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/store"
)

const (
	ddosBurstNS  = "ddos:burst:"
	ddosMinuteNS = "ddos:minute:"
	ddosHourNS   = "ddos:hour:"
	ddosEventNS  = "ddos:event:"
)

// DDoSGuard tracks per-IP request volume across three rolling windows. It
// runs before authentication, so it sees every request including the ones
// with garbage keys.
type DDoSGuard struct {
	kv    store.KV
	sec   config.SecurityConfig
	arch  archive.Archive
	clock clock
}

func NewDDoSGuard(kv store.KV, sec config.SecurityConfig, arch archive.Archive) *DDoSGuard {
	return &DDoSGuard{kv: kv, sec: sec, arch: arch, clock: timeNowClock{}}
}

// Check counts this request in all three windows and applies the tightest
// violated threshold. The burst window outranks the minute window, which
// outranks the hour window.
func (g *DDoSGuard) Check(ctx context.Context, clientIP string) *model.DDoSDecision {
	burst, err := g.kv.Incr(ctx, ddosBurstNS+clientIP, g.sec.DDoSBurstWindow)
	if err != nil {
		return g.failDecision(err, clientIP)
	}
	minute, err := g.kv.Incr(ctx, ddosMinuteNS+clientIP, g.sec.DDoSMinuteWindow)
	if err != nil {
		return g.failDecision(err, clientIP)
	}
	hour, err := g.kv.Incr(ctx, ddosHourNS+clientIP, g.sec.DDoSHourWindow)
	if err != nil {
		return g.failDecision(err, clientIP)
	}

	threatLevel := float64(minute) / float64(g.sec.DDoSMinuteLimit) * 5
	if threatLevel > 10 {
		threatLevel = 10
	}

	decision := &model.DDoSDecision{
		Action:      model.ActionAllow,
		Remaining:   remaining(g.sec.DDoSMinuteLimit, minute),
		ThreatLevel: threatLevel,
	}
	switch {
	case burst > g.sec.DDoSBurstLimit:
		decision.Action = model.ActionBlock
		decision.Window = "burst"
		decision.Count = burst
		decision.RetryAfter = g.sec.DDoSBlockRetry
	case minute > g.sec.DDoSMinuteLimit:
		decision.Action = model.ActionThrottle
		decision.Window = "minute"
		decision.Count = minute
		decision.RetryAfter = g.sec.DDoSThrottleRetry
	case hour > g.sec.DDoSHourLimit:
		decision.Action = model.ActionCaptcha
		decision.Window = "hour"
		decision.Count = hour
		decision.RetryAfter = g.sec.DDoSCaptchaRetry
	}

	if decision.Action != model.ActionAllow {
		g.recordEvent(ctx, clientIP, decision)
	}
	return decision
}

func remaining(limit, count int64) int64 {
	if count >= limit {
		return 0
	}
	return limit - count
}

// recordEvent keeps a short-lived copy in the store for the dashboard and
// hands a durable row to the archive.
func (g *DDoSGuard) recordEvent(ctx context.Context, clientIP string, decision *model.DDoSDecision) {
	event := &model.DDoSEvent{
		ID:        uuid.New(),
		ClientIP:  clientIP,
		Window:    decision.Window,
		Count:     decision.Count,
		Action:    decision.Action,
		Timestamp: g.clock.Now(),
	}

	raw, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode ddos event")
		return
	}
	if err := g.kv.Set(ctx, ddosEventNS+clientIP+":"+event.ID.String(), string(raw), g.sec.DDoSEventTTL); err != nil {
		log.Error().Err(err).Str("client_ip", clientIP).Msg("failed to store ddos event")
	}
	if g.arch != nil {
		if err := g.arch.SaveDDoSEvent(ctx, event); err != nil {
			log.Error().Err(err).Str("client_ip", clientIP).Msg("failed to archive ddos event")
		}
	}

	log.Warn().
		Str("client_ip", clientIP).
		Str("window", decision.Window).
		Int64("count", decision.Count).
		Str("action", string(decision.Action)).
		Msg("ddos threshold exceeded")
}

// failDecision applies the limiter failure policy when the counters are
// unreachable.
func (g *DDoSGuard) failDecision(err error, clientIP string) *model.DDoSDecision {
	log.Error().Err(err).Str("client_ip", clientIP).Msg("ddos counter store failed")
	if g.sec.LimiterOnStoreError == config.PolicyDeny {
		return &model.DDoSDecision{
			Action:     model.ActionBlock,
			RetryAfter: g.sec.DDoSThrottleRetry,
		}
	}
	return &model.DDoSDecision{Action: model.ActionAllow, Remaining: g.sec.DDoSMinuteLimit}
}
