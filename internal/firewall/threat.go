package firewall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/archive"
	"github.com/algorand-firewall-service/internal/config"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/store"
)

const (
	fingerprintNS = "fp:"
	flashCountNS  = "flash:count:"
	avgAmountNS   = "avg:amount:"
	avgCountNS    = "avg:count:"
	rateIPNS      = "rate:ip:"
	rateKeyNS     = "rate:key:"
	mevListNS     = "mev:"
	alertListNS   = "alerts:"
)

const mevListDepth = 20

// ThreatDetector runs the behavioral heuristics over a transaction payload.
// The detector is advisory: it fires alerts and feeds the threat score, but
// never rejects a request on its own, and a broken store silently disables
// whichever checks need it.
type ThreatDetector struct {
	kv    store.KV
	sec   config.SecurityConfig
	arch  archive.Archive
	clock clock
}

func NewThreatDetector(kv store.KV, sec config.SecurityConfig, arch archive.Archive) *ThreatDetector {
	return &ThreatDetector{kv: kv, sec: sec, arch: arch, clock: timeNowClock{}}
}

// Analyze runs every heuristic against one payload. Each check contributes at
// most one alert; fired alerts are stamped with the request identity, kept in
// the per-key history and archived.
func (d *ThreatDetector) Analyze(ctx context.Context, sc *model.SecurityContext, p *model.TransactionPayload) []model.ThreatAlert {
	if p == nil {
		return nil
	}
	now := d.clock.Now()

	var alerts []model.ThreatAlert
	for _, alert := range []*model.ThreatAlert{
		d.checkReplay(ctx, sc.KeyHash, p, now),
		d.checkFlashLoan(ctx, p),
		d.checkAnomalousAmount(ctx, p),
		d.checkRateAbuse(ctx, sc.KeyHash, sc.ClientIP),
		d.checkMEV(ctx, p, now),
	} {
		if alert == nil {
			continue
		}
		alert.ID = uuid.New()
		alert.KeyHash = sc.KeyHash
		alert.KeyPrefix = sc.KeyPrefix
		alert.ClientIP = sc.ClientIP
		alert.Timestamp = now
		if alert.Wallet == "" {
			alert.Wallet = p.Sender
		}
		d.persist(ctx, alert)
		alerts = append(alerts, *alert)
	}
	return alerts
}

// checkReplay flags a payload whose fingerprint was already seen for this key
// inside the replay window. Every observation rewrites the fingerprint record
// so the window tracks the latest sighting.
func (d *ThreatDetector) checkReplay(ctx context.Context, keyHash string, p *model.TransactionPayload, now time.Time) *model.ThreatAlert {
	fp := detectorFingerprint(p)
	key := fingerprintNS + keyHash + ":" + fp

	var alert *model.ThreatAlert
	stored, err := d.kv.Get(ctx, key)
	switch {
	case err == nil:
		ts, perr := strconv.ParseInt(stored, 10, 64)
		if perr == nil {
			elapsed := now.Sub(time.Unix(0, ts))
			if elapsed >= 0 && elapsed < d.sec.ReplayWindow {
				alert = &model.ThreatAlert{
					Kind:        model.ThreatReplay,
					Severity:    model.SeverityHigh,
					Description: fmt.Sprintf("identical transaction fingerprint replayed after %.0fs", elapsed.Seconds()),
					Details: model.ReplayDetails{
						Fingerprint:    fp,
						ElapsedSeconds: elapsed.Seconds(),
					},
				}
			}
		}
	case !errors.Is(err, store.ErrNotFound):
		log.Error().Err(err).Msg("replay check store read failed")
		return nil
	}

	if err := d.kv.Set(ctx, key, strconv.FormatInt(now.UnixNano(), 10), d.sec.FingerprintTTL); err != nil {
		log.Error().Err(err).Msg("failed to record transaction fingerprint")
	}
	return alert
}

// checkFlashLoan counts transfers above the flash-loan floor per wallet; a
// burst of them inside one window is the borrow-use-repay shape.
func (d *ThreatDetector) checkFlashLoan(ctx context.Context, p *model.TransactionPayload) *model.ThreatAlert {
	if p.Sender == "" || p.Amount <= d.sec.FlashLoanFloor {
		return nil
	}
	count, err := d.kv.Incr(ctx, flashCountNS+p.Sender, d.sec.FlashWindow)
	if err != nil {
		log.Error().Err(err).Msg("flash loan counter failed")
		return nil
	}
	if count <= d.sec.FlashRecentLimit {
		return nil
	}
	return &model.ThreatAlert{
		Kind:        model.ThreatFlashLoan,
		Severity:    model.SeverityHigh,
		Description: fmt.Sprintf("%d transfers above the flash loan floor in the last minute", count),
		Wallet:      p.Sender,
		Details: model.FlashLoanDetails{
			Amount:      p.Amount,
			RecentCount: count,
		},
	}
}

// checkAnomalousAmount compares the amount against the wallet's running mean
// before folding the observation in. The two keys are written without a
// transaction; a lost update skews the mean slightly and nothing else.
func (d *ThreatDetector) checkAnomalousAmount(ctx context.Context, p *model.TransactionPayload) *model.ThreatAlert {
	if p.Sender == "" || p.Amount == 0 {
		return nil
	}
	avgKey := avgAmountNS + p.Sender
	countKey := avgCountNS + p.Sender

	var avg float64
	var count int64
	if raw, err := d.kv.Get(ctx, avgKey); err == nil {
		avg, _ = strconv.ParseFloat(raw, 64)
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Msg("amount average read failed")
		return nil
	}
	if raw, err := d.kv.Get(ctx, countKey); err == nil {
		count, _ = strconv.ParseInt(raw, 10, 64)
	} else if !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Msg("amount count read failed")
		return nil
	}

	var alert *model.ThreatAlert
	if count > 0 && avg > 0 {
		multiplier := float64(p.Amount) / avg
		if multiplier > d.sec.AnomalousMultiplier && p.Amount > d.sec.AnomalousFloor {
			alert = &model.ThreatAlert{
				Kind:        model.ThreatAnomalousAmount,
				Severity:    model.SeverityMedium,
				Description: fmt.Sprintf("amount is %.1fx the wallet's typical transfer", multiplier),
				Wallet:      p.Sender,
				Details: model.AnomalousAmountDetails{
					Amount:     p.Amount,
					Average:    avg,
					Multiplier: multiplier,
				},
			}
		}
	}

	newAvg := (avg*float64(count) + float64(p.Amount)) / float64(count+1)
	if err := d.kv.Set(ctx, avgKey, strconv.FormatFloat(newAvg, 'f', -1, 64), d.sec.AverageTTL); err != nil {
		log.Error().Err(err).Msg("amount average write failed")
	}
	if err := d.kv.Set(ctx, countKey, strconv.FormatInt(count+1, 10), d.sec.AverageTTL); err != nil {
		log.Error().Err(err).Msg("amount count write failed")
	}
	return alert
}

// checkRateAbuse counts calls per IP and per key in the rate window. The IP
// count trips the alert; the key count rides along in the details to show
// whether one key or many drive the traffic.
func (d *ThreatDetector) checkRateAbuse(ctx context.Context, keyHash, clientIP string) *model.ThreatAlert {
	ipCount, err := d.kv.Incr(ctx, rateIPNS+clientIP, d.sec.RateWindow)
	if err != nil {
		log.Error().Err(err).Msg("rate abuse ip counter failed")
		return nil
	}
	keyCount, err := d.kv.Incr(ctx, rateKeyNS+keyHash, d.sec.RateWindow)
	if err != nil {
		log.Error().Err(err).Msg("rate abuse key counter failed")
		return nil
	}
	if ipCount <= d.sec.RateAbuseLimit {
		return nil
	}
	return &model.ThreatAlert{
		Kind:        model.ThreatRateAbuse,
		Severity:    model.SeverityMedium,
		Description: fmt.Sprintf("%d requests from one ip inside the rate window", ipCount),
		Details: model.RateAbuseDetails{
			IPCount:  ipCount,
			KeyCount: keyCount,
		},
	}
}

// checkMEV looks for several transactions from one wallet packed into a few
// seconds, the shape of sandwich and front-running bursts. Only entries
// already in the list count; the current transaction is appended after.
func (d *ThreatDetector) checkMEV(ctx context.Context, p *model.TransactionPayload, now time.Time) *model.ThreatAlert {
	if p.Sender == "" {
		return nil
	}
	key := mevListNS + p.Sender

	entries, err := d.kv.LRange(ctx, key, 0, mevListDepth-1)
	if err != nil {
		log.Error().Err(err).Msg("mev history read failed")
		return nil
	}
	recent := 0
	for _, entry := range entries {
		ts, perr := strconv.ParseInt(entry, 10, 64)
		if perr != nil {
			continue
		}
		if since := now.Sub(time.Unix(0, ts)); since >= 0 && since <= d.sec.MEVSubWindow {
			recent++
		}
	}

	if err := d.kv.LPush(ctx, key, strconv.FormatInt(now.UnixNano(), 10)); err != nil {
		log.Error().Err(err).Msg("mev history write failed")
	} else {
		if err := d.kv.LTrim(ctx, key, 0, mevListDepth-1); err != nil {
			log.Error().Err(err).Msg("mev history trim failed")
		}
		if err := d.kv.Expire(ctx, key, d.sec.MEVWindow); err != nil {
			log.Error().Err(err).Msg("mev history expire failed")
		}
	}

	if recent < d.sec.MEVRecentMin {
		return nil
	}
	return &model.ThreatAlert{
		Kind:        model.ThreatMEVPattern,
		Severity:    model.SeverityMedium,
		Description: fmt.Sprintf("%d transactions within %.0fs suggests ordering manipulation", recent, d.sec.MEVSubWindow.Seconds()),
		Wallet:      p.Sender,
		Details: model.MEVDetails{
			RecentCount:   recent,
			WindowSeconds: d.sec.MEVSubWindow.Seconds(),
		},
	}
}

// persist appends the alert to the key's bounded history and hands it to the
// archive. Neither failure suppresses the alert.
func (d *ThreatDetector) persist(ctx context.Context, alert *model.ThreatAlert) {
	raw, err := json.Marshal(alert)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode threat alert")
	} else {
		key := alertListNS + alert.KeyHash
		if err := d.kv.LPush(ctx, key, string(raw)); err != nil {
			log.Error().Err(err).Msg("failed to store threat alert")
		} else {
			if err := d.kv.LTrim(ctx, key, 0, d.sec.AlertHistoryLimit-1); err != nil {
				log.Error().Err(err).Msg("failed to trim alert history")
			}
			if err := d.kv.Expire(ctx, key, d.sec.AlertTTL); err != nil {
				log.Error().Err(err).Msg("failed to expire alert history")
			}
		}
	}

	if d.arch != nil {
		if err := d.arch.SaveAlert(ctx, alert); err != nil {
			log.Error().Err(err).Msg("failed to archive threat alert")
		}
	}

	log.Warn().
		Str("kind", string(alert.Kind)).
		Str("severity", string(alert.Severity)).
		Str("key_prefix", alert.KeyPrefix).
		Str("wallet", alert.Wallet).
		Str("client_ip", alert.ClientIP).
		Msg(alert.Description)
}

// Summary groups the retained alerts for a key inside the lookback window.
func (d *ThreatDetector) Summary(ctx context.Context, keyHash string, lookback time.Duration) (*model.ThreatSummary, error) {
	entries, err := d.kv.LRange(ctx, alertListNS+keyHash, 0, d.sec.AlertHistoryLimit-1)
	if err != nil {
		return nil, fmt.Errorf("load alert history: %w", err)
	}

	cutoff := d.clock.Now().Add(-lookback)
	summary := &model.ThreatSummary{
		LookbackHours: int(lookback.Hours()),
		ByKind:        make(map[model.ThreatKind]int),
		BySeverity:    make(map[model.Severity]int),
		Latest:        make(map[model.ThreatKind]*model.ThreatAlert),
	}
	for _, entry := range entries {
		var alert model.ThreatAlert
		if err := json.Unmarshal([]byte(entry), &alert); err != nil {
			log.Error().Err(err).Msg("skipping unreadable alert history entry")
			continue
		}
		if alert.Timestamp.Before(cutoff) {
			continue
		}
		summary.TotalAlerts++
		summary.ByKind[alert.Kind]++
		summary.BySeverity[alert.Severity]++
		if summary.KeyPrefix == "" {
			summary.KeyPrefix = alert.KeyPrefix
		}
		if cur, ok := summary.Latest[alert.Kind]; !ok || alert.Timestamp.After(cur.Timestamp) {
			kept := alert
			summary.Latest[alert.Kind] = &kept
		}
	}
	return summary, nil
}
