package firewall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/algorand"
	"github.com/algorand-firewall-service/internal/archive"
	"github.com/algorand-firewall-service/internal/config"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/store"
)

const (
	// Admin-managed deny sets, shared by every validator instance.
	addressBlacklistKey  = "blacklist:addresses"
	contractBlacklistKey = "blacklist:contracts"

	validatorFPNS    = "vfp:"
	validatorAvgNS   = "vavg:amount:"
	validatorCountNS = "vavg:count:"
	validatorMEVNS   = "vmev:"
	flashSeqNS       = "vflash:"
	balanceNS        = "balance:"
	temporalNS       = "vtemp:"
	reportHistoryNS  = "reports:"
)

const (
	mevInspectDepth = 10
	flashSeqDepth   = 10
)

// suspiciousArgMarkers are lexical red flags in application call arguments.
// A crude check: it catches copy-pasted exploit tooling, not a determined
// attacker renaming their arguments.
var suspiciousArgMarkers = []string{"reentrancy", "overflow", "underflow", "drain", "exploit"}

// TxValidator scores a transaction against eight sub-checks and folds the
// contributions into a verdict. Unlike the detector it sits on the deny path:
// with the default deny policy a broken store fails the transaction closed.
type TxValidator struct {
	kv    store.KV
	sec   config.SecurityConfig
	arch  archive.Archive
	clock clock
}

func NewTxValidator(kv store.KV, sec config.SecurityConfig, arch archive.Archive) *TxValidator {
	return &TxValidator{kv: kv, sec: sec, arch: arch, clock: timeNowClock{}}
}

type checkResult struct {
	issues []string
	risk   float64
}

func (r *checkResult) add(issue string, risk float64) {
	r.issues = append(r.issues, issue)
	r.risk += risk
}

// Validate runs every sub-check in order and returns the assembled report.
// The report is always non-nil; store failures turn into an INVALID or a
// degraded report depending on the configured policy.
func (v *TxValidator) Validate(ctx context.Context, wallet string, p *model.TransactionPayload, keyHash string) *model.ValidationReport {
	now := v.clock.Now()
	if p == nil {
		p = &model.TransactionPayload{}
	}

	report := &model.ValidationReport{
		ID:              uuid.New(),
		Wallet:          wallet,
		KeyHash:         keyHash,
		Issues:          []string{},
		Recommendations: []string{},
		CheckRisks:      make(map[string]float64),
		Timestamp:       now,
	}

	checks := []struct {
		name string
		run  func() (checkResult, error)
	}{
		{"structural", func() (checkResult, error) { return v.checkStructural(p), nil }},
		{"address", func() (checkResult, error) { return v.checkAddress(ctx, p) }},
		{"amount", func() (checkResult, error) { return v.checkAmount(ctx, wallet, p) }},
		{"replay", func() (checkResult, error) { return v.checkReplay(ctx, p, now) }},
		{"mev", func() (checkResult, error) { return v.checkMEV(ctx, wallet, p, now) }},
		{"flash_loan", func() (checkResult, error) { return v.checkFlashLoan(ctx, wallet, p, now) }},
		{"contract", func() (checkResult, error) { return v.checkContract(ctx, p) }},
		{"temporal", func() (checkResult, error) { return v.checkTemporal(ctx, keyHash, wallet, now) }},
	}

	for _, check := range checks {
		res, err := check.run()
		if err != nil {
			log.Error().Err(err).
				Str("check", check.name).
				Str("wallet", wallet).
				Msg("validation check failed")
			if v.sec.ValidatorOnStoreError == config.PolicyDeny {
				report.RiskScore = 10
				report.Verdict = model.VerdictInvalid
				report.Issues = append(report.Issues, fmt.Sprintf("%s check failed: validation store unavailable", check.name))
				report.Recommendations = append(report.Recommendations, "retry once the service recovers")
				v.persist(ctx, report)
				return report
			}
			report.Issues = append(report.Issues, fmt.Sprintf("%s check skipped: validation store unavailable", check.name))
			continue
		}
		if res.risk > 0 {
			report.CheckRisks[check.name] = res.risk
		}
		report.Issues = append(report.Issues, res.issues...)
		report.RiskScore += res.risk
	}

	v.conclude(report)
	v.persist(ctx, report)
	return report
}

func (v *TxValidator) conclude(report *model.ValidationReport) {
	switch {
	case report.RiskScore >= 8:
		report.Verdict = model.VerdictMalicious
		report.Recommendations = append(report.Recommendations, "block the transaction and review this wallet's recent history")
	case report.RiskScore >= 5:
		report.Verdict = model.VerdictSuspicious
		report.Recommendations = append(report.Recommendations, "verify the transaction with the wallet owner before submission")
	case report.RiskScore >= 2:
		report.Verdict = model.VerdictSuspicious
		report.Recommendations = append(report.Recommendations, "monitor this wallet's follow-up activity")
	default:
		report.Verdict = model.VerdictValid
	}
}

// checkStructural needs no store access: required fields, known type, fee
// band. A missing type is only penalized as missing, not also as unknown.
func (v *TxValidator) checkStructural(p *model.TransactionPayload) checkResult {
	var res checkResult
	if p.Type == "" {
		res.add("missing required field: type", 2.0)
	} else if _, ok := model.TransactionTypes[p.Type]; !ok {
		res.add(fmt.Sprintf("unknown transaction type %q", p.Type), 3.0)
	}
	if p.Sender == "" {
		res.add("missing required field: sender", 2.0)
	}
	switch {
	case p.Fee == nil:
		res.add("missing required field: fee", 2.0)
	case *p.Fee < v.sec.FeeMin:
		res.add(fmt.Sprintf("fee %d below the %d microalgo minimum", *p.Fee, v.sec.FeeMin), 1.0)
	case *p.Fee > v.sec.FeeMax:
		res.add(fmt.Sprintf("fee %d above the %d microalgo ceiling", *p.Fee, v.sec.FeeMax), 2.0)
	}
	return res
}

// checkAddress screens both ends against the admin blacklist and the Algorand
// address format. A blacklisted address skips the format check; the blacklist
// hit alone already dominates the verdict.
func (v *TxValidator) checkAddress(ctx context.Context, p *model.TransactionPayload) (checkResult, error) {
	var res checkResult
	if p.Sender != "" {
		listed, err := v.kv.SIsMember(ctx, addressBlacklistKey, p.Sender)
		if err != nil {
			return res, fmt.Errorf("sender blacklist lookup: %w", err)
		}
		switch {
		case listed:
			res.add("sender address is blacklisted", 8.0)
		case !algorand.IsValidAddress(p.Sender):
			res.add("sender address fails format validation", 5.0)
		}
	}
	if p.Type == "pay" && p.Receiver != "" {
		listed, err := v.kv.SIsMember(ctx, addressBlacklistKey, p.Receiver)
		if err != nil {
			return res, fmt.Errorf("receiver blacklist lookup: %w", err)
		}
		switch {
		case listed:
			res.add("receiver address is blacklisted", 6.0)
		case !algorand.IsValidAddress(p.Receiver):
			res.add("receiver address fails format validation", 3.0)
		}
	}
	return res, nil
}

// checkAmount compares the amount against the wallet's validation-side
// running average and flags large round-number transfers. Zero amounts leave
// the history untouched.
func (v *TxValidator) checkAmount(ctx context.Context, wallet string, p *model.TransactionPayload) (checkResult, error) {
	var res checkResult
	if p.Amount == 0 {
		return res, nil
	}

	avgKey := validatorAvgNS + wallet
	countKey := validatorCountNS + wallet

	var avg float64
	var count int64
	if raw, err := v.kv.Get(ctx, avgKey); err == nil {
		avg, _ = strconv.ParseFloat(raw, 64)
	} else if !errors.Is(err, store.ErrNotFound) {
		return res, fmt.Errorf("amount average read: %w", err)
	}
	if raw, err := v.kv.Get(ctx, countKey); err == nil {
		count, _ = strconv.ParseInt(raw, 10, 64)
	} else if !errors.Is(err, store.ErrNotFound) {
		return res, fmt.Errorf("amount count read: %w", err)
	}

	if count > 0 && avg > 0 {
		multiplier := float64(p.Amount) / avg
		if multiplier > v.sec.AnomalousMultiplier && p.Amount > v.sec.AnomalousFloor {
			res.add(fmt.Sprintf("amount is %.1fx this wallet's typical transfer", multiplier), 3.0)
		}
	}
	if p.Amount > v.sec.RoundFloor && p.Amount%v.sec.RoundUnit == 0 {
		res.add(fmt.Sprintf("large round-number transfer of %s algo", algorand.FormatMicroAlgos(p.Amount)), 1.0)
	}

	newAvg := (avg*float64(count) + float64(p.Amount)) / float64(count+1)
	if err := v.kv.Set(ctx, avgKey, strconv.FormatFloat(newAvg, 'f', -1, 64), v.sec.AverageTTL); err != nil {
		return res, fmt.Errorf("amount average write: %w", err)
	}
	if err := v.kv.Set(ctx, countKey, strconv.FormatInt(count+1, 10), v.sec.AverageTTL); err != nil {
		return res, fmt.Errorf("amount count write: %w", err)
	}
	return res, nil
}

// checkReplay bands the elapsed time since the same wide fingerprint was last
// seen: inside the high band the contribution alone flags the transaction for
// review, inside the low band it only raises suspicion.
func (v *TxValidator) checkReplay(ctx context.Context, p *model.TransactionPayload, now time.Time) (checkResult, error) {
	var res checkResult
	key := validatorFPNS + validatorFingerprint(p)

	stored, err := v.kv.Get(ctx, key)
	switch {
	case err == nil:
		if ts, perr := strconv.ParseInt(stored, 10, 64); perr == nil {
			elapsed := now.Sub(time.Unix(0, ts))
			switch {
			case elapsed >= 0 && elapsed < v.sec.ReplayHighBand:
				res.add(fmt.Sprintf("identical transaction submitted %.0fs ago", elapsed.Seconds()), 7.0)
			case elapsed >= 0 && elapsed < v.sec.ReplayLowBand:
				res.add(fmt.Sprintf("identical transaction submitted %.0fs ago", elapsed.Seconds()), 3.0)
			}
		}
	case !errors.Is(err, store.ErrNotFound):
		return res, fmt.Errorf("replay fingerprint read: %w", err)
	}

	if err := v.kv.Set(ctx, key, strconv.FormatInt(now.UnixNano(), 10), v.sec.FingerprintTTL); err != nil {
		return res, fmt.Errorf("replay fingerprint write: %w", err)
	}
	return res, nil
}

// checkMEV inspects the wallet's recent submission stamps. Rapid average
// inter-arrival suggests front-running; several recent events around a
// non-dust amount is the sandwich shape. Both are illustrative pattern
// checks over the request stream, not mempool analysis.
func (v *TxValidator) checkMEV(ctx context.Context, wallet string, p *model.TransactionPayload, now time.Time) (checkResult, error) {
	var res checkResult
	key := validatorMEVNS + wallet

	entries, err := v.kv.LRange(ctx, key, 0, mevInspectDepth-1)
	if err != nil {
		return res, fmt.Errorf("mev history read: %w", err)
	}

	var oldest time.Time
	recent := 0
	for _, entry := range entries {
		ts, perr := strconv.ParseInt(entry, 10, 64)
		if perr != nil {
			continue
		}
		stamp := time.Unix(0, ts)
		if since := now.Sub(stamp); since >= 0 && since <= v.sec.MEVWindow {
			recent++
			oldest = stamp
		}
	}

	if recent >= v.sec.MEVRecentMin {
		// The current submission is the newest point; recent gaps back to
		// the oldest retained stamp.
		avgGap := now.Sub(oldest) / time.Duration(recent)
		if avgGap < v.sec.MEVFastInterval {
			res.add(fmt.Sprintf("average submission gap %.1fs across %d recent transactions", avgGap.Seconds(), recent), 4.0)
		}
		if p.Amount > v.sec.SandwichAmountFloor {
			res.add(fmt.Sprintf("%d rapid submissions around a %s algo transfer", recent, algorand.FormatMicroAlgos(p.Amount)), 5.0)
		}
	}

	if err := v.kv.LPush(ctx, key, strconv.FormatInt(now.UnixNano(), 10)); err != nil {
		return res, fmt.Errorf("mev history write: %w", err)
	}
	if err := v.kv.LTrim(ctx, key, 0, mevInspectDepth-1); err != nil {
		return res, fmt.Errorf("mev history trim: %w", err)
	}
	if err := v.kv.Expire(ctx, key, v.sec.MEVWindow); err != nil {
		return res, fmt.Errorf("mev history expire: %w", err)
	}
	return res, nil
}

// checkFlashLoan only engages above the flash floor. The amount is compared
// against the wallet's recorded typical balance when one was ingested, and a
// short burst of flash-scale transfers flags the borrow-use-repay sequence.
func (v *TxValidator) checkFlashLoan(ctx context.Context, wallet string, p *model.TransactionPayload, now time.Time) (checkResult, error) {
	var res checkResult
	if p.Amount <= v.sec.ValidatorFlashFloor {
		return res, nil
	}

	raw, err := v.kv.Get(ctx, balanceNS+wallet)
	switch {
	case err == nil:
		if balance, perr := strconv.ParseFloat(raw, 64); perr == nil && balance > 0 {
			if float64(p.Amount) > v.sec.BalanceMultiplier*balance {
				res.add(fmt.Sprintf("amount exceeds %gx this wallet's typical balance", v.sec.BalanceMultiplier), 6.0)
			}
		}
	case !errors.Is(err, store.ErrNotFound):
		return res, fmt.Errorf("wallet balance read: %w", err)
	}

	key := flashSeqNS + wallet
	entries, err := v.kv.LRange(ctx, key, 0, flashSeqDepth-1)
	if err != nil {
		return res, fmt.Errorf("flash sequence read: %w", err)
	}
	recent := 0
	for _, entry := range entries {
		ts, perr := strconv.ParseInt(entry, 10, 64)
		if perr != nil {
			continue
		}
		if since := now.Sub(time.Unix(0, ts)); since >= 0 && since <= v.sec.FlashWindow {
			recent++
		}
	}
	if recent+1 >= v.sec.FlashSequenceMin {
		res.add(fmt.Sprintf("%d flash-scale transfers inside one window", recent+1), 4.0)
	}

	if err := v.kv.LPush(ctx, key, strconv.FormatInt(now.UnixNano(), 10)); err != nil {
		return res, fmt.Errorf("flash sequence write: %w", err)
	}
	if err := v.kv.LTrim(ctx, key, 0, flashSeqDepth-1); err != nil {
		return res, fmt.Errorf("flash sequence trim: %w", err)
	}
	if err := v.kv.Expire(ctx, key, v.sec.FlashWindow); err != nil {
		return res, fmt.Errorf("flash sequence expire: %w", err)
	}
	return res, nil
}

// checkContract screens application calls against the contract blacklist and
// scans the call arguments for exploit markers.
func (v *TxValidator) checkContract(ctx context.Context, p *model.TransactionPayload) (checkResult, error) {
	var res checkResult
	if p.Type != "appl" {
		return res, nil
	}

	if p.ApplicationID != 0 {
		listed, err := v.kv.SIsMember(ctx, contractBlacklistKey, strconv.FormatUint(p.ApplicationID, 10))
		if err != nil {
			return res, fmt.Errorf("contract blacklist lookup: %w", err)
		}
		if listed {
			res.add(fmt.Sprintf("application %d is blacklisted", p.ApplicationID), 9.0)
		}
	}

	if marker := suspiciousArgMarker(p.ApplicationArgs); marker != "" {
		res.add(fmt.Sprintf("application argument mentions %q", marker), 3.0)
	}
	return res, nil
}

func suspiciousArgMarker(args []string) string {
	for _, arg := range args {
		lower := strings.ToLower(arg)
		for _, marker := range suspiciousArgMarkers {
			if strings.Contains(lower, marker) {
				return marker
			}
		}
	}
	return ""
}

// checkTemporal studies the submission cadence of one key against one wallet.
// Machine-regular or very fast cadences score; humans are neither.
func (v *TxValidator) checkTemporal(ctx context.Context, keyHash, wallet string, now time.Time) (checkResult, error) {
	var res checkResult
	key := temporalNS + keyHash + ":" + wallet

	if err := v.kv.LPush(ctx, key, strconv.FormatInt(now.UnixNano(), 10)); err != nil {
		return res, fmt.Errorf("temporal history write: %w", err)
	}
	if err := v.kv.LTrim(ctx, key, 0, int64(v.sec.TemporalMaxEntries)-1); err != nil {
		return res, fmt.Errorf("temporal history trim: %w", err)
	}
	if err := v.kv.Expire(ctx, key, v.sec.TemporalWindow); err != nil {
		return res, fmt.Errorf("temporal history expire: %w", err)
	}

	entries, err := v.kv.LRange(ctx, key, 0, int64(v.sec.TemporalMaxEntries)-1)
	if err != nil {
		return res, fmt.Errorf("temporal history read: %w", err)
	}
	var stamps []time.Time // newest first
	for _, entry := range entries {
		ts, perr := strconv.ParseInt(entry, 10, 64)
		if perr != nil {
			continue
		}
		stamp := time.Unix(0, ts)
		if since := now.Sub(stamp); since >= 0 && since <= v.sec.TemporalWindow {
			stamps = append(stamps, stamp)
		}
	}
	if len(stamps) < v.sec.TemporalMinSamples {
		return res, nil
	}

	gaps := make([]float64, 0, len(stamps)-1)
	for i := 0; i < len(stamps)-1; i++ {
		gaps = append(gaps, stamps[i].Sub(stamps[i+1]).Seconds())
	}
	mean, stddev := meanStdDev(gaps)

	if stddev < v.sec.TemporalBotStdDev && mean < v.sec.TemporalBotInterval.Seconds() {
		res.add(fmt.Sprintf("machine-regular cadence: %.1fs mean gap, %.2fs deviation", mean, stddev), 2.0)
	}
	if mean < v.sec.TemporalFastInterval.Seconds() {
		res.add(fmt.Sprintf("high-frequency cadence: %.1fs mean gap", mean), 3.0)
	}
	return res, nil
}

func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// persist appends the compact report entry to the wallet's bounded history
// and hands the full report to the archive. Failures are logged; the report
// was already computed and is returned regardless.
func (v *TxValidator) persist(ctx context.Context, report *model.ValidationReport) {
	entry := model.ReportHistoryEntry{
		Verdict:   report.Verdict,
		RiskScore: report.RiskScore,
		Timestamp: report.Timestamp,
	}
	if raw, err := json.Marshal(entry); err != nil {
		log.Error().Err(err).Msg("failed to encode report history entry")
	} else {
		key := reportHistoryNS + report.Wallet
		if err := v.kv.LPush(ctx, key, string(raw)); err != nil {
			log.Error().Err(err).Msg("failed to store report history entry")
		} else {
			if err := v.kv.LTrim(ctx, key, 0, v.sec.ReportHistoryLimit-1); err != nil {
				log.Error().Err(err).Msg("failed to trim report history")
			}
			if err := v.kv.Expire(ctx, key, v.sec.ReportTTL); err != nil {
				log.Error().Err(err).Msg("failed to expire report history")
			}
		}
	}

	if v.arch != nil {
		if err := v.arch.SaveReport(ctx, report); err != nil {
			log.Error().Err(err).Msg("failed to archive validation report")
		}
	}

	if report.Verdict == model.VerdictMalicious || report.Verdict == model.VerdictInvalid {
		log.Warn().
			Str("wallet", report.Wallet).
			Str("verdict", string(report.Verdict)).
			Float64("risk_score", report.RiskScore).
			Strs("issues", report.Issues).
			Msg("transaction flagged")
	}
}

// WalletRiskProfile aggregates the wallet's retained report history into a
// risk level. A wallet with no history is unknown, not minimal.
func (v *TxValidator) WalletRiskProfile(ctx context.Context, wallet string) (*model.WalletRiskProfile, error) {
	entries, err := v.kv.LRange(ctx, reportHistoryNS+wallet, 0, v.sec.ReportHistoryLimit-1)
	if err != nil {
		return nil, fmt.Errorf("load report history: %w", err)
	}

	profile := &model.WalletRiskProfile{
		Wallet:      wallet,
		RiskLevel:   model.RiskUnknown,
		GeneratedAt: v.clock.Now(),
	}
	var total float64
	for _, entry := range entries {
		var rec model.ReportHistoryEntry
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			log.Error().Err(err).Msg("skipping unreadable report history entry")
			continue
		}
		profile.SampleCount++
		total += rec.RiskScore
		if rec.RiskScore > profile.MaxRisk {
			profile.MaxRisk = rec.RiskScore
		}
		if rec.Verdict == model.VerdictMalicious {
			profile.MaliciousCount++
		}
	}
	if profile.SampleCount == 0 {
		return profile, nil
	}

	profile.AverageRisk = total / float64(profile.SampleCount)
	switch {
	case profile.AverageRisk >= 7 || profile.MaliciousCount > 0:
		profile.RiskLevel = model.RiskHigh
	case profile.AverageRisk >= 4:
		profile.RiskLevel = model.RiskMedium
	case profile.AverageRisk >= 2:
		profile.RiskLevel = model.RiskLow
	default:
		profile.RiskLevel = model.RiskMinimal
	}
	return profile, nil
}

// RecordWalletBalance stores the typical balance used by the flash-loan
// comparison. Balances arrive from an external ingest, not from the chain.
func (v *TxValidator) RecordWalletBalance(ctx context.Context, wallet string, microAlgos uint64) error {
	if err := v.kv.Set(ctx, balanceNS+wallet, strconv.FormatUint(microAlgos, 10), 0); err != nil {
		return fmt.Errorf("record wallet balance: %w", err)
	}
	return nil
}

// BlacklistAddresses replaces the address deny set.
func (v *TxValidator) BlacklistAddresses(ctx context.Context, addrs []string) error {
	return v.replaceSet(ctx, addressBlacklistKey, addrs)
}

// BlacklistedAddresses lists the address deny set.
func (v *TxValidator) BlacklistedAddresses(ctx context.Context) ([]string, error) {
	members, err := v.kv.SMembers(ctx, addressBlacklistKey)
	if err != nil {
		return nil, fmt.Errorf("load address blacklist: %w", err)
	}
	return members, nil
}

// BlacklistContracts replaces the application-id deny set.
func (v *TxValidator) BlacklistContracts(ctx context.Context, appIDs []uint64) error {
	members := make([]string, len(appIDs))
	for i, id := range appIDs {
		members[i] = strconv.FormatUint(id, 10)
	}
	return v.replaceSet(ctx, contractBlacklistKey, members)
}

// BlacklistedContracts lists the application-id deny set.
func (v *TxValidator) BlacklistedContracts(ctx context.Context) ([]uint64, error) {
	members, err := v.kv.SMembers(ctx, contractBlacklistKey)
	if err != nil {
		return nil, fmt.Errorf("load contract blacklist: %w", err)
	}
	ids := make([]uint64, 0, len(members))
	for _, member := range members {
		id, err := strconv.ParseUint(member, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (v *TxValidator) replaceSet(ctx context.Context, key string, members []string) error {
	if err := v.kv.Del(ctx, key); err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	if len(members) == 0 {
		return nil
	}
	if err := v.kv.SAdd(ctx, key, members...); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
