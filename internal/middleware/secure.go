package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/algorand-firewall-service/internal/config"
	"github.com/algorand-firewall-service/internal/firewall"
	"github.com/algorand-firewall-service/internal/httputil"
	"github.com/algorand-firewall-service/internal/metrics"
	"github.com/algorand-firewall-service/internal/model"
	"github.com/algorand-firewall-service/internal/service"
	"github.com/algorand-firewall-service/internal/store"
)

type securityContextKey struct{}

// GetSecurityContext extracts the authenticated security context from the
// request context.
func GetSecurityContext(ctx context.Context) *model.SecurityContext {
	sc, _ := ctx.Value(securityContextKey{}).(*model.SecurityContext)
	return sc
}

const (
	reqLogNS     = "reqlog:"
	maxBodyBytes = 1 << 20

	firewallHeader   = "algorand-firewall/1.0"
	writeBackTimeout = 5 * time.Second
)

// The explicit validation endpoint runs the detector and validator itself.
// Screening it here too would record every fingerprint twice and flag the
// handler's own check as a replay.
var screenExempt = map[string]struct{}{
	"/v1/transactions/validate": {},
}

// Secure is the request gate for key-holder routes: authentication, rate
// limiting, the DDoS heuristic, and inline payload screening, strictly in
// that order. Rejections short-circuit; requests that pass reach the handler
// with a SecurityContext in the request context, and every authenticated
// request is logged and scored asynchronously afterwards.
type Secure struct {
	keys      *firewall.KeyManager
	limiter   *firewall.RateLimiter
	guard     *firewall.DDoSGuard
	detector  *firewall.ThreatDetector
	validator *firewall.TxValidator
	kv        store.KV
	sec       config.SecurityConfig
	metrics   *metrics.Registry
}

func NewSecure(
	keys *firewall.KeyManager,
	limiter *firewall.RateLimiter,
	guard *firewall.DDoSGuard,
	detector *firewall.ThreatDetector,
	validator *firewall.TxValidator,
	kv store.KV,
	sec config.SecurityConfig,
	reg *metrics.Registry,
) *Secure {
	return &Secure{
		keys:      keys,
		limiter:   limiter,
		guard:     guard,
		detector:  detector,
		validator: validator,
		kv:        kv,
		sec:       sec,
		metrics:   reg,
	}
}

// Middleware enforces the full check sequence on every wrapped route.
func (s *Secure) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			token := bearerToken(r)
			if token == "" {
				respondError(rec, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
				return
			}

			sc, err := s.keys.Validate(r.Context(), token, ClientIP(r))
			if err != nil {
				s.metrics.KeyValidation(validationOutcome(err))
				s.rejectKey(rec, err)
				return
			}
			s.metrics.KeyValidation("ok")

			rec.Header().Set("X-RateLimit-Tier", string(sc.Tier))
			rec.Header().Set("X-Security-Firewall", firewallHeader)

			observedRisk := 0.0
			defer func() {
				go s.logRequest(context.WithoutCancel(r.Context()), s.requestRecord(sc, r, rec.status, time.Since(start)), observedRisk)
			}()

			dec := s.limiter.Check(r.Context(), model.LimitPerKey, sc.KeyHash, r.URL.Path, sc.Tier, sc.ThreatScore)
			s.metrics.RateLimitDecision(string(dec.Action))
			sc.RateRemaining = dec.Remaining
			setRateHeaders(rec.Header(), dec)
			if dec.Action.Rejected() {
				service.RespondError(rec, service.NewRateLimited("rate_limited", "Rate limit exceeded", dec.RetryAfter))
				return
			}

			guard := s.guard.Check(r.Context(), sc.ClientIP)
			s.metrics.DDoSDecision(string(guard.Action))
			sc.DDoSThreatLevel = guard.ThreatLevel
			if guard.Action.Rejected() {
				service.RespondError(rec, service.NewRateLimited("ddos_protection", "DDoS protection activated. Please try again later.", guard.RetryAfter))
				return
			}

			if _, exempt := screenExempt[r.URL.Path]; !exempt {
				wallet, payload, err := screenBody(rec, r)
				if err != nil {
					var tooLarge *http.MaxBytesError
					if errors.As(err, &tooLarge) {
						respondError(rec, http.StatusRequestEntityTooLarge, "request_too_large", "Request body exceeds the 1 MiB limit")
					} else {
						respondError(rec, http.StatusBadRequest, "invalid_request", "Unable to read request body")
					}
					return
				}
				if payload != nil {
					risk, blocked := s.screen(r.Context(), sc, wallet, payload, rec)
					observedRisk = risk
					if blocked {
						return
					}
				}
			}

			ctx := context.WithValue(r.Context(), securityContextKey{}, sc)
			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}

// screen runs the detector and validator over an inline transaction payload.
// It reports the observed risk and whether the request was rejected.
func (s *Secure) screen(ctx context.Context, sc *model.SecurityContext, wallet string, payload *model.TransactionPayload, w http.ResponseWriter) (float64, bool) {
	alerts := s.detector.Analyze(ctx, sc, payload)
	for _, alert := range alerts {
		s.metrics.ThreatAlert(string(alert.Kind))
	}

	report := s.validator.Validate(ctx, wallet, payload, sc.KeyHash)
	s.metrics.ValidationVerdict(string(report.Verdict))

	switch report.Verdict {
	case model.VerdictMalicious:
		log.Error().
			Str("key_prefix", sc.KeyPrefix).
			Str("wallet", wallet).
			Float64("risk_score", report.RiskScore).
			Strs("issues", report.Issues).
			Msg("malicious transaction blocked")
		httputil.RespondJSON(w, http.StatusForbidden, blockedResponse{
			Error:           "transaction_blocked",
			Message:         "Transaction blocked by security policy",
			RiskScore:       report.RiskScore,
			Issues:          report.Issues,
			Recommendations: report.Recommendations,
		})
		return clampRisk(report.RiskScore), true
	case model.VerdictInvalid:
		// Fail-closed outage verdict. The key holder is not at fault, so
		// nothing folds into the threat score.
		service.RespondError(w, service.NewUnavailable("validation_unavailable", "Transaction validation is temporarily unavailable"))
		return 0, true
	case model.VerdictSuspicious:
		log.Warn().
			Str("key_prefix", sc.KeyPrefix).
			Str("wallet", wallet).
			Float64("risk_score", report.RiskScore).
			Strs("issues", report.Issues).
			Msg("suspicious transaction allowed")
	}
	return clampRisk(report.RiskScore), false
}

// blockedResponse is the 403 body for transactions rejected by the inline
// screen; richer than the standard error envelope so integrators can see the
// issue list.
type blockedResponse struct {
	Error           string   `json:"error"`
	Message         string   `json:"message"`
	RiskScore       float64  `json:"risk_score"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// screenBody reads the request body looking for a wallet address paired with
// transaction-like fields, restoring the body for the downstream handler
// either way. A nil payload means screening does not apply.
func screenBody(w http.ResponseWriter, r *http.Request) (string, *model.TransactionPayload, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", nil, nil
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return "", nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if len(body) == 0 {
		return "", nil, nil
	}

	var probe struct {
		WalletAddress   string          `json:"wallet_address"`
		Wallet          string          `json:"wallet"`
		Transaction     json.RawMessage `json:"transaction"`
		TransactionData json.RawMessage `json:"transaction_data"`
		Amount          json.RawMessage `json:"amount"`
		To              json.RawMessage `json:"to"`
		From            json.RawMessage `json:"from"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		// Not a JSON object; the handler decides what to make of it.
		return "", nil, nil
	}

	wallet := probe.WalletAddress
	if wallet == "" {
		wallet = probe.Wallet
	}
	if wallet == "" {
		wallet = r.URL.Query().Get("wallet_address")
	}
	if wallet == "" {
		return "", nil, nil
	}

	raw := probe.Transaction
	if isEmptyJSON(raw) {
		raw = probe.TransactionData
	}
	if isEmptyJSON(raw) {
		if isEmptyJSON(probe.Amount) && isEmptyJSON(probe.To) && isEmptyJSON(probe.From) {
			return "", nil, nil
		}
		raw = body
	}

	var payload model.TransactionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", nil, nil
	}
	if !payload.HasTransactionFields() {
		return "", nil, nil
	}
	return wallet, &payload, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// bearerToken pulls the API key from the Authorization header, falling back
// to X-API-Key.
func bearerToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	return r.Header.Get("X-API-Key")
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func (s *Secure) rejectKey(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, firewall.ErrKeyInactive):
		respondError(w, http.StatusUnauthorized, "key_disabled", "API key is not active")
	case errors.Is(err, firewall.ErrIPNotAllowed):
		respondError(w, http.StatusUnauthorized, "ip_not_allowed", "Client IP is not on this key's allowlist")
	case errors.Is(err, firewall.ErrInvalidKey):
		respondError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
	default:
		log.Error().Err(err).Msg("key validation failed")
		respondError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
	}
}

func validationOutcome(err error) string {
	switch {
	case errors.Is(err, firewall.ErrKeyInactive):
		return "inactive"
	case errors.Is(err, firewall.ErrIPNotAllowed):
		return "ip_blocked"
	case errors.Is(err, firewall.ErrInvalidKey):
		return "invalid"
	default:
		return "error"
	}
}

func setRateHeaders(h http.Header, dec *model.RateDecision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))
}

func (s *Secure) requestRecord(sc *model.SecurityContext, r *http.Request, status int, duration time.Duration) *model.RequestLogRecord {
	return &model.RequestLogRecord{
		Timestamp:   time.Now(),
		KeyHash:     sc.KeyHash,
		KeyPrefix:   sc.KeyPrefix,
		Wallet:      sc.Wallet,
		Tier:        sc.Tier,
		ClientIP:    sc.ClientIP,
		Method:      r.Method,
		Path:        r.URL.Path,
		Status:      status,
		Duration:    duration,
		ThreatScore: sc.ThreatScore,
		UserAgent:   r.Header.Get("User-Agent"),
	}
}

// logRequest runs off the request path: it writes the analytics record and
// folds the observed risk into the key's threat score. The caller hands in a
// context detached from the request's cancellation so a disconnecting client
// cannot cancel the write-back; trace association survives the detach.
func (s *Secure) logRequest(ctx context.Context, rec *model.RequestLogRecord, risk float64) {
	ctx, cancel := context.WithTimeout(ctx, writeBackTimeout)
	defer cancel()

	key := reqLogNS + strconv.FormatInt(rec.Timestamp.UnixNano(), 10) + ":" + rec.KeyHash
	if err := s.kv.HSet(ctx, key, requestLogFields(rec), s.sec.RequestLogTTL); err != nil {
		log.Error().Err(err).Str("key_prefix", rec.KeyPrefix).Msg("failed to store request log")
	}
	if err := s.keys.RecordObservedRisk(ctx, rec.KeyHash, risk); err != nil {
		log.Error().Err(err).Str("key_prefix", rec.KeyPrefix).Msg("failed to fold observed risk")
	}
}

func requestLogFields(rec *model.RequestLogRecord) map[string]string {
	return map[string]string{
		"timestamp":    rec.Timestamp.Format(time.RFC3339Nano),
		"key_prefix":   rec.KeyPrefix,
		"wallet":       rec.Wallet,
		"tier":         string(rec.Tier),
		"client_ip":    rec.ClientIP,
		"method":       rec.Method,
		"path":         rec.Path,
		"status":       strconv.Itoa(rec.Status),
		"duration_ms":  strconv.FormatInt(rec.Duration.Milliseconds(), 10),
		"threat_score": strconv.FormatFloat(rec.ThreatScore, 'f', -1, 64),
		"user_agent":   rec.UserAgent,
	}
}

func clampRisk(risk float64) float64 {
	if risk > 10 {
		return 10
	}
	return risk
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
