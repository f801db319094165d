package internaldefs

import (
	"strconv"
	"strings"

	"github.com/qualisys/qauth"
)

// Namespace prefixes every exported metric name.
const Namespace = "qauth"

// BucketCount is the number of latency buckets, the last one unbounded.
const BucketCount = len(qauth.HistogramBounds) + 1

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   qauth.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   qauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: qauth.MetricLoginSuccess, Name: "qauth_login_success_total", Help: "Successful logins."},
	{ID: qauth.MetricLoginFailure, Name: "qauth_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: qauth.MetricLoginThrottled, Name: "qauth_login_throttled_total", Help: "Logins rejected by the failed-attempt throttle."},
	{ID: qauth.MetricLoginLocked, Name: "qauth_login_locked_total", Help: "Logins rejected for a locked account."},
	{ID: qauth.MetricLoginDegraded, Name: "qauth_login_degraded_total", Help: "Logins issued without a refresh token because the session store was down."},
	{ID: qauth.MetricLimiterFailOpen, Name: "qauth_limiter_fail_open_total", Help: "Limiter checks skipped because the store was down."},
	{ID: qauth.MetricRefreshSuccess, Name: "qauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: qauth.MetricRefreshFailure, Name: "qauth_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: qauth.MetricRefreshReuseDetected, Name: "qauth_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: qauth.MetricRefreshStoreUnavailable, Name: "qauth_refresh_store_unavailable_total", Help: "Refresh attempts failed closed on a store outage."},
	{ID: qauth.MetricTenantSelectSuccess, Name: "qauth_tenant_select_success_total", Help: "Successful tenant selections."},
	{ID: qauth.MetricTenantSelectForbidden, Name: "qauth_tenant_select_forbidden_total", Help: "Tenant selections for a tenant the identity is not a member of."},
	{ID: qauth.MetricLogout, Name: "qauth_logout_total", Help: "Single-session logouts."},
	{ID: qauth.MetricLogoutAll, Name: "qauth_logout_all_total", Help: "Logout-everywhere operations."},
	{ID: qauth.MetricSessionCreated, Name: "qauth_session_created_total", Help: "Refresh sessions created."},
	{ID: qauth.MetricSessionRevoked, Name: "qauth_session_revoked_total", Help: "Refresh sessions revoked."},
	{ID: qauth.MetricMFARequired, Name: "qauth_mfa_required_total", Help: "Logins that stopped at an MFA challenge."},
	{ID: qauth.MetricMFASuccess, Name: "qauth_mfa_success_total", Help: "Accepted MFA codes."},
	{ID: qauth.MetricMFAFailure, Name: "qauth_mfa_failure_total", Help: "Rejected MFA codes."},
	{ID: qauth.MetricMFAReplay, Name: "qauth_mfa_replay_total", Help: "MFA codes rejected as replays."},
	{ID: qauth.MetricFederatedLogin, Name: "qauth_federated_login_total", Help: "Logins through an external identity provider."},
	{ID: qauth.MetricPasswordChanged, Name: "qauth_password_changed_total", Help: "Password changes."},
	{ID: qauth.MetricPasswordRehashed, Name: "qauth_password_rehashed_total", Help: "Stored hashes upgraded on login."},
	{ID: qauth.MetricUnlock, Name: "qauth_unlock_total", Help: "Accounts unlocked."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: qauth.MetricValidateLatency, Name: "qauth_validate_latency_seconds", Help: "Access token validation latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "qauth_audit_dropped_total"

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(qauth.HistogramBounds))
	for i, b := range qauth.HistogramBounds {
		out[i] = b.Seconds()
	}
	return out
}

// BoundSuffix renders bucket i for use in an instrument name, e.g. "0_005"
// or "inf" for the last bucket.
func BoundSuffix(i int) string {
	if i >= len(qauth.HistogramBounds) {
		return "inf"
	}
	s := strconv.FormatFloat(qauth.HistogramBounds[i].Seconds(), 'f', -1, 64)
	return strings.ReplaceAll(s, ".", "_")
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	copy(out[:], raw)
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i, n := range raw {
		running += n
		out[i] = running
	}
	return out
}
