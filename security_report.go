package qauth

import "github.com/qualisys/qauth/internal/security"

// SecurityReport is a read-only snapshot of the engine's security posture.
// Findings lists codes such as "ephemeral_signing_key" for settings an
// operator should review.
type SecurityReport = security.Report

// SecurityReport summarizes the resolved configuration of e.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config
	return security.BuildReport(security.ReportInput{
		ProductionMode:  cfg.Security.ProductionMode,
		EphemeralKey:    e.ephemeralKey,
		EphemeralPepper: e.ephemeralPepper,
		KeyID:           cfg.JWT.KeyID,
		VerifyKeys:      len(cfg.JWT.VerifyKeys),
		AccessTTL:       cfg.JWT.AccessTTL,
		RefreshTTL:      cfg.Session.RefreshTTL,
		RememberMeTTL:   cfg.Session.RememberMeTTL,
		ReuseWindow:     cfg.Session.ReuseWindow,
		Password: security.PasswordReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		ThrottleMax:    cfg.Limits.ThrottleMax,
		ThrottleWindow: cfg.Limits.ThrottleWindow,
		LockoutMax:     cfg.Limits.LockoutMax,
		LockoutWindow:  cfg.Limits.LockoutWindow,
		UnlockPolicy:   e.unlock.Name(),
		LockTTL:        e.unlock.LockTTL(),
		MFARateMax:     cfg.MFA.RateMax,
		AuditEnabled:   cfg.Audit.Enabled,
		MetricsEnabled: cfg.Metrics.Enabled,
	})
}
