package audit

import "github.com/muxd/dispatchd/pkg/config"

// New builds the Ledger configured by cfg: a BadgerLedger at cfg.Path when
// auditing is enabled, or a NoopLedger otherwise.
func New(cfg config.AuditConfig) (Ledger, error) {
	if !cfg.Enabled {
		return NoopLedger{}, nil
	}

	return Open(cfg.Path)
}
