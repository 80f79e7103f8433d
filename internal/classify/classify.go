// Package classify maps a day's load against its capacity to a severity.
package classify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"loadline/internal/config"
	"loadline/internal/domain"
)

// NoConflict is returned when the load fits within capacity.
const NoConflict domain.Severity = ""

// Band is an inclusive upper bound on total/capacity for a severity.
type Band struct {
	Severity domain.Severity
	MaxRatio decimal.Decimal
}

// Classifier evaluates severity with an ordered band table. Ratios above the
// last band are CRITICAL.
type Classifier struct {
	Bands []Band
}

// DefaultBands: LOW up to 1.2x, MEDIUM up to 1.5x, HIGH up to 2.0x.
func DefaultBands() []Band {
	return []Band{
		{Severity: domain.SeverityLow, MaxRatio: decimal.RequireFromString("1.2")},
		{Severity: domain.SeverityMedium, MaxRatio: decimal.RequireFromString("1.5")},
		{Severity: domain.SeverityHigh, MaxRatio: decimal.RequireFromString("2.0")},
	}
}

func New(bands []Band) Classifier {
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	return Classifier{Bands: bands}
}

// FromConfig builds the organization's classifier from its policy document.
func FromConfig(cfg *config.Config) (Classifier, error) {
	if cfg == nil || len(cfg.Severity.Bands) == 0 {
		return New(nil), nil
	}
	bands := make([]Band, 0, len(cfg.Severity.Bands))
	for _, b := range cfg.Severity.Bands {
		if !b.Severity.Valid() {
			return Classifier{}, fmt.Errorf("unknown severity %q", b.Severity)
		}
		bands = append(bands, Band{Severity: b.Severity, MaxRatio: decimal.NewFromFloat(b.MaxRatio)})
	}
	return New(bands), nil
}

// Classify returns NoConflict when total <= capacity. A positive load on a
// zero-capacity day is CRITICAL.
func (c Classifier) Classify(total, capacity decimal.Decimal) domain.Severity {
	if total.LessThanOrEqual(capacity) {
		return NoConflict
	}
	if capacity.Sign() <= 0 {
		return domain.SeverityCritical
	}
	ratio := total.Div(capacity)
	for _, b := range c.Bands {
		if ratio.LessThanOrEqual(b.MaxRatio) {
			return b.Severity
		}
	}
	return domain.SeverityCritical
}
