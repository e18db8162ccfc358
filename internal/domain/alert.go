package domain

import "github.com/shopspring/decimal"

// AlertRule raises an operator alert when a hot order reaches a category.
type AlertRule struct {
	MinCategory Category        `json:"min_category"`
	MinUSDValue decimal.Decimal `json:"min_usd_value"`
	active      bool
}

// NewAlertRule creates an active rule. An unknown category falls back to diamond.
func NewAlertRule(minCategory Category, minUSDValue decimal.Decimal) *AlertRule {
	if minCategory.Rank() == 0 {
		minCategory = CategoryDiamond
	}
	return &AlertRule{
		MinCategory: minCategory,
		MinUSDValue: minUSDValue,
		active:      true,
	}
}

// IsActive returns whether the rule is active
func (a *AlertRule) IsActive() bool {
	return a.active
}

// SetActive sets the rule's active state
func (a *AlertRule) SetActive(active bool) {
	a.active = active
}

// CheckCondition reports whether a published order is in the alerting band:
// current ranks at or above the minimum and usd is at or above the floor.
func (a *AlertRule) CheckCondition(current Category, usd decimal.Decimal) bool {
	if !a.active || current.Rank() < a.MinCategory.Rank() {
		return false
	}
	return usd.GreaterThanOrEqual(a.MinUSDValue)
}
