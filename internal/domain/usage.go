package domain

import "time"

// MonthKey formats a time as the YYYY-MM ledger month key
func MonthKey(t time.Time) string {
	return t.Format("2006-01")
}

// Usage alert thresholds, checked in ascending order
var AlertThresholds = []int{80, 90, 100}

// MinutesUsage is the per-business-per-month usage ledger row.
// minutes_used only increases; each alert flag transitions false->true at
// most once and is never reset.
type MinutesUsage struct {
	ID             string    `json:"id" gorm:"type:uuid;primaryKey"`
	BusinessID     string    `json:"business_id" gorm:"type:uuid;uniqueIndex:idx_usage_business_month;not null"`
	Month          string    `json:"month" gorm:"type:varchar(7);uniqueIndex:idx_usage_business_month;not null"`
	MinutesUsed    int64     `json:"minutes_used" gorm:"default:0"`
	MinutesLimit   int64     `json:"minutes_limit" gorm:"default:0"`
	OverageMinutes int64     `json:"overage_minutes" gorm:"default:0"`
	Alert80Sent    bool      `json:"alert_80_sent" gorm:"column:alert_80_sent;default:false"`
	Alert90Sent    bool      `json:"alert_90_sent" gorm:"column:alert_90_sent;default:false"`
	Alert100Sent   bool      `json:"alert_100_sent" gorm:"column:alert_100_sent;default:false"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for MinutesUsage
func (MinutesUsage) TableName() string {
	return "minutes_usage"
}

// Unlimited reports whether the row has no enforceable limit
func (u *MinutesUsage) Unlimited() bool {
	return u.MinutesLimit <= 0
}

// ThresholdMet reports whether usage has reached pct percent of the limit
func (u *MinutesUsage) ThresholdMet(pct int) bool {
	if u.Unlimited() {
		return false
	}
	return u.MinutesUsed*100 >= u.MinutesLimit*int64(pct)
}

// AlertSent reports the flag for one threshold
func (u *MinutesUsage) AlertSent(pct int) bool {
	switch pct {
	case 80:
		return u.Alert80Sent
	case 90:
		return u.Alert90Sent
	case 100:
		return u.Alert100Sent
	}
	return false
}

// CeilMinutes rounds seconds up to whole minutes so fractional minutes are
// never under-billed.
func CeilMinutes(seconds int) int64 {
	if seconds <= 0 {
		return 0
	}
	return int64((seconds + 59) / 60)
}
