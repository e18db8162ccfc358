package domain

import (
	"time"
)

// TrackedOrderRecord is the persisted form of a live order.
// Decimal values are stored as their exact string form.
type TrackedOrderRecord struct {
	Hash           string `gorm:"primaryKey" json:"hash"`
	Symbol         string `gorm:"index" json:"symbol"`
	Side           string `json:"side"`
	State          string `gorm:"index" json:"state"`
	OrderPrice     string `json:"order_price"`
	CurrentPrice   string `json:"current_price"`
	OriginalSize   string `json:"original_size"`
	CurrentSize    string `json:"current_size"`
	TopAverage     string `json:"top_average"`
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
	PromotionClock time.Time
	ReachedHot     bool
	ScanCount      int
	Scores         map[string]float64  `gorm:"serializer:json" json:"scores"`
	Categories     map[string]Category `gorm:"serializer:json" json:"categories"`
	LastPublished  *PublishedSnapshot  `gorm:"serializer:json" json:"last_published"`
	SavedAt        time.Time
}

// OrderOutcome is one finished order, kept for the historical success rate.
type OrderOutcome struct {
	Hash        string `gorm:"primaryKey" json:"hash"`
	Symbol      string `gorm:"index" json:"symbol"`
	Side        string `json:"side"`
	ReachedHot  bool   `gorm:"index" json:"reached_hot"`
	DeathReason string `json:"death_reason"`
	LifetimeSec float64
	DiedAt      time.Time `gorm:"index"`
}
