package models

import (
	"strconv"
	"strings"
	"time"
)

const (
	MarketplaceWildberries = "wildberries"
	MarketplaceOzon        = "ozon"
)

// Credential is one seller API key for one marketplace. The dashboard owns
// the tokens table; the collector only reads it.
type Credential struct {
	ID             uint      `gorm:"primaryKey"`
	UserID         *uint     `gorm:"index"`
	Name           *string   `gorm:"type:varchar(255)"`
	Marketplace    string    `gorm:"type:varchar(50);not null;index"`
	Token          string    `gorm:"type:text;not null"`
	ClientID       *string   `gorm:"type:varchar(255)"`
	IsActive       bool      `gorm:"not null;default:true"`
	StocksSyncTime *string   `gorm:"type:varchar(5)"`
	CreatedAt      time.Time `gorm:"type:timestamptz"`
}

func (Credential) TableName() string {
	return "tokens"
}

// StockSyncHour returns the hour of the preferred daily stock refresh, or
// fallback when the credential has none or it cannot be parsed.
func (c Credential) StockSyncHour(fallback int) int {
	if c.StocksSyncTime == nil {
		return fallback
	}
	raw := strings.TrimSpace(*c.StocksSyncTime)
	if raw == "" {
		return fallback
	}
	hh, _, _ := strings.Cut(raw, ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return fallback
	}
	return h
}
