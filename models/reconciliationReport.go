package models

import (
	"context"
	"time"

	"github.com/openshelf/library_backend/config"
)

// ReconciliationReport records one repair the reconciler performed, for audit
// of self-healing background work. Repairs are logged, never surfaced to
// callers.
type ReconciliationReport struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CheckType     string    `gorm:"size:40;not null;index" json:"check_type"`
	EntityType    string    `gorm:"size:40;not null" json:"entity_type"`
	EntityId      int       `gorm:"index" json:"entity_id"`
	Details       string    `gorm:"type:text" json:"details"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func ListReconciliationReports(ctx context.Context, correlationId string) ([]*ReconciliationReport, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&ReconciliationReport{})
	if correlationId != "" {
		dbCtx = dbCtx.Where("correlation_id = ?", correlationId)
	}
	var reports []*ReconciliationReport
	err := dbCtx.Order("created_at DESC").Find(&reports).Error
	return reports, err
}
