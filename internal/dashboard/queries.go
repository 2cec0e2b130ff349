package dashboard

import (
	"time"

	"github.com/garudnet/relaybot/internal/models"
	"gorm.io/gorm"
)

// CloneRow holds one clone registration for display. Tokens are redacted to
// their first 10 characters; the full token never leaves the store.
type CloneRow struct {
	OwnerUserID  string    `json:"owner_user_id"`
	OwnerName    string    `json:"owner_name"`
	TokenPrefix  string    `json:"token_prefix"`
	RegisteredAt time.Time `json:"registered_at"`
}

// CloneSummary returns all clone registrations ordered by registration time.
func CloneSummary(db *gorm.DB) ([]CloneRow, error) {
	var recs []models.CloneRecord
	if err := db.Order("registered_at").Find(&recs).Error; err != nil {
		return nil, err
	}

	rows := make([]CloneRow, len(recs))
	for i, rec := range recs {
		prefix := rec.Token
		if len(prefix) > 10 {
			prefix = prefix[:10]
		}
		rows[i] = CloneRow{
			OwnerUserID:  rec.OwnerUserID,
			OwnerName:    rec.OwnerDisplayName,
			TokenPrefix:  prefix,
			RegisteredAt: rec.RegisteredAt,
		}
	}
	return rows, nil
}

// cloneCount returns the number of stored clone registrations; query failures
// count as zero rather than failing the stats snapshot.
func cloneCount(db *gorm.DB) int64 {
	var n int64
	if err := db.Model(&models.CloneRecord{}).Count(&n).Error; err != nil {
		return 0
	}
	return n
}
