package workspace

import "time"

// Workspace is the top-level container owned by a single user. The core never
// mutates a workspace after creation; it only validates ownership and deletes.
type Workspace struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	OwnerID     string    `gorm:"column:owner_id;size:190;not null;index"`
	Name        string    `gorm:"column:name;size:320;not null"`
	Description string    `gorm:"column:description;type:text"`
	Color       string    `gorm:"column:color;size:32"`
	Icon        string    `gorm:"column:icon;size:64"`
	IsDefault   bool      `gorm:"column:is_default;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Workspace) TableName() string {
	return "workspaces"
}
