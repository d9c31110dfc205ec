package collection

import (
	"time"

	"gorm.io/datatypes"
)

// Collection is a node in the user-defined folder hierarchy of a workspace.
// WorkspaceID is immutable after creation; ParentID may point at another
// collection in the same workspace or be nil for a root node.
type Collection struct {
	ID                string         `gorm:"column:id;primaryKey;size:190;not null"`
	WorkspaceID       string         `gorm:"column:workspace_id;size:190;not null;index"`
	ParentID          *string        `gorm:"column:parent_id;size:190;index"`
	Name              string         `gorm:"column:name;size:320;not null"`
	Description       string         `gorm:"column:description;type:text"`
	Color             string         `gorm:"column:color;size:32"`
	Icon              string         `gorm:"column:icon;size:64"`
	SortOrder         int            `gorm:"column:sort_order;not null;default:0"`
	IsExpanded        bool           `gorm:"column:is_expanded;not null;default:true"`
	IsSmartCollection bool           `gorm:"column:is_smart_collection;not null;default:false"`
	FilterRules       datatypes.JSON `gorm:"column:filter_rules"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Collection) TableName() string {
	return "collections"
}

// TreeNode is a collection together with its ordered children, as produced by
// tree assembly.
type TreeNode struct {
	Collection
	Children []*TreeNode
}
