package friends

// Edge is one directed half of a symmetric friendship. Every accepted
// friendship stores two rows, one per direction, so lookups are always keyed
// by the owning side.
type Edge struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;uniqueIndex:uq_friend_pair,priority:1"`
	FriendID         string `gorm:"column:friend_id;size:190;not null;uniqueIndex:uq_friend_pair,priority:2"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Edge) TableName() string {
	return "friend_edges"
}
