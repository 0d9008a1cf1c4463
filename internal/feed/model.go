package feed

import "time"

// KindDataUpdated tags activities emitted when a user applies an app-data patch.
const KindDataUpdated = "data_updated"

// DefaultActivityTTL bounds how long an activity stays visible in friend feeds.
const DefaultActivityTTL = 7 * 24 * time.Hour

// Activity is one feed-worthy event. Rows outlive their expiry only until the
// next feed read sweeps them.
type Activity struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	ActorUserID      string `gorm:"column:actor_user_id;size:190;not null;index"`
	Kind             string `gorm:"column:kind;size:64;not null;index"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	ExpiresAtSeconds int64  `gorm:"column:expires_at_s;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Activity) TableName() string {
	return "activities"
}

// NewActivity builds an activity record expiring DefaultActivityTTL after now.
// Callers insert it inside their own transaction so emission commits atomically
// with the write that caused it.
func NewActivity(id, actorUserID, kind, payloadJSON string, now time.Time) Activity {
	created := now.UTC()
	return Activity{
		ID:               id,
		ActorUserID:      actorUserID,
		Kind:             kind,
		PayloadJSON:      payloadJSON,
		CreatedAtSeconds: created.Unix(),
		ExpiresAtSeconds: created.Add(DefaultActivityTTL).Unix(),
	}
}

// Reaction is the single label a user attaches to an activity. A later
// reaction from the same user overwrites the label in place.
type Reaction struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	ActivityID       string `gorm:"column:activity_id;size:190;not null;uniqueIndex:uq_react_once,priority:1"`
	UserID           string `gorm:"column:user_id;size:190;not null;uniqueIndex:uq_react_once,priority:2"`
	Label            string `gorm:"column:label;size:16;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Reaction) TableName() string {
	return "activity_reactions"
}

// Item is one feed entry as served to a viewer.
type Item struct {
	ID               string           `json:"id"`
	ActorUserID      string           `json:"actor_user_id"`
	Kind             string           `json:"kind"`
	PayloadJSON      string           `json:"-"`
	CreatedAtSeconds int64            `json:"created_at_s"`
	ExpiresAtSeconds int64            `json:"expires_at_s"`
	Reactions        map[string]int64 `json:"reactions"`
}
