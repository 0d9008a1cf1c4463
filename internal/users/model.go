package users

// User models a registered account. TravelVisibleToFriends mirrors the
// settings.travelVisibleToFriends flag inside the owner's app data blob so feed
// queries never deserialize the blob.
type User struct {
	ID                     string `gorm:"column:id;primaryKey;size:190;not null"`
	FirstName              string `gorm:"column:first_name;size:64;not null"`
	LastName               string `gorm:"column:last_name;size:64;not null"`
	Username               string `gorm:"column:username;size:32;not null;uniqueIndex"`
	Email                  string `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash           string `gorm:"column:password_hash;size:190;not null"`
	ProfilePicPath         string `gorm:"column:profile_pic_path;size:512;not null;default:''"`
	TravelVisibleToFriends bool   `gorm:"column:travel_visible_to_friends;not null;default:true"`
	IsAdmin                bool   `gorm:"column:is_admin;not null;default:false"`
	IsDeleted              bool   `gorm:"column:is_deleted;not null;default:false"`
	CreatedAtSeconds       int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds       int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// PublicProfile is the subset of a user record visible to other users.
type PublicProfile struct {
	ID                     string `json:"id"`
	Username               string `json:"username"`
	FirstName              string `json:"first_name"`
	LastName               string `json:"last_name"`
	ProfilePicPath         string `json:"profile_pic_path,omitempty"`
	TravelVisibleToFriends bool   `json:"travel_visible_to_friends"`
}

// Public projects the record into its friend-visible shape.
func (u User) Public() PublicProfile {
	return PublicProfile{
		ID:                     u.ID,
		Username:               u.Username,
		FirstName:              u.FirstName,
		LastName:               u.LastName,
		ProfilePicPath:         u.ProfilePicPath,
		TravelVisibleToFriends: u.TravelVisibleToFriends,
	}
}
