package model

import "time"

// User is a user directory record. The directory is an upstream identity
// service; the core only consults it for existence and display names.
type User struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Role       string    `json:"role"`
	Occupation string    `json:"occupation"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type UserPublic struct {
	ID         string `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Occupation string `json:"occupation,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:         u.ID,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Occupation: u.Occupation,
		AvatarURL:  u.AvatarURL,
	}
}

// DisplayName is used for push notification titles and system messages.
func (u *User) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
