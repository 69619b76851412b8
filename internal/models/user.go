package models

// UserRef is the slice of a user profile carried inside conversations,
// messages and call offers.
type UserRef struct {
	ID     string `bson:"_id" json:"_id"`
	Name   string `bson:"name,omitempty" json:"name,omitempty"`
	Avatar string `bson:"avatar,omitempty" json:"avatar,omitempty"`
}

// IsZero reports whether the reference points at nobody
func (u UserRef) IsZero() bool {
	return u.ID == ""
}
