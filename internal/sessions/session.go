package sessions

import "time"

// Session is a signed-in local user. Deleting it revokes every token that
// references its ID.
type Session struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"userId" json:"userId"`
	Provider  string    `bson:"provider,omitempty" json:"provider,omitempty"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
