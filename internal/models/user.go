package models

import "time"

// User is the local account external identities are reconciled onto.
type User struct {
	ID              string          `bson:"_id,omitempty" json:"id"`
	Email           string          `bson:"email" json:"email"`
	NormalizedEmail string          `bson:"normalizedEmail" json:"-"`
	UserName        string          `bson:"userName" json:"userName"`
	FirstName       string          `bson:"firstName" json:"firstName"`
	LastName        string          `bson:"lastName" json:"lastName"`
	EmailConfirmed  bool            `bson:"emailConfirmed" json:"emailConfirmed"`
	Roles           []string        `bson:"roles" json:"roles"`
	Logins          []ExternalLogin `bson:"logins" json:"logins,omitempty"`
	CreatedAt       time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time       `bson:"updatedAt" json:"updatedAt"`
}

// ExternalLogin links a provider subject to exactly one local user.
type ExternalLogin struct {
	Provider      string `bson:"provider" json:"provider"`
	ProviderKey   string `bson:"providerKey" json:"providerKey"`
	NormalizedKey string `bson:"normalizedKey" json:"-"`
	DisplayName   string `bson:"displayName" json:"displayName"`
}

// ExternalIdentity is parsed from an inbound claim set and never stored.
type ExternalIdentity struct {
	NameIdentifier string
	Email          string
	FirstName      string
	LastName       string
	DisplayName    string
	Provider       string
}

// UserSnapshot is the user view returned to clients.
type UserSnapshot struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	UserName       string   `json:"userName"`
	FirstName      string   `json:"firstName"`
	LastName       string   `json:"lastName"`
	DisplayName    string   `json:"displayName"`
	EmailConfirmed bool     `json:"emailConfirmed"`
	Roles          []string `json:"roles"`
}
