package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetFirstHas(t *testing.T) {
	c := Claims{Email: "  a@x.com ", Name: "", GitHubLogin: "octo"}
	assert.Equal(t, "a@x.com", c.Get(Email))
	assert.False(t, c.Has(Name))
	assert.True(t, c.Has(GitHubLogin))
	assert.Equal(t, "octo", c.First(GitHubName, Name, GitHubLogin))

	var empty Claims
	assert.Equal(t, "", empty.Get(Email))
}

func TestFromMap(t *testing.T) {
	c := FromMap(map[string]interface{}{
		"sub":            "abc",
		"id":             float64(12345),
		"email_verified": true,
		"groups":         []interface{}{"a"},
	})
	assert.Equal(t, "abc", c.Get("sub"))
	assert.Equal(t, "12345", c.Get("id"))
	assert.Equal(t, "true", c.Get("email_verified"))
	assert.False(t, c.Has("groups"))
}

func TestCloneIsIndependent(t *testing.T) {
	c := Claims{Email: "a@x.com"}
	cp := c.Clone()
	cp[Email] = "b@x.com"
	assert.Equal(t, "a@x.com", c.Get(Email))
}
