package xid

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFormat(t *testing.T) {
	id := New("branch")
	assert.Regexp(t, regexp.MustCompile(`^branch_\d{13}_[0-9a-f]{10}$`), id)
	assert.True(t, IsLocal("branch", id))
	assert.False(t, IsLocal("product", id))
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New("sale")
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
