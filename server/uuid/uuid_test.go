package uuid_test

import (
	"testing"

	"github.com/classcall/classcall/server/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	seen := map[string]struct{}{}

	for i := 0; i < 100; i++ {
		id := uuid.New()
		assert.NotEmpty(t, id)
		assert.NotContains(t, seen, id)
		seen[id] = struct{}{}

		for _, r := range id {
			ok := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
			assert.True(t, ok, "unexpected character %q in id %q", r, id)
		}
	}
}
