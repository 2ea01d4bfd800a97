package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesIdentity(t *testing.T) {
	base := New("boom")
	wrapped := Wrap(base, "context")

	assert.True(t, Is(wrapped, base))
	assert.Equal(t, "context: boom", wrapped.Error())
}

func TestMarkKeepsMessage(t *testing.T) {
	sentinel := New("sentinel")
	err := Mark(Newf("provider said %q", "no"), sentinel)

	assert.True(t, Is(err, sentinel))
	assert.Equal(t, `provider said "no"`, err.Error())
}

func TestHints(t *testing.T) {
	err := WithHint(New("not configured"), "set an API key")
	assert.Contains(t, FlattenHints(err), "set an API key")
}
