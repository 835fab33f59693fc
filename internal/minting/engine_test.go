package minting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMintKey(t *testing.T) {
	t.Run("should be stable for identical inputs", func(t *testing.T) {
		a := MintKey("dev-1", 1717000000000, "enr-1")
		b := MintKey("dev-1", 1717000000000, "enr-1")

		assert.Equal(t, a, b)
		assert.Equal(t, "dev-1:1717000000000:enr-1", a)
	})

	t.Run("should differ per enrollment for the same reading", func(t *testing.T) {
		a := MintKey("dev-1", 1717000000000, "enr-1")
		b := MintKey("dev-1", 1717000000000, "enr-2")

		assert.NotEqual(t, a, b)
	})

	t.Run("should differ per reading timestamp", func(t *testing.T) {
		a := MintKey("dev-1", 1717000000000, "enr-1")
		b := MintKey("dev-1", 1717000060000, "enr-1")

		assert.NotEqual(t, a, b)
	})
}
