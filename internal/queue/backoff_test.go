package queue

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff_Bounds(t *testing.T) {
	rand.Seed(1)
	b := Backoff{BaseSeconds: 5, CapSeconds: 1800}

	d0 := b.Next(-1)
	require.GreaterOrEqual(t, d0, 4*time.Second)
	require.LessOrEqual(t, d0, 6*time.Second)

	d10 := b.Next(10)
	require.GreaterOrEqual(t, d10, 1500*time.Second)
	require.LessOrEqual(t, d10, 2100*time.Second)
}

func TestBackoff_DefaultsWhenUnset(t *testing.T) {
	b := Backoff{}
	d := b.Next(0)
	require.GreaterOrEqual(t, d, 4*time.Second)
	require.LessOrEqual(t, d, 6*time.Second)
}
