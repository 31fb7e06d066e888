package dispatch

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHumanizerDelayRange(t *testing.T) {
	h := NewHumanizer(2*time.Second, 6*time.Second, false)
	for i := 0; i < 100; i++ {
		d := h.Delay()
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}

func TestHumanizerZeroDelay(t *testing.T) {
	h := NewHumanizer(0, 0, false)
	assert.Equal(t, time.Duration(0), h.Delay())
}

func TestHumanizerVariationOff(t *testing.T) {
	h := NewHumanizer(0, 0, false)
	msg := "Your verification code is: 123456"
	assert.Equal(t, msg, h.Vary(msg))
}

func TestHumanizerVariationEquivalent(t *testing.T) {
	h := NewHumanizer(0, 0, true)
	msg := "Your verification code is:\n123456\n\nThis code expires in 90 seconds\n\nKeep this code private"

	for i := 0; i < 200; i++ {
		out := h.Vary(msg)
		// the code must survive any rewording
		assert.Contains(t, out, "123456")
		// at most one phrase changes per send
		changed := 0
		for _, phrase := range []string{"Your verification code is:", "This code expires in 90 seconds", "Keep this code private"} {
			if !strings.Contains(out, phrase) {
				changed++
			}
		}
		assert.LessOrEqual(t, changed, 1)
	}
}
