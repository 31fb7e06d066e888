package dispatch

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Wording swaps applied to outbound messages so repeated sends do not carry
// byte-identical bodies. Every pair is semantically equivalent to the
// original template text.
var wordingSwaps = [][2]string{
	{"Your verification code is:", "Here's your verification code:"},
	{"Your verification code is:", "Your code is:"},
	{"This code expires in 90 seconds", "Valid for 90 seconds"},
	{"This code expires in 90 seconds", "Expires in 90 seconds"},
	{"Keep this code private", "Please keep this code private"},
	{"Keep this code private", "Don't share this code"},
	{"We'll never ask for it via phone or email", "We won't ask for it via phone or email"},
	{"If you didn't request this, please ignore", "If you didn't request this code, please ignore"},
	{"Thank you for using", "Thanks for using"},
	{"Thank you for using", "Thank you for choosing"},
}

// Humanizer is the pacing and wording-variation policy applied before each
// transport call. It is pure policy: a zero delay range and variation off
// yield fully deterministic dispatch, which is how tests run it.
type Humanizer struct {
	minDelay time.Duration
	maxDelay time.Duration
	vary     bool

	mu  sync.Mutex
	rng *rand.Rand // pacing jitter only, never credential material
}

func NewHumanizer(minDelay, maxDelay time.Duration, vary bool) *Humanizer {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Humanizer{
		minDelay: minDelay,
		maxDelay: maxDelay,
		vary:     vary,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay draws a randomized pre-send pause from the configured range.
func (h *Humanizer) Delay() time.Duration {
	if h.maxDelay <= 0 {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxDelay == h.minDelay {
		return h.minDelay
	}
	return h.minDelay + time.Duration(h.rng.Int63n(int64(h.maxDelay-h.minDelay)+1))
}

// Vary rewrites one phrase of the message with an equivalent wording, or
// returns it unchanged (the unmodified body stays in the rotation).
func (h *Humanizer) Vary(message string) string {
	if !h.vary {
		return message
	}
	h.mu.Lock()
	pick := h.rng.Intn(len(wordingSwaps) + 1)
	h.mu.Unlock()

	if pick == len(wordingSwaps) {
		return message
	}
	swap := wordingSwaps[pick]
	return strings.Replace(message, swap[0], swap[1], 1)
}
