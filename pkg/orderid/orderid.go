// Package orderid generates human-readable order identifiers.
//
// A main order ID looks like "TIF-482-9f1c2ab0e3d4": an acronym of the
// event name, three random digits and a unique hex suffix. Sub ticket IDs
// share the parent's unique tail so a gate scanner can group them.
package orderid

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const acronymWords = 3

// Acronym builds the upper-case initials of up to the first three words of
// the event name, skipping words that do not start with a letter.
func Acronym(eventName string) string {
	var b strings.Builder
	for _, w := range strings.Fields(eventName) {
		r := []rune(w)[0]
		if !unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() >= acronymWords {
			break
		}
	}
	if b.Len() == 0 {
		return "EVT"
	}
	return b.String()
}

// New returns a fresh order ID for the given event name.
func New(eventName string) string {
	return fmt.Sprintf("%s-%03d-%s", Acronym(eventName), rand.Intn(1000), uniqueSuffix())
}

// NewSub returns the sub ticket order ID for position seq under a parent
// order. Positions start at one.
func NewSub(parentOrderID string, seq int) string {
	return fmt.Sprintf("%s-sub-%d-%s", parentOrderID, seq, uniqueSuffix())
}

// uniqueSuffix returns 12 hex characters sourced from a v4 UUID.
func uniqueSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
