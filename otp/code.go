// Package otp collects a six-digit one-time code and drives verification
// and resend against the session store.
package otp

import "strings"

// Length is the number of digits in a code.
const Length = 6

// Code is the working state of a partially entered code. A zero byte marks
// an empty position.
type Code [Length]byte

// Set writes digit d at position i. Non-digits and out-of-range positions
// are ignored and report false.
func (c *Code) Set(i int, d byte) bool {
	if i < 0 || i >= Length || d < '0' || d > '9' {
		return false
	}
	c[i] = d
	return true
}

// Unset empties position i.
func (c *Code) Unset(i int) {
	if i >= 0 && i < Length {
		c[i] = 0
	}
}

// Reset empties every position.
func (c *Code) Reset() {
	*c = Code{}
}

// Filled reports whether position i holds a digit.
func (c Code) Filled(i int) bool {
	return i >= 0 && i < Length && c[i] != 0
}

// Complete reports whether every position holds a digit.
func (c Code) Complete() bool {
	for _, d := range c {
		if d == 0 {
			return false
		}
	}
	return true
}

// String concatenates the filled positions.
func (c Code) String() string {
	var b strings.Builder
	for _, d := range c {
		if d != 0 {
			b.WriteByte(d)
		}
	}
	return b.String()
}

// Digits returns each position as a one-character string, "" when empty.
func (c Code) Digits() [Length]string {
	var out [Length]string
	for i, d := range c {
		if d != 0 {
			out[i] = string(rune(d))
		}
	}
	return out
}

// ExtractDigits strips every non-digit from text and keeps at most Length
// digits.
func ExtractDigits(text string) string {
	var b strings.Builder
	for i := 0; i < len(text) && b.Len() < Length; i++ {
		if text[i] >= '0' && text[i] <= '9' {
			b.WriteByte(text[i])
		}
	}
	return b.String()
}

// singleDigit reports whether s is exactly one ASCII digit.
func singleDigit(s string) bool {
	return len(s) == 1 && s[0] >= '0' && s[0] <= '9'
}
