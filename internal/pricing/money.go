package pricing

import "math"

// percentOf returns floor(amount * percent / 100) for non-negative inputs
// without overflowing int64.
func percentOf(amount, percent int64) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	whole := amount / 100
	rest := amount % 100
	return addClamped(mulClamped(whole, percent), mulClamped(rest, percent)/100)
}

func mulClamped(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}

func addClamped(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
