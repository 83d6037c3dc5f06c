package stm

import (
	"math"
	"time"
)

const (
	recencyWeight        = 0.6
	usageWeight          = 0.4
	recencyHalfLifeHours = 24.0
	usageSaturation      = 10.0
)

// Salience combines recency (exponential decay since the memory was last
// touched) and usage (access count, saturating at usageSaturation) into a
// score in [0, 1]. Recomputed lazily whenever a caller needs it, not
// continuously.
func Salience(createdAt, lastAccessed time.Time, accessCount int, now time.Time) float64 {
	ref := createdAt
	if lastAccessed.After(ref) {
		ref = lastAccessed
	}

	ageHours := now.Sub(ref).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recency := math.Exp(-ageHours * math.Ln2 / recencyHalfLifeHours)

	usage := float64(accessCount) / usageSaturation
	if usage > 1 {
		usage = 1
	}

	score := recencyWeight*recency + usageWeight*usage
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
