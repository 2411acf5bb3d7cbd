package pricing

import "github.com/cogivn/daisy-flower-sub000/internal/models"

// ResolveLevel returns the highest tier whose threshold is at most
// totalSpent, defaulting to the lowest tier.
func ResolveLevel(settings models.LevelSettings, totalSpent int64) string {
	resolved := settings.Lowest()
	for _, row := range settings {
		if row.MinSpending <= totalSpent {
			resolved = row.Level
		}
	}
	return resolved
}

// LevelDecision is the outcome of applying the lock policy to a resolved tier.
type LevelDecision struct {
	Level   string
	Changed bool
	// Blocked is set when a locked user would have been downgraded.
	Blocked bool
}

// DecideLevel applies the lock policy. A locked user keeps the current tier
// as a floor: downgrades are skipped, upgrades go through and the lock stays.
func DecideLevel(settings models.LevelSettings, user models.User, resolved string) LevelDecision {
	if resolved == "" || resolved == user.Level {
		return LevelDecision{Level: user.Level}
	}
	if user.LevelLocked && settings.Rank(resolved) < settings.Rank(user.Level) {
		return LevelDecision{Level: user.Level, Blocked: true}
	}
	return LevelDecision{Level: resolved, Changed: true}
}
