package store

import (
	"context"
	"fmt"

	"github.com/cogivn/daisy-flower-sub000/internal/models"
)

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return &user, nil
}

// UpdateUserSpend persists the recomputed spend and level. The lock flag is
// owned by administrators and never written here.
func (s *Store) UpdateUserSpend(ctx context.Context, userID, totalSpent int64, level string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET total_spent = $1, level = $2, updated_at = NOW() WHERE id = $3",
		totalSpent, level, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: user %d", ErrNotFound, userID)
	}
	return nil
}

// ListUserIDs returns every user id, used when level thresholds change.
func (s *Store) ListUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, "SELECT id FROM users ORDER BY id")
	return ids, err
}

// GetLevelSettings loads the threshold table as an ordered snapshot
func (s *Store) GetLevelSettings(ctx context.Context) (models.LevelSettings, error) {
	var rows []models.LevelSetting
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM user_level_settings ORDER BY min_spending")
	if err != nil {
		return nil, err
	}
	return models.NewLevelSettings(rows), nil
}
