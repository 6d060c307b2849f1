package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/okian/rally/internal/domain/fault"
	"github.com/okian/rally/internal/domain/model"
)

// GormScoreStore keeps scores in the scores table.
type GormScoreStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormScoreStore wraps an open database handle.
func NewGormScoreStore(db *gorm.DB, opts ...Option) *GormScoreStore {
	o := applyOptions(opts)
	return &GormScoreStore{db: db, now: o.now}
}

func (s *GormScoreStore) Get(ctx context.Context, teamID int64) (model.ScoreRecord, error) {
	var row scoreRow
	err := s.db.WithContext(ctx).Where("team_id = ?", teamID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ScoreRecord{}, fault.NotFound("score for team", teamID)
	}
	if err != nil {
		return model.ScoreRecord{}, err
	}
	return row.toModel(), nil
}

func (s *GormScoreStore) GetMany(ctx context.Context, teamIDs []int64) (map[int64]model.ScoreRecord, error) {
	out := make(map[int64]model.ScoreRecord, len(teamIDs))
	if len(teamIDs) == 0 {
		return out, nil
	}
	var rows []scoreRow
	if err := s.db.WithContext(ctx).Where("team_id IN ?", teamIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.TeamID] = r.toModel()
	}
	return out, nil
}

func (s *GormScoreStore) Upsert(ctx context.Context, teamID int64, score float64, opID string) (model.ScoreRecord, error) {
	row := scoreRow{TeamID: teamID, Score: score, UpdatedAt: s.now().UTC(), LastOpID: opID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "team_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"score":      score,
			"updated_at": row.UpdatedAt,
			"last_op_id": opID,
		}),
	}).Create(&row).Error
	if err != nil {
		return model.ScoreRecord{}, err
	}
	return row.toModel(), nil
}

func (s *GormScoreStore) Apply(ctx context.Context, teamID int64, opID string, fn ApplyFunc) (model.ScoreRecord, bool, error) {
	if fn == nil {
		return model.ScoreRecord{}, false, fault.Logic(ErrNilApplyFunc)
	}
	var (
		rec     model.ScoreRecord
		applied bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := scoreRow{TeamID: teamID, UpdatedAt: s.now().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}

		var row scoreRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("team_id = ?", teamID).
			Take(&row).Error; err != nil {
			return err
		}

		if opID != "" {
			// Under the row lock, so no other writer can race this insert.
			mark := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&scoreOpRow{TeamID: teamID, OpID: opID, AppliedAt: s.now().UTC()})
			if mark.Error != nil {
				return mark.Error
			}
			if mark.RowsAffected == 0 {
				rec = row.toModel()
				return nil
			}
		}

		next, err := fn(row.Score)
		if err != nil {
			return err
		}
		row.Score = next
		row.UpdatedAt = s.now().UTC()
		row.LastOpID = opID
		if err := tx.Model(&scoreRow{}).
			Where("team_id = ?", teamID).
			Updates(map[string]any{
				"score":      row.Score,
				"updated_at": row.UpdatedAt,
				"last_op_id": row.LastOpID,
			}).Error; err != nil {
			return err
		}
		rec = row.toModel()
		applied = true
		return nil
	})
	if err != nil {
		return model.ScoreRecord{}, false, err
	}
	return rec, applied, nil
}
