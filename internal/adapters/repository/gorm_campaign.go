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

// GormCampaignRepository reads and writes the relational campaign model.
type GormCampaignRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormCampaignRepository wraps an open database handle.
func NewGormCampaignRepository(db *gorm.DB, opts ...Option) *GormCampaignRepository {
	o := applyOptions(opts)
	return &GormCampaignRepository{db: db, now: o.now}
}

func notFoundOr(err error, resource string, id int64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fault.NotFound(resource, id)
	}
	return err
}

func (r *GormCampaignRepository) Event(ctx context.Context, id int64) (model.Event, error) {
	var row eventRow
	if err := r.db.WithContext(ctx).Take(&row, id).Error; err != nil {
		return model.Event{}, notFoundOr(err, "event", id)
	}
	return row.toModel(), nil
}

func (r *GormCampaignRepository) CreateEvent(ctx context.Context, e model.Event) (model.Event, error) {
	row := eventRow{Name: e.Name, Description: e.Description, StartTime: e.StartTime, EndTime: e.EndTime}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.Event{}, err
	}
	return row.toModel(), nil
}

func (r *GormCampaignRepository) Team(ctx context.Context, id int64) (model.Team, error) {
	var row teamRow
	if err := r.db.WithContext(ctx).Take(&row, id).Error; err != nil {
		return model.Team{}, notFoundOr(err, "team", id)
	}
	return row.toModel(), nil
}

func (r *GormCampaignRepository) TeamsByEvent(ctx context.Context, eventID int64) ([]model.Team, error) {
	var rows []teamRow
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return teamsToModel(rows), nil
}

func (r *GormCampaignRepository) TeamsForUserInEvent(ctx context.Context, userID, eventID int64) ([]model.Team, error) {
	var rows []teamRow
	err := r.db.WithContext(ctx).
		Joins("JOIN user_teams ON user_teams.team_id = teams.id").
		Where("user_teams.user_id = ? AND teams.event_id = ?", userID, eventID).
		Order("teams.id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return teamsToModel(rows), nil
}

func (r *GormCampaignRepository) CreateTeam(ctx context.Context, t model.Team) (model.Team, error) {
	row := teamRow{Name: t.Name, Description: t.Description, EventID: t.EventID, CreatedAt: r.now().UTC()}
	err := r.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return model.Team{}, fault.Conflict("team %q already exists in event %d", t.Name, t.EventID)
	}
	if err != nil {
		return model.Team{}, err
	}
	return row.toModel(), nil
}

func (r *GormCampaignRepository) User(ctx context.Context, id int64) (model.User, error) {
	var row userRow
	if err := r.db.WithContext(ctx).Take(&row, id).Error; err != nil {
		return model.User{}, notFoundOr(err, "user", id)
	}
	return row.toModel(), nil
}

func (r *GormCampaignRepository) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	row := userRow{Username: u.Username, Email: u.Email, PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = r.now().UTC()
	}
	err := r.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return model.User{}, fault.Conflict("username or email already registered")
	}
	if err != nil {
		return model.User{}, err
	}
	return row.toModel(), nil
}

func (r *GormCampaignRepository) IsMember(ctx context.Context, userID, teamID int64) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&membershipRow{}).
		Where("user_id = ? AND team_id = ?", userID, teamID).
		Count(&n).Error
	return n > 0, err
}

func (r *GormCampaignRepository) AddMembership(ctx context.Context, userID, teamID int64) error {
	row := membershipRow{UserID: userID, TeamID: teamID, CreatedAt: r.now().UTC()}
	err := r.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fault.Conflict("user %d already in team %d", userID, teamID)
	}
	return err
}

func (r *GormCampaignRepository) TeamMembers(ctx context.Context, teamID int64) ([]model.User, error) {
	var rows []userRow
	err := r.db.WithContext(ctx).
		Joins("JOIN user_teams ON user_teams.user_id = users.id").
		Where("user_teams.team_id = ?", teamID).
		Order("users.id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.User, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

func (r *GormCampaignRepository) MembershipCounts(ctx context.Context, userIDs []int64) (map[int64]int, error) {
	out := make(map[int64]int, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		UserID int64
		N      int
	}
	err := r.db.WithContext(ctx).Model(&membershipRow{}).
		Select("user_id, count(*) AS n").
		Where("user_id IN ?", userIDs).
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.UserID] = row.N
	}
	return out, nil
}

func (r *GormCampaignRepository) CheckinsByTeam(ctx context.Context, teamID int64) ([]model.Checkin, error) {
	var rows []checkinRow
	if err := r.db.WithContext(ctx).Where("team_id = ?", teamID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Checkin, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

func (r *GormCampaignRepository) CreateCheckins(ctx context.Context, checkins []model.Checkin) ([]model.Checkin, error) {
	var inserted []model.Checkin
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted = inserted[:0]
		for _, c := range checkins {
			row := checkinFromModel(c)
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "request_key"}},
				DoNothing: true,
			}).Create(&row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				inserted = append(inserted, row.toModel())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

func teamsToModel(rows []teamRow) []model.Team {
	out := make([]model.Team, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out
}
