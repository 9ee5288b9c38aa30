package services

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"playmate-chat/models"
)

//go:generate mockgen -destination=mocks/mock_profiles.go -package=mocks playmate-chat/services ProfileResolver

// ProfileResolver is the boundary to the user-profile subsystem.
type ProfileResolver interface {
	Profiles(ctx context.Context, userIDs []string) (map[string]models.Profile, error)
}

// UserProfiles reads display identities straight from the users table.
type UserProfiles struct {
	db *gorm.DB
}

func NewUserProfiles(db *gorm.DB) *UserProfiles {
	return &UserProfiles{db: db}
}

func (p *UserProfiles) Profiles(ctx context.Context, userIDs []string) (map[string]models.Profile, error) {
	out := make(map[string]models.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var users []models.User
	if err := p.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "userProfiles.Profiles.Find")
	}
	for i := range users {
		out[users[i].ID] = users[i].Profile()
	}
	return out, nil
}
