package records

import (
	"context"
	"fmt"
	"strings"

	"github.com/lunaria-app/lunaria/internal/offline/cache"
	"github.com/lunaria-app/lunaria/internal/offline/schema"
)

// ProfileService manages the single profile of each user. Profiles are
// overwritten, never deleted.
type ProfileService struct {
	*base
}

// Save creates or overwrites the user's profile and returns its id. An
// existing profile for the same user keeps its id.
func (s *ProfileService) Save(ctx context.Context, p *schema.Profile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p = p.Clone()
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("invalid profile: %w", err)
	}

	err := s.c.Batch(func(tx *cache.Tx) error {
		key := resolveExisting(tx, schema.TableProfiles, p.ID)
		if key == "" {
			if existing := profileOf(tx, p.UserID); existing != nil {
				key = existing.ID
			}
		}
		isNew := key == ""
		if isNew {
			key = schema.NewTemporaryID()
		}
		p.ID = key
		p.Synced = false
		p.UpdatedAt = s.stamp()
		return s.write(tx, p, isNew)
	})
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

// Update overwrites an existing profile.
func (s *ProfileService) Update(ctx context.Context, p *schema.Profile) error {
	if _, err := s.GetByID(p.ID); err != nil {
		return err
	}
	_, err := s.Save(ctx, p)
	return err
}

// GetByID returns the profile with id (temporary ids resolve after push).
func (s *ProfileService) GetByID(id string) (*schema.Profile, error) {
	p, ok := cache.Resolve[*schema.Profile](s.c, schema.TableProfiles, id)
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// GetByUserID returns the user's profile.
func (s *ProfileService) GetByUserID(userID string) (*schema.Profile, error) {
	ps := cache.Query(s.c, schema.TableProfiles, func(p *schema.Profile) bool {
		return p.UserID == userID
	}, nil)
	if len(ps) == 0 {
		return nil, fmt.Errorf("profile of user %s: %w", userID, ErrNotFound)
	}
	return ps[0], nil
}

// GetAll returns every stored profile ordered by user id.
func (s *ProfileService) GetAll() []*schema.Profile {
	return cache.Query(s.c, schema.TableProfiles, nil, func(a, b *schema.Profile) int {
		return strings.Compare(a.UserID, b.UserID)
	})
}

func profileOf(tx *cache.Tx, userID string) *schema.Profile {
	ps := cache.TxQuery(tx, schema.TableProfiles, func(p *schema.Profile) bool {
		return p.UserID == userID
	})
	if len(ps) == 0 {
		return nil
	}
	return ps[0]
}
