package notifications

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/sorn-tracker/internal/repo"
	"github.com/angelmondragon/sorn-tracker/internal/sorns"
	"github.com/angelmondragon/sorn-tracker/pkg/db"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
)

// Preferences are one recipient's opt-ins. The zero value opts out of
// everything, so use AllPreferences for unknown recipients.
type Preferences struct {
	Submissions  bool
	Status       bool
	Publications bool
	Errors       bool
}

// AllPreferences opts in to every kind.
func AllPreferences() Preferences {
	return Preferences{Submissions: true, Status: true, Publications: true, Errors: true}
}

// Allows reports whether the recipient wants kind.
func (p Preferences) Allows(kind enums.NotificationKind) bool {
	switch kind {
	case enums.NotificationKindSubmission:
		return p.Submissions
	case enums.NotificationKindStatus:
		return p.Status
	case enums.NotificationKindPublication:
		return p.Publications
	case enums.NotificationKindError:
		return p.Errors
	default:
		return true
	}
}

// Directory resolves who may be notified.
type Directory interface {
	Administrators(ctx context.Context) ([]string, error)
	SornAuthor(ctx context.Context, sornID uint64) (string, bool, error)
	Preferences(ctx context.Context, email string) (Preferences, error)
}

// PreferenceRepository stores per-recipient opt-outs.
type PreferenceRepository interface {
	Get(ctx context.Context, email string) (*models.NotificationPreference, bool, error)
	Upsert(ctx context.Context, pref models.NotificationPreference) error
}

type preferenceRepository struct {
	base repo.Base
}

func NewPreferenceRepository(conn *gorm.DB) PreferenceRepository {
	return &preferenceRepository{base: repo.NewBase(conn)}
}

func (r *preferenceRepository) Get(ctx context.Context, email string) (*models.NotificationPreference, bool, error) {
	var pref models.NotificationPreference
	err := r.base.DB(ctx).Where("email = ?", normalizeEmail(email)).Take(&pref).Error
	if db.IsRecordNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, repo.Storage(err, "get notification preference")
	}
	return &pref, true, nil
}

func (r *preferenceRepository) Upsert(ctx context.Context, pref models.NotificationPreference) error {
	pref.Email = normalizeEmail(pref.Email)
	if pref.Email == "" {
		return fmt.Errorf("email required")
	}
	err := r.base.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"notify_submissions", "notify_status", "notify_publications", "notify_errors", "updated_at",
		}),
	}).Create(&pref).Error
	if err != nil {
		return repo.Storage(err, "upsert notification preference")
	}
	return nil
}

// StoreDirectory reads administrators from configuration and authors and
// preferences from the database.
type StoreDirectory struct {
	admins []string
	sorns  sorns.Repository
	prefs  PreferenceRepository
}

func NewStoreDirectory(admins []string, sornRepo sorns.Repository, prefs PreferenceRepository) (*StoreDirectory, error) {
	if sornRepo == nil {
		return nil, fmt.Errorf("sorns repository required")
	}
	if prefs == nil {
		return nil, fmt.Errorf("preference repository required")
	}
	return &StoreDirectory{admins: admins, sorns: sornRepo, prefs: prefs}, nil
}

func (d *StoreDirectory) Administrators(context.Context) ([]string, error) {
	out := make([]string, 0, len(d.admins))
	for _, a := range d.admins {
		if e := normalizeEmail(a); e != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *StoreDirectory) SornAuthor(ctx context.Context, sornID uint64) (string, bool, error) {
	sorn, found, err := d.sorns.Get(ctx, sornID)
	if err != nil || !found {
		return "", false, err
	}
	if sorn.AuthorEmail == nil || normalizeEmail(*sorn.AuthorEmail) == "" {
		return "", false, nil
	}
	return normalizeEmail(*sorn.AuthorEmail), true, nil
}

func (d *StoreDirectory) Preferences(ctx context.Context, email string) (Preferences, error) {
	pref, found, err := d.prefs.Get(ctx, email)
	if err != nil {
		return Preferences{}, err
	}
	if !found {
		return AllPreferences(), nil
	}
	return Preferences{
		Submissions:  pref.NotifySubmissions,
		Status:       pref.NotifyStatus,
		Publications: pref.NotifyPublications,
		Errors:       pref.NotifyErrors,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
