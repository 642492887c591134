package notifications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/sorn-tracker/internal/repo/testdb"
	"github.com/angelmondragon/sorn-tracker/internal/sorns"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
)

func TestPreferencesAllows(t *testing.T) {
	prefs := Preferences{Publications: true}
	assert.True(t, prefs.Allows(enums.NotificationKindPublication))
	assert.False(t, prefs.Allows(enums.NotificationKindError))
	assert.False(t, prefs.Allows(enums.NotificationKindSubmission))

	all := AllPreferences()
	for _, kind := range []enums.NotificationKind{
		enums.NotificationKindSubmission, enums.NotificationKindStatus,
		enums.NotificationKindPublication, enums.NotificationKindError,
	} {
		assert.True(t, all.Allows(kind), kind)
	}
}

func TestStoreDirectory(t *testing.T) {
	conn := testdb.New(t)
	ctx := context.Background()

	author := "  Author@Agency.gov "
	withAuthor := models.Sorn{Title: "HR", Content: "c", AuthorEmail: &author}
	orphan := models.Sorn{Title: "Orphan", Content: "c"}
	require.NoError(t, conn.Create(&withAuthor).Error)
	require.NoError(t, conn.Create(&orphan).Error)

	prefs := NewPreferenceRepository(conn)
	dir, err := NewStoreDirectory([]string{"Admin@agency.gov", " "}, sorns.NewRepository(conn), prefs)
	require.NoError(t, err)

	admins, err := dir.Administrators(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin@agency.gov"}, admins)

	email, found, err := dir.SornAuthor(ctx, withAuthor.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "author@agency.gov", email)

	_, found, err = dir.SornAuthor(ctx, orphan.ID)
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = dir.SornAuthor(ctx, 9999)
	require.NoError(t, err)
	assert.False(t, found)

	got, err := dir.Preferences(ctx, "nobody@agency.gov")
	require.NoError(t, err)
	assert.Equal(t, AllPreferences(), got)

	require.NoError(t, prefs.Upsert(ctx, models.NotificationPreference{Email: "Author@Agency.gov", NotifyErrors: true}))
	got, err = dir.Preferences(ctx, "author@agency.gov")
	require.NoError(t, err)
	assert.Equal(t, Preferences{Errors: true}, got)

	require.NoError(t, prefs.Upsert(ctx, models.NotificationPreference{Email: "author@agency.gov", NotifyStatus: true}))
	got, err = dir.Preferences(ctx, "author@agency.gov")
	require.NoError(t, err)
	assert.Equal(t, Preferences{Status: true}, got)
}

func TestPreferenceUpsertRequiresEmail(t *testing.T) {
	prefs := NewPreferenceRepository(testdb.New(t))
	assert.Error(t, prefs.Upsert(context.Background(), models.NotificationPreference{Email: " "}))
}
