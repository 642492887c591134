package enums

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubmissionStatusPartitions(t *testing.T) {
	for _, s := range TerminalStatuses {
		require.False(t, s.IsReconcilable(), "terminal status %s must not be polled", s)
		require.True(t, s.IsArchivable())
	}
	for _, s := range ReconcilableStatuses {
		require.False(t, s.IsTerminal())
		require.False(t, s.IsArchivable())
	}
	require.False(t, SubmissionStatusError.IsTerminal())
	require.False(t, SubmissionStatusError.IsReconcilable())
	require.True(t, SubmissionStatusError.IsArchivable())
}

func TestParseSubmissionStatus(t *testing.T) {
	got, err := ParseSubmissionStatus("changes_requested")
	require.NoError(t, err)
	require.Equal(t, SubmissionStatusChangesRequested, got)

	_, err = ParseSubmissionStatus("pending")
	require.Error(t, err)
	require.False(t, SubmissionStatus("pending").IsValid())
}

func TestSubmissionStatusLabel(t *testing.T) {
	require.Equal(t, "In Review", SubmissionStatusInReview.Label())
	require.Equal(t, "Published", SubmissionStatusPublished.Label())
}

func TestSubmissionStatusesReturnsCopy(t *testing.T) {
	all := SubmissionStatuses()
	all[0] = "mutated"
	require.Equal(t, SubmissionStatusDraft, SubmissionStatuses()[0])
}
