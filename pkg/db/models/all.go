package models

// All lists every model in dependency order, for AutoMigrate in tests and
// sqlite deployments.
func All() []any {
	return []any{
		&Sorn{},
		&Submission{},
		&SubmissionEvent{},
		&SubmissionArchive{},
		&AdminNotice{},
		&NotificationPreference{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
