package models

// All returns every model in dependency order for AutoMigrate
func All() []any {
	return []any{
		&ListingModel{},
		&ListingPostModel{},
		&SyncJobModel{},
		&SyncOperationModel{},
		&SyncAuditModel{},
		&JobModel{},
		&RetryAttemptModel{},
		&DeadLetterModel{},
		&PollScheduleModel{},
	}
}
