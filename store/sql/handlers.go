package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func userHandlers() repository.ModelHandlers[*userRecord] {
	return repository.ModelHandlers[*userRecord]{
		NewRecord: func() *userRecord {
			return &userRecord{}
		},
		GetID: func(record *userRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *userRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "email"
		},
		GetIdentifierValue: func(record *userRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.Email)
		},
	}
}

func notificationHandlers() repository.ModelHandlers[*notificationRecord] {
	return repository.ModelHandlers[*notificationRecord]{
		NewRecord: func() *notificationRecord {
			return &notificationRecord{}
		},
		GetID: func(record *notificationRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *notificationRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *notificationRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func rewardTransactionHandlers() repository.ModelHandlers[*rewardTransactionRecord] {
	return repository.ModelHandlers[*rewardTransactionRecord]{
		NewRecord: func() *rewardTransactionRecord {
			return &rewardTransactionRecord{}
		},
		GetID: func(record *rewardTransactionRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *rewardTransactionRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *rewardTransactionRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
