package models

// All lists every model the schema is migrated for.
func All() []any {
	return []any{
		&User{},
		&UserRecord{},
		&Record{},
		&WrittenText{},
	}
}
