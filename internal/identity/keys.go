package identity

// Persistent preference keys. User state is scoped by API key.
const (
	KeyLTV = "ltv"

	userAttributesPrefix        = "user_attrs+"
	deletedUserAttributesPrefix = "deleted_user_attrs+"
	userIdentitiesPrefix        = "user_identities+"
)

// Identity record fields as stored and uploaded.
const (
	FieldType      = "n"
	FieldID        = "i"
	FieldFirstSeen = "f"
	FieldDateFirst = "dfs"
)

// UserAttributesKey returns the prefs key holding the attribute map.
func UserAttributesKey(apiKey string) string {
	return userAttributesPrefix + apiKey
}

// DeletedUserAttributesKey returns the prefs key holding attributes removed
// since the last history upload.
func DeletedUserAttributesKey(apiKey string) string {
	return deletedUserAttributesPrefix + apiKey
}

// UserIdentitiesKey returns the prefs key holding the identity list.
func UserIdentitiesKey(apiKey string) string {
	return userIdentitiesPrefix + apiKey
}
