package shared

// RefreshLockKey builds the redis key serializing cache refreshes for one
// user and tenant across worker instances.
func RefreshLockKey(userID, tenantID string) string {
	key := "meridian:refresh:" + userID
	if tenantID != "" {
		key += ":" + tenantID
	}
	return key + ":lock"
}
