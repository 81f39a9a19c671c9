package user

type Permission string

const (
	// Own inbox
	PermissionNotificationViewOwn   Permission = "notification.view_own"
	PermissionNotificationManageOwn Permission = "notification.manage_own"

	// Sending
	PermissionNotificationSendCustom Permission = "notification.send_custom"

	// Administration
	PermissionNotificationDeleteAny   Permission = "notification.delete_any"
	PermissionNotificationHistoryAll  Permission = "notification.history_all"
	PermissionNotificationMaintenance Permission = "notification.maintenance"
)

// RolePermissions maps roles to their permissions
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		// Administrator has all permissions
		PermissionNotificationViewOwn,
		PermissionNotificationManageOwn,
		PermissionNotificationSendCustom,
		PermissionNotificationDeleteAny,
		PermissionNotificationHistoryAll,
		PermissionNotificationMaintenance,
	},
	RoleInstructor: {
		PermissionNotificationViewOwn,
		PermissionNotificationManageOwn,
		PermissionNotificationSendCustom,
	},
	RoleStudent: {
		PermissionNotificationViewOwn,
		PermissionNotificationManageOwn,
	},
}

// HasPermission checks if a role has a specific permission
func HasPermission(role Role, permission Permission) bool {
	permissions, exists := RolePermissions[role]
	if !exists {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}

	return false
}
