package domain

type Permission string

const (
	PermCompanyRead    Permission = "company:read"
	PermCompanyCreate  Permission = "company:create"
	PermCompanyUpdate  Permission = "company:update"
	PermCompanyAssign  Permission = "company:assign"
	PermCompanyArchive Permission = "company:archive"

	PermContactRead      Permission = "contact:read"
	PermContactCreate    Permission = "contact:create"
	PermContactUpdateOwn Permission = "contact:update_own"
	PermContactUpdate    Permission = "contact:update"
	PermContactAssign    Permission = "contact:assign"
	PermContactArchive   Permission = "contact:archive"

	PermCommunicationRead   Permission = "communication:read"
	PermCommunicationCreate Permission = "communication:create"
	PermCommunicationUpdate Permission = "communication:update"
	PermCommunicationAssign Permission = "communication:assign"

	PermSyncRun        Permission = "sync:run"
	PermSyncHistoryAll Permission = "sync:history_all"
)

var consultantPermissions = []Permission{
	PermCompanyRead, PermCompanyCreate,
	PermContactRead, PermContactCreate, PermContactUpdateOwn,
	PermCommunicationRead, PermCommunicationCreate,
	PermSyncRun,
}

var deptAdminPermissions = append(append([]Permission{}, consultantPermissions...),
	PermCompanyUpdate, PermCompanyAssign,
	PermContactUpdate, PermContactAssign,
	PermCommunicationUpdate, PermCommunicationAssign,
)

var sysAdminPermissions = append(append([]Permission{}, deptAdminPermissions...),
	PermCompanyArchive, PermContactArchive,
	PermSyncHistoryAll,
)

// rolePermissions is the role -> permission table. Adding a role is a new row here.
var rolePermissions = map[Role]map[Permission]struct{}{
	RoleConsultant: permissionSet(consultantPermissions),
	RoleDeptAdmin:  permissionSet(deptAdminPermissions),
	RoleSysAdmin:   permissionSet(sysAdminPermissions),
}

func permissionSet(perms []Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func RoleHasPermission(r Role, p Permission) bool {
	_, ok := rolePermissions[r][p]
	return ok
}
