package auth

// permissions are strings like "video:create", "pet:manage", "admin:*"
const (
	PermPetManage    = "pet:manage"
	PermVideoCreate  = "video:create"
	PermVideoReadOwn = "video:read_own"
	PermVideoReadAll = "video:read_all"
	PermAdminAll     = "admin:*"
)

var roleToPerms = map[string][]string{
	"user":  {PermPetManage, PermVideoCreate, PermVideoReadOwn},
	"admin": {PermPetManage, PermVideoCreate, PermVideoReadAll, PermAdminAll},
}

func PermsForRoles(roles []string) map[string]struct{} {
	out := make(map[string]struct{}, 8)
	for _, r := range roles {
		if perms, ok := roleToPerms[r]; ok {
			for _, p := range perms {
				out[p] = struct{}{}
			}
		}
	}
	return out
}

// HasPerm reports whether roles grant perm, directly or through admin:*.
func HasPerm(roles []string, perm string) bool {
	perms := PermsForRoles(roles)
	if _, ok := perms[PermAdminAll]; ok {
		return true
	}
	_, ok := perms[perm]
	return ok
}
