// Package gate decides what a CMS account may do with a write: apply it
// directly, stage it for review, or nothing at all. It is pure — no store,
// no clock, no caching — so grants changed mid-session take effect on the
// very next request.
package gate

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
)

// Capability names one of the three mutation classes a write route maps to.
type Capability string

const (
	CapCreate Capability = "create"
	CapEdit   Capability = "edit"
	CapDelete Capability = "delete"
)

type Decision int

const (
	Deny Decision = iota
	AllowStaged
	AllowDirect
)

func (d Decision) String() string {
	switch d {
	case AllowDirect:
		return "allow-direct"
	case AllowStaged:
		return "allow-staged"
	default:
		return "deny"
	}
}

// AllCountries is the grant sentinel that covers every country, current and
// future.
const AllCountries = "all"

// Grants are the per-account action flags. RequiresApproval does not widen
// or narrow access; it only downgrades an allowed write to a staged one.
type Grants struct {
	CanCreate        bool
	CanEdit          bool
	CanDelete        bool
	RequiresApproval bool
}

// User is the authenticated caller as the gate sees it. Authentication has
// already happened elsewhere; the gate only reads role and grants.
type User struct {
	ID        string
	Name      string
	Role      Role
	Countries []string
	Grants    Grants
}

// Decide resolves one write attempt. countryCode is empty for sections that
// are not country-scoped (articles, terminology); for those, only role and
// capability matter.
//
// Admins always get AllowDirect: they hold every country implicitly and the
// approval flag does not apply to them. Editors are checked capability
// first, then country, and finally downgraded to AllowStaged when their
// account carries the approval flag.
func Decide(u User, countryCode string, cap Capability) Decision {
	if u.Role == RoleAdmin {
		return AllowDirect
	}
	if u.Role != RoleEditor {
		return Deny
	}
	if !u.Grants.allows(cap) {
		return Deny
	}
	if countryCode != "" && !grantedCountry(u.Countries, countryCode) {
		return Deny
	}
	if u.Grants.RequiresApproval {
		return AllowStaged
	}
	return AllowDirect
}

func (g Grants) allows(cap Capability) bool {
	switch cap {
	case CapCreate:
		return g.CanCreate
	case CapEdit:
		return g.CanEdit
	case CapDelete:
		return g.CanDelete
	default:
		return false
	}
}

func grantedCountry(granted []string, code string) bool {
	for _, c := range granted {
		if c == code || c == AllCountries {
			return true
		}
	}
	return false
}
