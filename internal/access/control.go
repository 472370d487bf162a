// Package access implements role-based permissions and the pause switch that
// every registry carries.
//
// Each registry owns its own role table inside its key namespace; roles held in
// one registry mean nothing in another.
package access

import (
	"fmt"

	"github.com/enterprise/risk-registry/internal/kv"
	"github.com/enterprise/risk-registry/internal/models"
)

// Role is an opaque permission tag.
type Role string

const (
	AdminRole   Role = "DEFAULT_ADMIN_ROLE"
	AnalystRole Role = "ANALYST_ROLE"
	UserRole    Role = "USER_ROLE"
)

// ParseRole accepts the full role name or its short form (admin, analyst, user).
func ParseRole(s string) (Role, error) {
	switch s {
	case "admin", string(AdminRole):
		return AdminRole, nil
	case "analyst", string(AnalystRole):
		return AnalystRole, nil
	case "user", string(UserRole):
		return UserRole, nil
	}
	if s == "" {
		return "", fmt.Errorf("%w: empty role", models.ErrInvalidInput)
	}
	return Role(s), nil
}

// Control reads and writes the role table and pause flag of one namespace.
type Control struct {
	ns string
}

func NewControl(namespace string) Control {
	return Control{ns: namespace}
}

func (c Control) memberKey(role Role, who models.Address) string {
	return kv.Key(c.ns, "acl", "member", string(role), who.Key())
}

func (c Control) adminKey(role Role) string {
	return kv.Key(c.ns, "acl", "admin", string(role))
}

func (c Control) initializerKey() string {
	return kv.Key(c.ns, "acl", "initializer")
}

func (c Control) pausedKey() string {
	return kv.Key(c.ns, "paused")
}

// HasRole reports whether who holds role.
func (c Control) HasRole(r kv.Reader, role Role, who models.Address) (bool, error) {
	_, ok, err := r.Get(c.memberKey(role, who))
	return ok, err
}

// RoleAdmin returns the role whose holders manage role. AdminRole unless changed.
func (c Control) RoleAdmin(r kv.Reader, role Role) (Role, error) {
	var admin Role
	ok, err := kv.GetJSON(r, c.adminKey(role), &admin)
	if err != nil {
		return "", err
	}
	if !ok {
		return AdminRole, nil
	}
	return admin, nil
}

// Require fails with ErrUnauthorized unless who holds role.
func (c Control) Require(r kv.Reader, role Role, who models.Address) error {
	ok, err := c.HasRole(r, role, who)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks %s", models.ErrUnauthorized, who.Hex(), role)
	}
	return nil
}

// Initializer returns the principal that bootstrapped the namespace.
func (c Control) Initializer(r kv.Reader) (models.Address, bool, error) {
	var who models.Address
	ok, err := kv.GetJSON(r, c.initializerKey(), &who)
	return who, ok, err
}

func (c Control) Paused(r kv.Reader) (bool, error) {
	_, ok, err := r.Get(c.pausedKey())
	return ok, err
}

// RequireNotPaused fails with ErrSystemPaused while the namespace is paused.
func (c Control) RequireNotPaused(r kv.Reader) error {
	paused, err := c.Paused(r)
	if err != nil {
		return err
	}
	if paused {
		return fmt.Errorf("%w: %s", models.ErrSystemPaused, c.ns)
	}
	return nil
}

// grant reports whether who newly received role.
func (c Control) grant(tx kv.Tx, role Role, who models.Address) (bool, error) {
	held, err := c.HasRole(tx, role, who)
	if err != nil || held {
		return false, err
	}
	return true, tx.Put(c.memberKey(role, who), []byte("1"))
}

// revoke reports whether who lost role. The initializer never loses AdminRole.
func (c Control) revoke(tx kv.Tx, role Role, who models.Address) (bool, error) {
	held, err := c.HasRole(tx, role, who)
	if err != nil || !held {
		return false, err
	}
	if role == AdminRole {
		initializer, ok, err := c.Initializer(tx)
		if err != nil {
			return false, err
		}
		if ok && initializer == who {
			return false, fmt.Errorf("%w: the initializing admin keeps %s", models.ErrInvalidInput, AdminRole)
		}
	}
	return true, tx.Delete(c.memberKey(role, who))
}

func (c Control) setRoleAdmin(tx kv.Tx, role, admin Role) error {
	return kv.PutJSON(tx, c.adminKey(role), admin)
}

func (c Control) setPaused(tx kv.Tx, paused bool) error {
	if paused {
		return tx.Put(c.pausedKey(), []byte("1"))
	}
	return tx.Delete(c.pausedKey())
}

func (c Control) initialize(tx kv.Tx, admin models.Address) error {
	_, ok, err := c.Initializer(tx)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: %s", models.ErrAlreadyInitialized, c.ns)
	}
	if err := kv.PutJSON(tx, c.initializerKey(), admin); err != nil {
		return err
	}
	_, err = c.grant(tx, AdminRole, admin)
	return err
}
