package access

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enterprise/risk-registry/internal/kv"
	"github.com/enterprise/risk-registry/internal/metrics"
	"github.com/enterprise/risk-registry/internal/models"
	"github.com/enterprise/risk-registry/internal/notify"
)

// Guard is the capability-checked façade over a registry's state. Every
// mutation runs as: role check, pause check, then the mutation itself, all
// inside one store transaction. Notifications go out only after commit.
type Guard struct {
	name     string
	store    kv.Store
	control  Control
	notifier notify.Notifier
	metrics  *metrics.Metrics
	clock    func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

func WithNotifier(n notify.Notifier) Option {
	return func(g *Guard) {
		if n != nil {
			g.notifier = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithClock replaces the wall clock used for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(g *Guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGuard guards the namespace name of store.
func NewGuard(name string, store kv.Store, opts ...Option) *Guard {
	g := &Guard{
		name:     name,
		store:    store,
		control:  NewControl(name),
		notifier: notify.Nop{},
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Op is handed to a mutation.
type Op struct {
	Tx     kv.Tx
	Caller models.Address
	Now    time.Time

	emitted []emission
}

type emission struct {
	kind    notify.Kind
	payload any
}

// Emit queues a notification for delivery once the mutation commits.
func (op *Op) Emit(kind notify.Kind, payload any) {
	op.emitted = append(op.emitted, emission{kind: kind, payload: payload})
}

func (g *Guard) Name() string {
	return g.name
}

// Control exposes the role table for reads inside View.
func (g *Guard) Control() Control {
	return g.control
}

// Now returns the guard's current time.
func (g *Guard) Now() time.Time {
	return g.clock()
}

// View runs a read-only function. Reads are available while paused.
func (g *Guard) View(ctx context.Context, fn func(r kv.Reader) error) error {
	return g.store.View(ctx, fn)
}

// Mutate runs fn for caller once caller holds role (any caller when role is
// empty) and the registry is not paused.
func (g *Guard) Mutate(ctx context.Context, operation string, role Role, caller models.Address, fn func(op *Op) error) error {
	return g.run(ctx, operation, caller, func(op *Op) error {
		if role != "" {
			if err := g.control.Require(op.Tx, role, caller); err != nil {
				return err
			}
		}
		if err := g.control.RequireNotPaused(op.Tx); err != nil {
			return err
		}
		return fn(op)
	})
}

// Bootstrap makes admin the namespace's first administrator and runs fn in the
// same transaction. It succeeds once per namespace.
func (g *Guard) Bootstrap(ctx context.Context, admin models.Address, fn func(op *Op) error) error {
	return g.run(ctx, "initialize", admin, func(op *Op) error {
		if admin.IsZero() {
			return fmt.Errorf("%w: admin is the null address", models.ErrInvalidInput)
		}
		if err := g.control.initialize(op.Tx, admin); err != nil {
			return err
		}
		op.Emit(notify.KindInitialized, RoleChange{Role: AdminRole, Account: admin, Sender: admin})
		if fn == nil {
			return nil
		}
		return fn(op)
	})
}

// Initialized reports whether Bootstrap has run.
func (g *Guard) Initialized(ctx context.Context) (bool, error) {
	var ok bool
	err := g.store.View(ctx, func(r kv.Reader) error {
		var err error
		_, ok, err = g.control.Initializer(r)
		return err
	})
	return ok, err
}

// RoleChange is the payload of role notifications.
type RoleChange struct {
	Role    Role           `json:"role"`
	Account models.Address `json:"account"`
	Sender  models.Address `json:"sender"`
}

// RoleAdminChange is the payload of KindRoleAdminChanged.
type RoleAdminChange struct {
	Role          Role `json:"role"`
	PreviousAdmin Role `json:"previous_admin"`
	NewAdmin      Role `json:"new_admin"`
}

// GrantRole gives who role. The caller must hold role's admin role.
func (g *Guard) GrantRole(ctx context.Context, caller models.Address, role Role, who models.Address) error {
	return g.run(ctx, "grant_role", caller, func(op *Op) error {
		if err := g.requireRoleAdmin(op.Tx, role, caller); err != nil {
			return err
		}
		if err := g.control.RequireNotPaused(op.Tx); err != nil {
			return err
		}
		if who.IsZero() {
			return fmt.Errorf("%w: account is the null address", models.ErrInvalidInput)
		}
		changed, err := g.control.grant(op.Tx, role, who)
		if err != nil {
			return err
		}
		if changed {
			op.Emit(notify.KindRoleGranted, RoleChange{Role: role, Account: who, Sender: caller})
		}
		return nil
	})
}

// RevokeRole takes role away from who. The caller must hold role's admin role.
func (g *Guard) RevokeRole(ctx context.Context, caller models.Address, role Role, who models.Address) error {
	return g.run(ctx, "revoke_role", caller, func(op *Op) error {
		if err := g.requireRoleAdmin(op.Tx, role, caller); err != nil {
			return err
		}
		if err := g.control.RequireNotPaused(op.Tx); err != nil {
			return err
		}
		changed, err := g.control.revoke(op.Tx, role, who)
		if err != nil {
			return err
		}
		if changed {
			op.Emit(notify.KindRoleRevoked, RoleChange{Role: role, Account: who, Sender: caller})
		}
		return nil
	})
}

// RenounceRole drops one of the caller's own roles.
func (g *Guard) RenounceRole(ctx context.Context, caller models.Address, role Role) error {
	return g.run(ctx, "renounce_role", caller, func(op *Op) error {
		if err := g.control.RequireNotPaused(op.Tx); err != nil {
			return err
		}
		changed, err := g.control.revoke(op.Tx, role, caller)
		if err != nil {
			return err
		}
		if changed {
			op.Emit(notify.KindRoleRevoked, RoleChange{Role: role, Account: caller, Sender: caller})
		}
		return nil
	})
}

// SetRoleAdmin changes which role manages role. Only AdminRole holders may do this.
func (g *Guard) SetRoleAdmin(ctx context.Context, caller models.Address, role, admin Role) error {
	return g.Mutate(ctx, "set_role_admin", AdminRole, caller, func(op *Op) error {
		if role == "" || admin == "" {
			return fmt.Errorf("%w: empty role", models.ErrInvalidInput)
		}
		previous, err := g.control.RoleAdmin(op.Tx, role)
		if err != nil {
			return err
		}
		if err := g.control.setRoleAdmin(op.Tx, role, admin); err != nil {
			return err
		}
		op.Emit(notify.KindRoleAdminChanged, RoleAdminChange{Role: role, PreviousAdmin: previous, NewAdmin: admin})
		return nil
	})
}

// HasRole reports whether who holds role.
func (g *Guard) HasRole(ctx context.Context, role Role, who models.Address) (bool, error) {
	var ok bool
	err := g.store.View(ctx, func(r kv.Reader) error {
		var err error
		ok, err = g.control.HasRole(r, role, who)
		return err
	})
	return ok, err
}

// Pause stops every mutation except Unpause.
func (g *Guard) Pause(ctx context.Context, caller models.Address) error {
	return g.Mutate(ctx, "pause", AdminRole, caller, func(op *Op) error {
		if err := g.control.setPaused(op.Tx, true); err != nil {
			return err
		}
		op.Emit(notify.KindPaused, nil)
		return nil
	})
}

// Unpause fails with ErrNotPaused unless the registry is paused.
func (g *Guard) Unpause(ctx context.Context, caller models.Address) error {
	return g.run(ctx, "unpause", caller, func(op *Op) error {
		if err := g.control.Require(op.Tx, AdminRole, caller); err != nil {
			return err
		}
		paused, err := g.control.Paused(op.Tx)
		if err != nil {
			return err
		}
		if !paused {
			return fmt.Errorf("%w: %s", models.ErrNotPaused, g.name)
		}
		if err := g.control.setPaused(op.Tx, false); err != nil {
			return err
		}
		op.Emit(notify.KindUnpaused, nil)
		return nil
	})
}

func (g *Guard) Paused(ctx context.Context) (bool, error) {
	var paused bool
	err := g.store.View(ctx, func(r kv.Reader) error {
		var err error
		paused, err = g.control.Paused(r)
		return err
	})
	return paused, err
}

func (g *Guard) requireRoleAdmin(r kv.Reader, role Role, caller models.Address) error {
	if role == "" {
		return fmt.Errorf("%w: empty role", models.ErrInvalidInput)
	}
	admin, err := g.control.RoleAdmin(r, role)
	if err != nil {
		return err
	}
	return g.control.Require(r, admin, caller)
}

func (g *Guard) run(ctx context.Context, operation string, caller models.Address, fn func(op *Op) error) (err error) {
	start := time.Now()
	defer func() {
		g.metrics.ObserveOperation(g.name, operation, err, start)
	}()

	op := &Op{Caller: caller, Now: g.clock()}
	err = g.store.Update(ctx, func(tx kv.Tx) error {
		op.Tx = tx
		op.emitted = op.emitted[:0]
		return fn(op)
	})
	if err != nil {
		return err
	}

	log.Debug().
		Str("registry", g.name).
		Str("operation", operation).
		Str("caller", caller.Hex()).
		Msg("Registry state updated")

	g.publish(ctx, op)
	return nil
}

func (g *Guard) publish(ctx context.Context, op *Op) {
	for _, e := range op.emitted {
		n, err := notify.New(g.name, e.kind, op.Caller, op.Now, e.payload)
		if err != nil {
			log.Warn().Err(err).Str("registry", g.name).Str("kind", string(e.kind)).Msg("Failed to build notification")
			continue
		}
		if err := g.notifier.Notify(ctx, n); err != nil {
			log.Warn().Err(err).Str("registry", g.name).Str("kind", string(e.kind)).Msg("Failed to deliver notification")
		}
	}
}
