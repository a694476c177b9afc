package tenants

import (
	"encoding/json"
	"sync"

	"github.com/jrsteele09/go-auth-client/credentials"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/rs/zerolog/log"
)

// Registry answers "which tenant is active" and "which tenants can the user switch to"
// from the primary credential store, without a network round trip.
type Registry struct {
	kv   credentials.KV
	lock sync.Mutex
}

// NewRegistry shares the primary sink of store. A store outside the client context gives a
// registry that holds nothing.
func NewRegistry(store *credentials.Store) *Registry {
	return &Registry{kv: store.Primary()}
}

// SetActiveTenant records id as the active tenant. An empty id clears the selection and the
// cached membership list, so the next use refetches it.
func (r *Registry) SetActiveTenant(id string) error {
	if r.kv == nil {
		return nil
	}
	r.lock.Lock()
	defer r.lock.Unlock()

	if id == "" {
		if err := r.kv.Delete(credentials.KeyActiveTenant); err != nil {
			return apperrors.Wrapf(err, "Registry.SetActiveTenant clear")
		}
		if err := r.kv.Delete(credentials.KeyTenantList); err != nil {
			return apperrors.Wrapf(err, "Registry.SetActiveTenant clear memberships")
		}
		return nil
	}
	if err := r.kv.Set(credentials.KeyActiveTenant, id); err != nil {
		return apperrors.Wrapf(err, "Registry.SetActiveTenant")
	}
	return nil
}

func (r *Registry) ActiveTenant() string {
	if r.kv == nil {
		return ""
	}
	id, _ := r.kv.Get(credentials.KeyActiveTenant)
	return id
}

// CacheMemberships overwrites the cached list.
func (r *Registry) CacheMemberships(list []Membership) error {
	if r.kv == nil {
		return nil
	}
	if list == nil {
		list = []Membership{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return apperrors.Wrapf(err, "Registry.CacheMemberships marshal")
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if err := r.kv.Set(credentials.KeyTenantList, string(data)); err != nil {
		return apperrors.Wrapf(err, "Registry.CacheMemberships")
	}
	return nil
}

// Memberships returns the cached list, or an empty list when nothing usable is cached.
func (r *Registry) Memberships() []Membership {
	if r.kv == nil {
		return []Membership{}
	}
	raw, ok := r.kv.Get(credentials.KeyTenantList)
	if !ok || raw == "" {
		return []Membership{}
	}
	var list []Membership
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		log.Err(apperrors.Wrapf(apperrors.ErrCorruptRecord, "%s", credentials.KeyTenantList)).Msg("Registry: clearing corrupt membership cache")
		_ = r.kv.Delete(credentials.KeyTenantList)
		return []Membership{}
	}
	if list == nil {
		return []Membership{}
	}
	return list
}

func (r *Registry) find(id string) (*Membership, bool) {
	if id == "" {
		return nil, false
	}
	for _, m := range r.Memberships() {
		if m.ID == id {
			return &m, true
		}
	}
	return nil, false
}

// CurrentTenant returns the membership matching the active tenant id.
func (r *Registry) CurrentTenant() (*Membership, bool) {
	return r.find(r.ActiveTenant())
}

// SwitchTenant makes id the active tenant if the user is a member. It never mutates state on
// failure. Membership data is trusted as fetched at login, the server re-validates the
// tenant header on every call.
func (r *Registry) SwitchTenant(id string) (*Membership, error) {
	m, ok := r.find(id)
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrTenantAccessDenied, "tenant %q", id)
	}
	if err := r.SetActiveTenant(m.ID); err != nil {
		return nil, err
	}
	log.Debug().Str("tenant_id", m.ID).Msg("Registry: switched tenant")
	return m, nil
}

// RequestTenantID is the tenant id to send with a request: the active id when it names a
// cached membership, otherwise "" so a dangling id is never sent.
func (r *Registry) RequestTenantID() string {
	m, ok := r.CurrentTenant()
	if !ok {
		return ""
	}
	return m.ID
}
