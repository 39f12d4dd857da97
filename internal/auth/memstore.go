package auth

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Lockout defaults shared by the store implementations.
const (
	DefaultMaxLoginAttempts = 5
	DefaultLockoutDuration  = 2 * time.Hour
)

var kindPrecedence = map[Kind]int{
	KindClinic:     0,
	KindDoctor:     1,
	KindNurse:      2,
	KindPharmacist: 3,
}

// MemoryStore is the in-memory twin of the Postgres repository, used by tests
// and the DSN-less dev server. It implements PrincipalStore, RevocationStore,
// and PatientDirectory with the same conditional-update semantics.
type MemoryStore struct {
	mu          sync.RWMutex
	principals  map[string]*Principal
	patients    map[string]*PatientRecord
	revoked     map[string]time.Time
	maxAttempts int
	lockout     time.Duration
}

// MemoryOption configures the in-memory store.
type MemoryOption func(*MemoryStore)

// WithMaxLoginAttempts overrides the failure count that triggers a lock.
func WithMaxLoginAttempts(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithLockoutDuration overrides the lockout window.
func WithLockoutDuration(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.lockout = d
		}
	}
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		principals:  make(map[string]*Principal),
		patients:    make(map[string]*PatientRecord),
		revoked:     make(map[string]time.Time),
		maxAttempts: DefaultMaxLoginAttempts,
		lockout:     DefaultLockoutDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PutPrincipal inserts or replaces a principal record.
func (s *MemoryStore) PutPrincipal(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clonePrincipal(&p)
	s.principals[p.ID] = cp
}

// PutPatient inserts or replaces a patient scope record.
func (s *MemoryStore) PutPatient(p PatientRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	cp.AssignedDoctorIDs = append([]string(nil), p.AssignedDoctorIDs...)
	s.patients[p.ID] = &cp
}

func (s *MemoryStore) FindByLogin(ctx context.Context, identifier string) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*Principal
	for _, p := range s.principals {
		if p.MatchesLogin(identifier) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	// Clinic-first precedence when an identifier collides across kinds.
	sort.SliceStable(matches, func(i, j int) bool {
		return kindPrecedence[matches[i].Kind] < kindPrecedence[matches[j].Kind]
	})
	return clonePrincipal(matches[0]), nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePrincipal(p), nil
}

func (s *MemoryStore) IncrementLoginAttempts(ctx context.Context, id string, now time.Time) (int, *time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return 0, nil, ErrNotFound
	}

	if p.LockUntil != nil && !p.LockUntil.After(now) {
		// Expired lock: this failure starts a fresh count.
		p.LoginAttempts = 1
		p.LockUntil = nil
	} else {
		p.LoginAttempts++
		if p.LockUntil == nil && p.LoginAttempts >= s.maxAttempts {
			until := now.Add(s.lockout)
			p.LockUntil = &until
		}
	}
	p.UpdatedAt = now

	var lockedUntil *time.Time
	if p.LockUntil != nil {
		u := *p.LockUntil
		lockedUntil = &u
	}
	return p.LoginAttempts, lockedUntil, nil
}

func (s *MemoryStore) ResetLoginAttempts(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.LoginAttempts = 0
	p.LockUntil = nil
	last := now
	p.LastLogin = &last
	p.UpdatedAt = now
	return nil
}

func (s *MemoryStore) RewritePassword(ctx context.Context, id, newHash string) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = newHash
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// SetActive flips the active flag; provisioning and deactivation are external
// concerns but tests exercise deactivation mid-session.
func (s *MemoryStore) SetActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.principals[id]; ok {
		p.Active = active
	}
}

func (s *MemoryStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.revoked[jti]; !exists {
		s.revoked[jti] = expiresAt
	}
	return nil
}

func (s *MemoryStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, revoked := s.revoked[jti]
	return revoked, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, ErrUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for jti, exp := range s.revoked {
		if !exp.After(now) {
			delete(s.revoked, jti)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) Patient(ctx context.Context, id string) (*PatientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.AssignedDoctorIDs = append([]string(nil), p.AssignedDoctorIDs...)
	return &cp, nil
}

func (s *MemoryStore) ListByTenant(ctx context.Context, tenantID string) ([]PatientRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrUnavailable
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PatientRecord
	for _, p := range s.patients {
		if p.TenantID != tenantID {
			continue
		}
		cp := *p
		cp.AssignedDoctorIDs = append([]string(nil), p.AssignedDoctorIDs...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func clonePrincipal(p *Principal) *Principal {
	cp := *p
	if p.LockUntil != nil {
		u := *p.LockUntil
		cp.LockUntil = &u
	}
	if p.LastLogin != nil {
		l := *p.LastLogin
		cp.LastLogin = &l
	}
	cp.AssignedPatientIDs = append([]string(nil), p.AssignedPatientIDs...)
	return &cp
}

var (
	_ PrincipalStore   = (*MemoryStore)(nil)
	_ RevocationStore  = (*MemoryStore)(nil)
	_ PatientDirectory = (*MemoryStore)(nil)
)
