package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"thetiptop/internal/model"
	"thetiptop/internal/repository"
)

// memStore backs every fake repository so cross-entity operations see one consistent state.
type memStore struct {
	mu     sync.Mutex
	users  map[uuid.UUID]model.User
	gains  map[uuid.UUID]model.Gain
	codes  map[string]model.Code
	tokens map[string]memToken
	audits []model.AuditLog

	// batchCreateErrs is consumed by BatchCreate, one error per call.
	batchCreateErrs []error
}

type memToken struct {
	userID    uuid.UUID
	expiresAt time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[uuid.UUID]model.User),
		gains:  make(map[uuid.UUID]model.Gain),
		codes:  make(map[string]model.Code),
		tokens: make(map[string]memToken),
	}
}

func (s *memStore) userRepo() *memUserRepo   { return &memUserRepo{s} }
func (s *memStore) gainRepo() *memGainRepo   { return &memGainRepo{s} }
func (s *memStore) codeRepo() *memCodeRepo   { return &memCodeRepo{s} }
func (s *memStore) tokenRepo() *memTokenRepo { return &memTokenRepo{s} }
func (s *memStore) auditRepo() *memAuditRepo { return &memAuditRepo{s} }
func (s *memStore) auditActions() []string   { return s.auditRepo().actions() }

func (s *memStore) code(value string) model.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[value]
}

func (s *memStore) gain(id uuid.UUID) model.Gain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gains[id]
}

func (s *memStore) tokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

type memUserRepo struct{ s *memStore }

func (r *memUserRepo) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, user := range r.s.users {
		if strings.EqualFold(user.Email, email) {
			u := user
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) FindByOAuth(_ context.Context, provider, subject string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, user := range r.s.users {
		if user.OAuthProvider != nil && user.OAuthSubject != nil &&
			*user.OAuthProvider == provider && *user.OAuthSubject == subject {
			u := user
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return repository.ErrDuplicate
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	r.s.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) Update(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	user.UpdatedAt = time.Now().UTC()
	r.s.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) MarkEmailVerified(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	if user.EmailVerifiedAt == nil {
		user.EmailVerifiedAt = &at
	}
	user.EmailVerified = true
	r.s.users[id] = user
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.users, id)
	return nil
}

func (r *memUserRepo) filtered(filter repository.UserListFilter) []*model.User {
	out := make([]*model.User, 0)
	for _, user := range r.s.users {
		if filter.Role != nil && user.Role != *filter.Role {
			continue
		}
		if filter.Status != nil && user.Status != *filter.Status {
			continue
		}
		if filter.Keyword != nil && !strings.Contains(strings.ToLower(user.Email), strings.ToLower(*filter.Keyword)) {
			continue
		}
		u := user
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *memUserRepo) List(_ context.Context, filter repository.UserListFilter) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return paginate(r.filtered(filter), filter.Pagination), nil
}

func (r *memUserRepo) Count(_ context.Context, filter repository.UserListFilter) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.filtered(filter))), nil
}

type memGainRepo struct{ s *memStore }

func (r *memGainRepo) FindByID(_ context.Context, id uuid.UUID) (*model.Gain, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	gain, ok := r.s.gains[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &gain, nil
}

func (r *memGainRepo) List(_ context.Context, activeOnly bool) ([]*model.Gain, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Gain, 0, len(r.s.gains))
	for _, gain := range r.s.gains {
		if activeOnly && !gain.IsActive {
			continue
		}
		g := gain
		out = append(out, &g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *memGainRepo) Create(_ context.Context, gain *model.Gain) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.gains {
		if existing.Name == gain.Name {
			return repository.ErrDuplicate
		}
	}
	now := time.Now().UTC()
	gain.CreatedAt, gain.UpdatedAt = now, now
	r.s.gains[gain.ID] = *gain
	return nil
}

// Update moves remaining stock by the quantity delta, like the SQL implementation.
func (r *memGainRepo) Update(_ context.Context, gain *model.Gain) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.gains[gain.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for id, existing := range r.s.gains {
		if id != gain.ID && existing.Name == gain.Name {
			return repository.ErrDuplicate
		}
	}
	next := *gain
	next.RemainingQuantity = current.RemainingQuantity + (gain.Quantity - current.Quantity)
	next.UpdatedAt = time.Now().UTC()
	r.s.gains[gain.ID] = next
	*gain = next
	return nil
}

type memCodeRepo struct{ s *memStore }

func (r *memCodeRepo) FindByCode(_ context.Context, code string) (*model.Code, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.codes[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &item, nil
}

func (r *memCodeRepo) ExistingCodes(_ context.Context, candidates []string) (map[string]struct{}, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]struct{})
	for _, code := range candidates {
		if _, ok := r.s.codes[code]; ok {
			out[code] = struct{}{}
		}
	}
	return out, nil
}

func (r *memCodeRepo) BatchCreate(_ context.Context, codes []*model.Code) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if len(r.s.batchCreateErrs) > 0 {
		err := r.s.batchCreateErrs[0]
		r.s.batchCreateErrs = r.s.batchCreateErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, code := range codes {
		if _, ok := r.s.codes[code.Code]; ok {
			return repository.ErrDuplicate
		}
	}
	for _, code := range codes {
		r.s.codes[code.Code] = *code
	}
	return nil
}

func (r *memCodeRepo) Redeem(_ context.Context, code string, userID uuid.UUID, at time.Time) (*model.Redemption, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.codes[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if item.IsUsed {
		return nil, repository.ErrAlreadyUsed
	}
	gain, ok := r.s.gains[item.GainID]
	if !ok || gain.RemainingQuantity <= 0 {
		return nil, repository.ErrStockExhausted
	}

	item.IsUsed = true
	item.UsedBy = &userID
	item.UsedAt = &at
	gain.RemainingQuantity--
	r.s.codes[code] = item
	r.s.gains[gain.ID] = gain

	return &model.Redemption{Code: &item, Gain: &gain}, nil
}

func (r *memCodeRepo) MarkDelivered(_ context.Context, code string, employeeID uuid.UUID, at time.Time) (*model.Code, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.codes[code]
	switch {
	case !ok:
		return nil, repository.ErrNotFound
	case !item.IsUsed:
		return nil, repository.ErrNotRedeemed
	case item.DeliveredAt != nil:
		return nil, repository.ErrAlreadyDelivered
	}
	item.DeliveredBy = &employeeID
	item.DeliveredAt = &at
	r.s.codes[code] = item
	return &item, nil
}

func (r *memCodeRepo) CountUsedBy(_ context.Context, userID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, item := range r.s.codes {
		if item.UsedBy != nil && *item.UsedBy == userID {
			n++
		}
	}
	return n, nil
}

func (r *memCodeRepo) filtered(filter repository.CodeListFilter) []*model.Code {
	out := make([]*model.Code, 0)
	for _, item := range r.s.codes {
		if filter.GainID != nil && item.GainID != *filter.GainID {
			continue
		}
		if filter.UsedBy != nil && (item.UsedBy == nil || *item.UsedBy != *filter.UsedBy) {
			continue
		}
		if filter.IsUsed != nil && item.IsUsed != *filter.IsUsed {
			continue
		}
		if filter.Delivered != nil && item.Delivered() != *filter.Delivered {
			continue
		}
		if filter.Keyword != nil && !strings.Contains(item.Code, strings.ToUpper(*filter.Keyword)) {
			continue
		}
		c := item
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (r *memCodeRepo) List(_ context.Context, filter repository.CodeListFilter) ([]*model.Code, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return paginate(r.filtered(filter), filter.Pagination), nil
}

func (r *memCodeRepo) Count(_ context.Context, filter repository.CodeListFilter) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.filtered(filter))), nil
}

func (r *memCodeRepo) Stats(_ context.Context) (*model.CodeStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stats := &model.CodeStats{}
	perGain := make(map[uuid.UUID]*model.GainStats)
	for id, gain := range r.s.gains {
		perGain[id] = &model.GainStats{GainID: id, Name: gain.Name, Quantity: gain.Quantity, Remaining: gain.RemainingQuantity}
	}
	participants := make(map[uuid.UUID]struct{})
	for _, item := range r.s.codes {
		stats.TotalCodes++
		gs := perGain[item.GainID]
		if gs != nil {
			gs.CodesIssued++
		}
		if item.IsUsed {
			stats.UsedCodes++
			participants[*item.UsedBy] = struct{}{}
			if gs != nil {
				gs.Redeemed++
			}
		}
		if item.Delivered() {
			stats.DeliveredCodes++
			if gs != nil {
				gs.Delivered++
			}
		}
	}
	stats.Participants = int64(len(participants))
	for _, gs := range perGain {
		stats.Gains = append(stats.Gains, *gs)
	}
	return stats, nil
}

type memTokenRepo struct{ s *memStore }

func (r *memTokenRepo) Create(_ context.Context, tokenHash string, userID uuid.UUID, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tokens[tokenHash]; ok {
		return repository.ErrDuplicate
	}
	r.s.tokens[tokenHash] = memToken{userID: userID, expiresAt: expiresAt}
	return nil
}

func (r *memTokenRepo) Rotate(_ context.Context, oldHash, newHash string, expiresAt, now time.Time) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token, ok := r.s.tokens[oldHash]
	if !ok {
		return uuid.Nil, repository.ErrNotFound
	}
	delete(r.s.tokens, oldHash)
	if !token.expiresAt.After(now) {
		return uuid.Nil, repository.ErrExpired
	}
	r.s.tokens[newHash] = memToken{userID: token.userID, expiresAt: expiresAt}
	return token.userID, nil
}

func (r *memTokenRepo) Delete(_ context.Context, tokenHash string) (uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	token, ok := r.s.tokens[tokenHash]
	if !ok {
		return uuid.Nil, repository.ErrNotFound
	}
	delete(r.s.tokens, tokenHash)
	return token.userID, nil
}

func (r *memTokenRepo) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for hash, token := range r.s.tokens {
		if token.userID == userID {
			delete(r.s.tokens, hash)
		}
	}
	return nil
}

func (r *memTokenRepo) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for hash, token := range r.s.tokens {
		if !token.expiresAt.After(now) {
			delete(r.s.tokens, hash)
			n++
		}
	}
	return n, nil
}

type memAuditRepo struct{ s *memStore }

func (r *memAuditRepo) Create(_ context.Context, log *model.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	log.ID = int64(len(r.s.audits) + 1)
	r.s.audits = append(r.s.audits, *log)
	return nil
}

func (r *memAuditRepo) filtered(filter repository.AuditListFilter) []*model.AuditLog {
	out := make([]*model.AuditLog, 0)
	for i := len(r.s.audits) - 1; i >= 0; i-- {
		item := r.s.audits[i]
		if filter.Action != nil && item.Action != *filter.Action {
			continue
		}
		if filter.UserID != nil && (item.UserID == nil || *item.UserID != *filter.UserID) {
			continue
		}
		out = append(out, &item)
	}
	return out
}

func (r *memAuditRepo) List(_ context.Context, filter repository.AuditListFilter) ([]*model.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return paginate(r.filtered(filter), filter.Pagination), nil
}

func (r *memAuditRepo) Count(_ context.Context, filter repository.AuditListFilter) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.filtered(filter))), nil
}

func (r *memAuditRepo) actions() []string {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]string, 0, len(r.s.audits))
	for _, item := range r.s.audits {
		out = append(out, item.Action)
	}
	return out
}

func paginate[T any](items []T, p repository.Pagination) []T {
	offset := int(p.Offset)
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if p.Limit > 0 && offset+int(p.Limit) < end {
		end = offset + int(p.Limit)
	}
	return items[offset:end]
}

func seedUser(t *testing.T, s *memStore, email string, role model.Role, verified bool) *model.User {
	t.Helper()
	now := time.Now().UTC()
	user := &model.User{
		ID:            uuid.New(),
		Email:         email,
		FirstName:     "Camille",
		Role:          role,
		Status:        model.UserStatusActive,
		EmailVerified: verified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.userRepo().Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func seedGain(t *testing.T, s *memStore, name string, value float64, quantity, remaining int) *model.Gain {
	t.Helper()
	gain := &model.Gain{
		ID:                uuid.New(),
		Name:              name,
		Value:             value,
		Quantity:          quantity,
		RemainingQuantity: remaining,
		IsActive:          true,
	}
	if err := s.gainRepo().Create(context.Background(), gain); err != nil {
		t.Fatalf("seed gain: %v", err)
	}
	return gain
}

func seedCode(t *testing.T, s *memStore, code string, gainID uuid.UUID) {
	t.Helper()
	item := &model.Code{ID: uuid.New(), Code: code, GainID: gainID, BatchID: uuid.New(), CreatedAt: time.Now().UTC()}
	if err := s.codeRepo().BatchCreate(context.Background(), []*model.Code{item}); err != nil {
		t.Fatalf("seed code: %v", err)
	}
}

func containsString(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
