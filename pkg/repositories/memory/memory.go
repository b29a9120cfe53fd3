// Package memory implements the repository interfaces in process memory. It enforces
// the same uniqueness rules as the Postgres schema and backs the service tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

// Store holds every table. The repository views share its lock.
type Store struct {
	mu           sync.Mutex
	configs      map[string]*models.IntegrationConfig
	interactions []*models.Interaction
	tasks        []*models.Task
	customers    []*models.Customer
	users        []*models.User
	issues       []*models.TrackedIssue
}

func NewStore() *Store {
	return &Store{configs: make(map[string]*models.IntegrationConfig)}
}

func (s *Store) Configs() *ConfigRepo           { return &ConfigRepo{s} }
func (s *Store) Interactions() *InteractionRepo { return &InteractionRepo{s} }
func (s *Store) Tasks() *TaskRepo               { return &TaskRepo{s} }
func (s *Store) Customers() *CustomerRepo       { return &CustomerRepo{s} }
func (s *Store) Users() *UserRepo               { return &UserRepo{s} }
func (s *Store) Issues() *IssueRepo             { return &IssueRepo{s} }

// AddUser seeds a user row
func (s *Store) AddUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().Add(time.Duration(len(s.users)) * time.Millisecond)
	}
	s.users = append(s.users, &u)
}

// AllInteractions returns copies of every stored interaction
func (s *Store) AllInteractions() []models.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Interaction, 0, len(s.interactions))
	for _, i := range s.interactions {
		out = append(out, *i)
	}
	return out
}

// AllTasks returns copies of every stored task
func (s *Store) AllTasks() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

// AllIssues returns copies of every tracked issue
func (s *Store) AllIssues() []models.TrackedIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TrackedIssue, 0, len(s.issues))
	for _, i := range s.issues {
		out = append(out, *i)
	}
	return out
}

func configKey(tenantID uuid.UUID, provider models.Provider) string {
	return tenantID.String() + ":" + string(provider)
}

func copyConfig(c *models.IntegrationConfig) *models.IntegrationConfig {
	next := *c
	next.Config = database.NewJSONB(maps.Clone(c.Config.Data))
	next.Credentials = database.NewJSONB(maps.Clone(c.Credentials.Data))
	return &next
}

// ConfigRepo implements repositories.IntegrationConfigRepo
type ConfigRepo struct{ s *Store }

func (r *ConfigRepo) Get(ctx context.Context, provider models.Provider) (*models.IntegrationConfig, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.configs[configKey(tenantID, provider)]
	if !ok {
		return nil, repositories.NotFound("%s integration is not configured", provider)
	}
	return copyConfig(c), nil
}

func (r *ConfigRepo) List(ctx context.Context) ([]models.IntegrationConfig, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.IntegrationConfig
	for _, c := range r.s.configs {
		if c.TenantID == tenantID {
			out = append(out, *copyConfig(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (r *ConfigRepo) Mutate(ctx context.Context, provider models.Provider, fn repositories.ConfigMutation) (*models.IntegrationConfig, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := configKey(tenantID, provider)
	var current *models.IntegrationConfig
	if c, ok := r.s.configs[key]; ok {
		current = copyConfig(c)
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, nil
	}

	now := time.Now().UTC()
	next.TenantID = tenantID
	next.Provider = provider
	if current != nil {
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
	} else {
		next.ID = uuid.New()
		next.CreatedAt = now
	}
	if next.LastSyncStatus == "" {
		next.LastSyncStatus = models.SyncStatusIdle
	}
	next.UpdatedAt = now
	r.s.configs[key] = copyConfig(next)
	return next, nil
}

func (r *ConfigRepo) SoftDelete(ctx context.Context, provider models.Provider) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := configKey(tenantID, provider)
	if _, ok := r.s.configs[key]; !ok {
		return repositories.NotFound("%s integration is not configured", provider)
	}
	delete(r.s.configs, key)
	return nil
}

func (r *ConfigRepo) ListDueForSync(_ context.Context, providers []models.Provider, syncedBefore time.Time, limit int) ([]models.IntegrationConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.IntegrationConfig
	for _, c := range r.s.configs {
		if !c.Enabled || !slices.Contains(providers, c.Provider) || c.LastSyncStatus == models.SyncStatusSyncing {
			continue
		}
		if c.LastSyncAt != nil && !c.LastSyncAt.Before(syncedBefore) {
			continue
		}
		out = append(out, *copyConfig(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSyncAt == nil {
			return out[j].LastSyncAt != nil
		}
		return out[j].LastSyncAt != nil && out[i].LastSyncAt.Before(*out[j].LastSyncAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InteractionRepo implements repositories.InteractionRepo
type InteractionRepo struct{ s *Store }

func (r *InteractionRepo) find(tenantID uuid.UUID, provider models.Provider, externalID string) *models.Interaction {
	for _, i := range r.s.interactions {
		if i.TenantID == tenantID && i.IntegrationType == provider && i.ExternalID == externalID {
			return i
		}
	}
	return nil
}

func (r *InteractionRepo) Log(ctx context.Context, interaction *models.Interaction) (bool, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if existing := r.find(tenantID, interaction.IntegrationType, interaction.ExternalID); existing != nil {
		*interaction = *existing
		return false, nil
	}
	r.insert(tenantID, interaction)
	return true, nil
}

func (r *InteractionRepo) insert(tenantID uuid.UUID, interaction *models.Interaction) {
	now := time.Now().UTC()
	interaction.ID = uuid.New()
	interaction.TenantID = tenantID
	if interaction.OccurredAt.IsZero() {
		interaction.OccurredAt = now
	}
	interaction.CreatedAt = now
	interaction.UpdatedAt = now
	stored := *interaction
	r.s.interactions = append(r.s.interactions, &stored)
}

func (r *InteractionRepo) Upsert(ctx context.Context, interaction *models.Interaction) (bool, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing := r.find(tenantID, interaction.IntegrationType, interaction.ExternalID)
	if existing == nil {
		r.insert(tenantID, interaction)
		return true, nil
	}
	if existing.Subject == "" {
		existing.Subject = interaction.Subject
	}
	if existing.Description == "" {
		existing.Description = interaction.Description
	}
	existing.Status = interaction.Status
	existing.OccurredAt = interaction.OccurredAt
	if interaction.DurationSeconds != nil {
		existing.DurationSeconds = interaction.DurationSeconds
	}
	if existing.CustomerID == nil {
		existing.CustomerID = interaction.CustomerID
	}
	existing.UpdatedAt = time.Now().UTC()
	*interaction = *existing
	return false, nil
}

func (r *InteractionRepo) GetByExternalID(ctx context.Context, provider models.Provider, externalID string) (*models.Interaction, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing := r.find(tenantID, provider, externalID)
	if existing == nil {
		return nil, repositories.NotFound("interaction %s not found", externalID)
	}
	out := *existing
	return &out, nil
}

func (r *InteractionRepo) Complete(ctx context.Context, provider models.Provider, externalID string, durationSeconds int) error {
	return r.update(ctx, provider, externalID, func(i *models.Interaction) {
		i.Status = models.InteractionCompleted
		d := durationSeconds
		i.DurationSeconds = &d
	})
}

func (r *InteractionRepo) AppendDescription(ctx context.Context, provider models.Provider, externalID, suffix string) error {
	return r.update(ctx, provider, externalID, func(i *models.Interaction) {
		i.Description += suffix
	})
}

func (r *InteractionRepo) update(ctx context.Context, provider models.Provider, externalID string, fn func(*models.Interaction)) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing := r.find(tenantID, provider, externalID)
	if existing == nil {
		return repositories.NotFound("interaction %s not found", externalID)
	}
	fn(existing)
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InteractionRepo) CountByCustomer(ctx context.Context, customerID uuid.UUID) (int, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, i := range r.s.interactions {
		if i.TenantID == tenantID && i.CustomerID != nil && *i.CustomerID == customerID {
			n++
		}
	}
	return n, nil
}

// TaskRepo implements repositories.TaskRepo
type TaskRepo struct{ s *Store }

func (r *TaskRepo) Create(ctx context.Context, task *models.Task) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	task.ID = uuid.New()
	task.TenantID = tenantID
	task.CreatedAt = time.Now().UTC()
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}
	stored := *task
	r.s.tasks = append(r.s.tasks, &stored)
	return nil
}

// CustomerRepo implements repositories.CustomerRepo
type CustomerRepo struct{ s *Store }

func (r *CustomerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.customers {
		if c.TenantID == tenantID && c.ID == id {
			out := *c
			return &out, nil
		}
	}
	return nil, repositories.NotFound("customer %s not found", id)
}

func (r *CustomerRepo) Find(ctx context.Context, lookup repositories.CustomerLookup) (*models.Customer, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	phones := make([]string, 0, len(lookup.Phones))
	for _, p := range lookup.Phones {
		if d := digits(p); d != "" {
			phones = append(phones, d)
		}
	}
	for _, c := range r.s.customers {
		if c.TenantID != tenantID {
			continue
		}
		if c.Email != nil && containsFold(lookup.Emails, *c.Email) {
			return copyCustomer(c), nil
		}
		if c.Phone != nil && digits(*c.Phone) != "" && slices.Contains(phones, digits(*c.Phone)) {
			return copyCustomer(c), nil
		}
		if c.TelegramHandle != nil && containsFold(lookup.TelegramHandles, *c.TelegramHandle) {
			return copyCustomer(c), nil
		}
	}
	return nil, repositories.NotFound("customer not found")
}

func (r *CustomerRepo) Create(ctx context.Context, customer *models.Customer) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	customer.ID = uuid.New()
	customer.TenantID = tenantID
	if customer.LeadStatus == "" {
		customer.LeadStatus = models.LeadNew
	}
	customer.CreatedAt = now
	customer.UpdatedAt = now
	r.s.customers = append(r.s.customers, copyCustomer(customer))
	return nil
}

func (r *CustomerRepo) UpdateLead(ctx context.Context, id uuid.UUID, score int, status models.LeadStatus) error {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.customers {
		if c.TenantID == tenantID && c.ID == id {
			c.LeadScore = score
			c.LeadStatus = status
			c.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return repositories.NotFound("customer %s not found", id)
}

func copyCustomer(c *models.Customer) *models.Customer {
	out := *c
	return &out
}

func containsFold(values []string, v string) bool {
	return slices.ContainsFunc(values, func(candidate string) bool {
		return candidate != "" && strings.EqualFold(candidate, v)
	})
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// UserRepo implements repositories.UserRepo
type UserRepo struct{ s *Store }

func (r *UserRepo) FirstByRole(ctx context.Context, role models.UserRole) (*models.User, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var first *models.User
	for _, u := range r.s.users {
		if u.TenantID == tenantID && u.Role == role && (first == nil || u.CreatedAt.Before(first.CreatedAt)) {
			first = u
		}
	}
	if first == nil {
		return nil, repositories.NotFound("no %s user", role)
	}
	out := *first
	return &out, nil
}

// IssueRepo implements repositories.TrackedIssueRepo
type IssueRepo struct{ s *Store }

func (r *IssueRepo) Upsert(ctx context.Context, issue *models.TrackedIssue) (bool, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	issue.TenantID = tenantID
	issue.SyncedAt = now
	issue.UpdatedAt = now
	for _, existing := range r.s.issues {
		if existing.TenantID == tenantID && existing.Provider == issue.Provider && existing.ExternalID == issue.ExternalID {
			issue.ID = existing.ID
			issue.CreatedAt = existing.CreatedAt
			*existing = *issue
			return false, nil
		}
	}
	issue.ID = uuid.New()
	issue.CreatedAt = now
	stored := *issue
	r.s.issues = append(r.s.issues, &stored)
	return true, nil
}

func (r *IssueRepo) Counts(ctx context.Context) (*models.IssueCounts, error) {
	tenantID, err := repositories.GetTenantID(ctx)
	if err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := &models.IssueCounts{}
	for _, i := range r.s.issues {
		if i.TenantID != tenantID {
			continue
		}
		counts.Total++
		switch i.Provider {
		case string(models.ProviderJira):
			counts.Jira++
		case string(models.ProviderLinear):
			counts.Linear++
		case models.IssueSourceInternal:
			counts.Internal++
		}
	}
	return counts, nil
}

var (
	_ repositories.IntegrationConfigRepo = (*ConfigRepo)(nil)
	_ repositories.InteractionRepo       = (*InteractionRepo)(nil)
	_ repositories.TaskRepo              = (*TaskRepo)(nil)
	_ repositories.CustomerRepo          = (*CustomerRepo)(nil)
	_ repositories.UserRepo              = (*UserRepo)(nil)
	_ repositories.TrackedIssueRepo      = (*IssueRepo)(nil)
)
