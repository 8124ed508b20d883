package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/errors"
	"github.com/pratik-mahalle/vigil/internal/sender"
)

// MockRuleRepository is a mock implementation of rule.Repository
type MockRuleRepository struct {
	mu          sync.Mutex
	Rules       map[int64]*rule.AlertRule
	NextID      int64
	CreateError error
	GetError    error
	UpdateError error
}

func NewMockRuleRepository() *MockRuleRepository {
	return &MockRuleRepository{
		Rules:  make(map[int64]*rule.AlertRule),
		NextID: 1,
	}
}

func (m *MockRuleRepository) Create(ctx context.Context, r *rule.AlertRule) (int64, error) {
	if m.CreateError != nil {
		return 0, m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.NextID
	m.NextID++
	cp := *r
	m.Rules[r.ID] = &cp
	return r.ID, nil
}

func (m *MockRuleRepository) GetByID(ctx context.Context, id int64) (*rule.AlertRule, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Rules[id]
	if !ok {
		return nil, errors.NotFound("Rule")
	}
	cp := *r
	return &cp, nil
}

func (m *MockRuleRepository) Update(ctx context.Context, r *rule.AlertRule) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Rules[r.ID]; !ok {
		return errors.NotFound("Rule")
	}
	cp := *r
	m.Rules[r.ID] = &cp
	return nil
}

func (m *MockRuleRepository) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Rules[id]; !ok {
		return errors.NotFound("Rule")
	}
	delete(m.Rules, id)
	return nil
}

func (m *MockRuleRepository) List(ctx context.Context, userID int64, filter rule.Filter, limit, offset int) ([]*rule.AlertRule, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*rule.AlertRule
	for _, r := range m.Rules {
		if !r.IsGlobal() && !r.IsOwnedBy(userID) {
			continue
		}
		if filter.AlertType != "" && r.AlertType != filter.AlertType {
			continue
		}
		if filter.Severity != "" && r.Severity != filter.Severity {
			continue
		}
		if filter.Enabled != nil && r.Enabled != *filter.Enabled {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, int64(len(result)), nil
}

func (m *MockRuleRepository) ListEnabled(ctx context.Context) ([]*rule.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*rule.AlertRule
	for _, r := range m.Rules {
		if r.Enabled {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// MockInstanceRepository is a mock implementation of alert.Repository with
// the same version semantics as the SQL implementation
type MockInstanceRepository struct {
	mu        sync.Mutex
	Instances map[string]*alert.Instance
	// Rules backs owner scoping; instances of a missing rule stay visible,
	// matching the SQL left join
	Rules *MockRuleRepository
	// BeforeUpdateConditional runs inside UpdateConditional before the
	// version check, letting tests interleave a competing write
	BeforeUpdateConditional func(i *alert.Instance)
	CreateError             error
	GetError                error
}

func NewMockInstanceRepository() *MockInstanceRepository {
	return &MockInstanceRepository{
		Instances: make(map[string]*alert.Instance),
	}
}

func (m *MockInstanceRepository) Create(ctx context.Context, i *alert.Instance) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.Instances {
		if existing.RuleID == i.RuleID && existing.IsActive() {
			return errors.Conflict("an active alert instance already exists for this rule")
		}
	}
	if i.Version == 0 {
		i.Version = 1
	}
	cp := *i
	m.Instances[i.ID] = &cp
	return nil
}

func (m *MockInstanceRepository) GetByID(ctx context.Context, id string) (*alert.Instance, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.Instances[id]
	if !ok {
		return nil, errors.NotFound("Alert instance")
	}
	cp := *i
	return &cp, nil
}

func (m *MockInstanceRepository) GetActiveByRule(ctx context.Context, ruleID int64) (*alert.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.Instances {
		if i.RuleID == ruleID && i.IsActive() {
			cp := *i
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockInstanceRepository) UpdateConditional(ctx context.Context, i *alert.Instance, expectedVersion int64) error {
	if hook := m.BeforeUpdateConditional; hook != nil {
		m.BeforeUpdateConditional = nil
		hook(i)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.Instances[i.ID]
	if !ok {
		return errors.NotFound("Alert instance")
	}
	if stored.Version != expectedVersion {
		return errors.Concurrency("alert instance was modified concurrently")
	}
	cp := *i
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now()
	m.Instances[i.ID] = &cp
	i.Version = cp.Version
	return nil
}

func (m *MockInstanceRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Instances[id]; !ok {
		return errors.NotFound("Alert instance")
	}
	delete(m.Instances, id)
	return nil
}

func (m *MockInstanceRepository) List(ctx context.Context, filter alert.Filter, limit, offset int) ([]*alert.Instance, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*alert.Instance
	for _, i := range m.Instances {
		if filter.RuleID != 0 && i.RuleID != filter.RuleID {
			continue
		}
		if !m.visibleTo(filter.OwnerID, i.RuleID) {
			continue
		}
		if filter.State != "" && i.State != filter.State {
			continue
		}
		if filter.Severity != "" && i.Severity != filter.Severity {
			continue
		}
		if filter.From != nil && i.TriggeredAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && i.TriggeredAt.After(*filter.To) {
			continue
		}
		cp := *i
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TriggeredAt.After(result[j].TriggeredAt)
	})
	return result, int64(len(result)), nil
}

func (m *MockInstanceRepository) CountActiveByRule(ctx context.Context, ruleID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, i := range m.Instances {
		if i.RuleID == ruleID && i.IsActive() {
			count++
		}
	}
	return count, nil
}

func (m *MockInstanceRepository) CountByState(ctx context.Context, ownerID *int64) (map[alert.State]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[alert.State]int)
	for _, i := range m.Instances {
		if !m.visibleTo(ownerID, i.RuleID) {
			continue
		}
		counts[i.State]++
	}
	return counts, nil
}

func (m *MockInstanceRepository) CountActiveBySeverity(ctx context.Context, ownerID *int64) (map[rule.Severity]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[rule.Severity]int)
	for _, i := range m.Instances {
		if !m.visibleTo(ownerID, i.RuleID) {
			continue
		}
		if i.IsActive() {
			counts[i.Severity]++
		}
	}
	return counts, nil
}

// visibleTo reports whether instances of ruleID are visible to ownerID:
// global rules and orphaned instances are visible to everyone.
func (m *MockInstanceRepository) visibleTo(ownerID *int64, ruleID int64) bool {
	if ownerID == nil || m.Rules == nil {
		return true
	}
	m.Rules.mu.Lock()
	defer m.Rules.mu.Unlock()
	r, ok := m.Rules.Rules[ruleID]
	if !ok {
		return true
	}
	return r.UserID == nil || *r.UserID == *ownerID
}

func (m *MockInstanceRepository) ListTriggeredBefore(ctx context.Context, cutoff time.Time) ([]*alert.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*alert.Instance
	for _, i := range m.Instances {
		if i.State == alert.StateTriggered && i.TriggeredAt.Before(cutoff) {
			cp := *i
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TriggeredAt.Before(result[j].TriggeredAt)
	})
	return result, nil
}

// MockNotificationRepository is a mock implementation of notification.Repository
type MockNotificationRepository struct {
	mu           sync.Mutex
	Channels     map[int64]*notification.Channel
	Associations map[int64][]int64 // ruleID -> channelIDs
	Deliveries   map[string]*notification.Delivery
	NextID       int64
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{
		Channels:     make(map[int64]*notification.Channel),
		Associations: make(map[int64][]int64),
		Deliveries:   make(map[string]*notification.Delivery),
		NextID:       1,
	}
}

func (m *MockNotificationRepository) CreateChannel(ctx context.Context, c *notification.Channel) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.NextID
	m.NextID++
	cp := *c
	m.Channels[c.ID] = &cp
	return c.ID, nil
}

func (m *MockNotificationRepository) GetChannel(ctx context.Context, id int64) (*notification.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Channels[id]
	if !ok {
		return nil, errors.NotFound("Channel")
	}
	cp := *c
	return &cp, nil
}

func (m *MockNotificationRepository) UpdateChannel(ctx context.Context, c *notification.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Channels[c.ID]; !ok {
		return errors.NotFound("Channel")
	}
	cp := *c
	m.Channels[c.ID] = &cp
	return nil
}

func (m *MockNotificationRepository) DeleteChannel(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Channels[id]; !ok {
		return errors.NotFound("Channel")
	}
	delete(m.Channels, id)
	for ruleID, channels := range m.Associations {
		m.Associations[ruleID] = removeID(channels, id)
	}
	return nil
}

func (m *MockNotificationRepository) ListChannels(ctx context.Context, userID int64, filter notification.ChannelFilter, limit, offset int) ([]*notification.Channel, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*notification.Channel
	for _, c := range m.Channels {
		if !c.IsGlobal() && !c.IsOwnedBy(userID) {
			continue
		}
		if filter.Type != "" && c.Type != filter.Type {
			continue
		}
		if filter.Enabled != nil && c.Enabled != *filter.Enabled {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, int64(len(result)), nil
}

func (m *MockNotificationRepository) ListChannelsForRule(ctx context.Context, ruleID int64) ([]*notification.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*notification.Channel
	for _, id := range m.Associations[ruleID] {
		if c, ok := m.Channels[id]; ok && c.Enabled {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MockNotificationRepository) Associate(ctx context.Context, ruleID, channelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.Associations[ruleID] {
		if id == channelID {
			return nil
		}
	}
	m.Associations[ruleID] = append(m.Associations[ruleID], channelID)
	return nil
}

func (m *MockNotificationRepository) Dissociate(ctx context.Context, ruleID, channelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Associations[ruleID] = removeID(m.Associations[ruleID], channelID)
	return nil
}

func (m *MockNotificationRepository) ListAssociations(ctx context.Context, ruleID int64) ([]*notification.Association, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*notification.Association
	for _, id := range m.Associations[ruleID] {
		result = append(result, &notification.Association{RuleID: ruleID, ChannelID: id})
	}
	return result, nil
}

func (m *MockNotificationRepository) CreateDelivery(ctx context.Context, d *notification.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.Deliveries[d.ID] = &cp
	return nil
}

func (m *MockNotificationRepository) GetDelivery(ctx context.Context, id string) (*notification.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Deliveries[id]
	if !ok {
		return nil, errors.NotFound("Delivery")
	}
	cp := *d
	return &cp, nil
}

func (m *MockNotificationRepository) UpdateDelivery(ctx context.Context, d *notification.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Deliveries[d.ID]; !ok {
		return errors.NotFound("Delivery")
	}
	cp := *d
	m.Deliveries[d.ID] = &cp
	return nil
}

func (m *MockNotificationRepository) ClaimDelivery(ctx context.Context, id string, from, to notification.DeliveryStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Deliveries[id]
	if !ok {
		return false, errors.NotFound("Delivery")
	}
	if d.Status != from {
		return false, nil
	}
	d.Status = to
	return true, nil
}

func (m *MockNotificationRepository) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*notification.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*notification.Delivery
	for _, d := range m.Deliveries {
		if d.Status == notification.DeliveryRetryScheduled && d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			cp := *d
			result = append(result, &cp)
		}
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MockNotificationRepository) ListDeliveries(ctx context.Context, filter notification.DeliveryFilter, limit, offset int) ([]*notification.Delivery, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*notification.Delivery
	for _, d := range m.Deliveries {
		if filter.InstanceID != "" && d.InstanceID != filter.InstanceID {
			continue
		}
		if filter.ChannelID != 0 && d.ChannelID != filter.ChannelID {
			continue
		}
		if filter.OwnerID != nil {
			// Deliveries of a deleted channel stay visible
			if c, ok := m.Channels[d.ChannelID]; ok && c.UserID != nil && *c.UserID != *filter.OwnerID {
				continue
			}
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	return result, int64(len(result)), nil
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// MockMetricProvider returns canned metric values per metric type
type MockMetricProvider struct {
	mu     sync.Mutex
	Values map[string]float64
	Err    error
}

func NewMockMetricProvider() *MockMetricProvider {
	return &MockMetricProvider{Values: make(map[string]float64)}
}

func (m *MockMetricProvider) Set(metricType string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Values[metricType] = value
}

func (m *MockMetricProvider) CurrentValue(ctx context.Context, metricType, scope string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	v, ok := m.Values[metricType]
	if !ok {
		return 0, errors.NotFound("Metric")
	}
	return v, nil
}

// MockSender records sent payloads and fails a configurable number of times
type MockSender struct {
	mu        sync.Mutex
	Sent      []sender.Payload
	FailTimes int
	Err       error
}

func (m *MockSender) Send(ctx context.Context, ch *notification.Channel, p sender.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTimes > 0 {
		m.FailTimes--
		if m.Err != nil {
			return m.Err
		}
		return errors.Upstream("channel", context.DeadlineExceeded)
	}
	m.Sent = append(m.Sent, p)
	return nil
}

func (m *MockSender) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}
