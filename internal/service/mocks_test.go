package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/boostly-api/internal/models"
	"github.com/noah-isme/boostly-api/internal/repository"
	"github.com/noah-isme/boostly-api/pkg/database"
	appErrors "github.com/noah-isme/boostly-api/pkg/errors"
)

// fakeRunner executes units of work directly against the in-memory stores.
// The stores ignore the tx handle, so passing nil is safe.
type fakeRunner struct {
	calls int
	err   error
}

func (r *fakeRunner) Serializable(ctx context.Context, fn database.TxFunc) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	return fn(ctx, nil)
}

type memStudents struct {
	students map[string]models.Student
}

func newMemStudents(students ...models.Student) *memStudents {
	m := &memStudents{students: make(map[string]models.Student)}
	for _, s := range students {
		m.students[s.ID] = s
	}
	return m
}

func (m *memStudents) Lock(ctx context.Context, q sqlx.ExtContext, ids ...string) ([]models.Student, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	var out []models.Student
	for _, id := range sorted {
		if s, ok := m.students[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStudents) Find(ctx context.Context, q sqlx.ExtContext, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *memStudents) ListActiveIDs(ctx context.Context, q sqlx.ExtContext) ([]string, error) {
	var ids []string
	for id, s := range m.students {
		if s.IsActive() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memLedger struct {
	entries   []models.LedgerEntry
	seq       int64
	appendErr error
}

func (m *memLedger) Append(ctx context.Context, q sqlx.ExtContext, entry *models.LedgerEntry) error {
	if m.appendErr != nil {
		return m.appendErr
	}
	if entry.CreditsDelta == 0 || entry.EventType.Sign() == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "invalid ledger entry")
	}
	if (entry.EventType.Sign() < 0) != (entry.CreditsDelta < 0) {
		return appErrors.Clone(appErrors.ErrValidation, "wrong delta sign")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.MonthBucket.IsZero() {
		entry.MonthBucket = models.MonthBucket(entry.CreatedAt)
	}
	m.seq++
	entry.SequenceID = m.seq
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memLedger) SumDeltas(ctx context.Context, q sqlx.ExtContext, studentID string) (int, error) {
	total := 0
	for _, e := range m.entries {
		if e.StudentID == studentID && e.EventType.CountsTowardBalance() {
			total += e.CreditsDelta
		}
	}
	return total, nil
}

func (m *memLedger) SumDeltasAsOf(ctx context.Context, q sqlx.ExtContext, studentID string, asOf time.Time) (int, error) {
	total := 0
	for _, e := range m.entries {
		if e.StudentID == studentID && e.EventType.CountsTowardBalance() && !e.CreatedAt.After(asOf) {
			total += e.CreditsDelta
		}
	}
	return total, nil
}

func (m *memLedger) SumByTypes(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, types []models.CreditEventType) (int, error) {
	total := 0
	for _, e := range m.entries {
		if e.StudentID != studentID || !e.MonthBucket.Equal(bucket) {
			continue
		}
		for _, t := range types {
			if e.EventType == t {
				total += e.CreditsDelta
				break
			}
		}
	}
	return total, nil
}

func (m *memLedger) List(ctx context.Context, q sqlx.ExtContext, filter models.LedgerFilter) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, e := range m.entries {
		if e.StudentID != filter.StudentID {
			continue
		}
		if filter.MonthFrom != nil && e.MonthBucket.Before(*filter.MonthFrom) {
			continue
		}
		if filter.MonthTo != nil && e.MonthBucket.After(*filter.MonthTo) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memLedger) HasEntryForMonth(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time, eventType models.CreditEventType) (bool, error) {
	for _, e := range m.entries {
		if e.StudentID == studentID && e.EventType == eventType && e.MonthBucket.Equal(bucket) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedger) HasRecognitionRefs(ctx context.Context, q sqlx.ExtContext, recognitionID string) (bool, error) {
	for _, e := range m.entries {
		if e.RecognitionID != nil && *e.RecognitionID == recognitionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedger) entriesOf(studentID string, eventType models.CreditEventType) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, e := range m.entries {
		if e.StudentID == studentID && e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func quotaKey(studentID string, bucket time.Time) string {
	return studentID + "|" + bucket.Format("2006-01")
}

type memQuotas struct {
	rows   map[string]*models.MonthlyQuota
	nextID int
}

func newMemQuotas() *memQuotas {
	return &memQuotas{rows: make(map[string]*models.MonthlyQuota)}
}

func (m *memQuotas) Find(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time) (*models.MonthlyQuota, error) {
	if row, ok := m.rows[quotaKey(studentID, bucket)]; ok {
		copied := *row
		return &copied, nil
	}
	return nil, nil
}

func (m *memQuotas) FindForUpdate(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time) (*models.MonthlyQuota, error) {
	return m.Find(ctx, q, studentID, bucket)
}

func (m *memQuotas) Create(ctx context.Context, q sqlx.ExtContext, quota *models.MonthlyQuota) error {
	if quota.ID == "" {
		m.nextID++
		quota.ID = fmt.Sprintf("quota-%d", m.nextID)
	}
	copied := *quota
	m.rows[quotaKey(quota.StudentID, quota.MonthBucket)] = &copied
	return nil
}

func (m *memQuotas) byID(quotaID string) *models.MonthlyQuota {
	for _, row := range m.rows {
		if row.ID == quotaID {
			return row
		}
	}
	return nil
}

func (m *memQuotas) IncrementSent(ctx context.Context, q sqlx.ExtContext, quotaID string, amount int) (bool, error) {
	row := m.byID(quotaID)
	if row == nil || row.CreditsSent+amount > row.SendLimit+row.CarryForwardCredits {
		return false, nil
	}
	row.CreditsSent += amount
	return true, nil
}

func (m *memQuotas) ApplyCarryForward(ctx context.Context, q sqlx.ExtContext, quotaID string, carryCredits int, resetAt time.Time) (bool, error) {
	row := m.byID(quotaID)
	if row == nil || row.CarryForwardApplied {
		return false, nil
	}
	row.CarryForwardCredits = carryCredits
	row.CarryForwardApplied = true
	row.ResetAt = &resetAt
	return true, nil
}

type memRecognitions struct {
	rows   map[string]*models.Recognition
	nextID int
}

func newMemRecognitions() *memRecognitions {
	return &memRecognitions{rows: make(map[string]*models.Recognition)}
}

func (m *memRecognitions) Create(ctx context.Context, q sqlx.ExtContext, rec *models.Recognition) error {
	if rec.ID == "" {
		m.nextID++
		rec.ID = fmt.Sprintf("rec-%d", m.nextID)
	}
	copied := *rec
	m.rows[rec.ID] = &copied
	return nil
}

func (m *memRecognitions) GetByID(ctx context.Context, q sqlx.ExtContext, id string) (*models.Recognition, error) {
	if rec, ok := m.rows[id]; ok {
		copied := *rec
		return &copied, nil
	}
	return nil, nil
}

func (m *memRecognitions) List(ctx context.Context, q sqlx.ExtContext, filter models.RecognitionFilter) ([]models.Recognition, error) {
	var out []models.Recognition
	for _, rec := range m.rows {
		if filter.SenderID != "" && rec.SenderID != filter.SenderID {
			continue
		}
		if filter.ReceiverID != "" && rec.ReceiverID != filter.ReceiverID {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memRecognitions) Delete(ctx context.Context, q sqlx.ExtContext, id string) error {
	delete(m.rows, id)
	return nil
}

type memRedemptions struct {
	rows   map[string]*models.Redemption
	nextID int
}

func newMemRedemptions() *memRedemptions {
	return &memRedemptions{rows: make(map[string]*models.Redemption)}
}

func (m *memRedemptions) Create(ctx context.Context, q sqlx.ExtContext, redemption *models.Redemption) error {
	if redemption.ID == "" {
		m.nextID++
		redemption.ID = fmt.Sprintf("red-%d", m.nextID)
	}
	if redemption.Status == "" {
		redemption.Status = models.RedemptionPending
	}
	copied := *redemption
	m.rows[redemption.ID] = &copied
	return nil
}

func (m *memRedemptions) Find(ctx context.Context, q sqlx.ExtContext, id string) (*models.Redemption, error) {
	if r, ok := m.rows[id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

func (m *memRedemptions) FindForUpdate(ctx context.Context, q sqlx.ExtContext, id string) (*models.Redemption, error) {
	return m.Find(ctx, q, id)
}

func (m *memRedemptions) Transition(ctx context.Context, q sqlx.ExtContext, params repository.TransitionParams) (bool, error) {
	row, ok := m.rows[params.ID]
	if !ok || row.Status != models.RedemptionPending {
		return false, nil
	}
	row.Status = params.To
	if params.ReferenceCode != nil {
		row.ReferenceCode = params.ReferenceCode
	}
	if params.IssuedBy != nil {
		row.IssuedBy = params.IssuedBy
	}
	if params.FulfilledAt != nil {
		row.FulfilledAt = params.FulfilledAt
	}
	return true, nil
}

func (m *memRedemptions) ListByStudent(ctx context.Context, q sqlx.ExtContext, studentID string, limit, offset int) ([]models.Redemption, error) {
	var out []models.Redemption
	for _, r := range m.rows {
		if r.StudentID == studentID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type memAudits struct {
	rows   map[string]*models.MonthlyResetAudit
	nextID int
}

func newMemAudits() *memAudits {
	return &memAudits{rows: make(map[string]*models.MonthlyResetAudit)}
}

func (m *memAudits) Find(ctx context.Context, q sqlx.ExtContext, studentID string, bucket time.Time) (*models.MonthlyResetAudit, error) {
	if a, ok := m.rows[quotaKey(studentID, bucket)]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (m *memAudits) Create(ctx context.Context, q sqlx.ExtContext, audit *models.MonthlyResetAudit) error {
	if audit.ID == "" {
		m.nextID++
		audit.ID = fmt.Sprintf("audit-%d", m.nextID)
	}
	copied := *audit
	m.rows[quotaKey(audit.StudentID, audit.MonthBucket)] = &copied
	return nil
}

// memCache is a map-backed stand-in for the Redis cache repository.
type memCache struct {
	values       map[string][]byte
	balanceDrops []string
	boardDrops   int
}

func newMemCache() *memCache {
	return &memCache{values: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = raw
	return nil
}

func (c *memCache) InvalidateBalance(ctx context.Context, studentID string) error {
	delete(c.values, "boostly:balance:"+studentID)
	c.balanceDrops = append(c.balanceDrops, studentID)
	return nil
}

func (c *memCache) InvalidateLeaderboards(ctx context.Context) error {
	c.boardDrops++
	return nil
}

func activeStudent(id string) models.Student {
	return models.Student{
		ID:          id,
		CampusUID:   "uid-" + id,
		Email:       id + "@campus.test",
		DisplayName: "Student " + id,
		Status:      models.StudentStatusActive,
	}
}
