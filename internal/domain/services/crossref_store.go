package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"tracelink-lab/internal/domain/models"
)

// ErrStoreFrozen is returned by writes after the search phase has ended
var ErrStoreFrozen = errors.New("cross-reference store is frozen")

// CrossReferenceStore deduplicates fetched records and tracks which criteria
// each record matched. One store belongs to one search session.
type CrossReferenceStore struct {
	mu      sync.Mutex
	records map[string]*models.StoredRecord
	frozen  bool
	now     func() time.Time
}

// NewCrossReferenceStore creates an empty store
func NewCrossReferenceStore() *CrossReferenceStore {
	return &CrossReferenceStore{
		records: make(map[string]*models.StoredRecord),
		now:     time.Now,
	}
}

// RecordKey identifies a record by its table and a hash of its content.
// encoding/json sorts map keys, so equal field sets hash equally.
func RecordKey(table string, fields map[string]any) string {
	b, err := json.Marshal(fields)
	if err != nil {
		b = []byte(fmt.Sprintf("%v", fields))
	}
	return fmt.Sprintf("%s:%016x", table, xxhash.Sum64(b))
}

// Upsert stores a record fetched for criterionID. The criterion is recorded once
// per record no matter how often the record is pushed. created reports whether
// the key was new.
func (s *CrossReferenceStore) Upsert(table string, fields map[string]any, criterionID string) (key string, created bool, err error) {
	key = RecordKey(table, fields)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return key, false, ErrStoreFrozen
	}

	rec, ok := s.records[key]
	if !ok {
		rec = &models.StoredRecord{
			Key:             key,
			Table:           table,
			Fields:          fields,
			MatchedCriteria: []string{},
			FirstSeen:       s.now(),
		}
		s.records[key] = rec
		created = true
	}
	addCriterion(rec, criterionID)
	return key, created, nil
}

// MarkMatched records that an existing record satisfies a secondary criterion
func (s *CrossReferenceStore) MarkMatched(key, criterionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return ErrStoreFrozen
	}
	rec, ok := s.records[key]
	if !ok {
		return fmt.Errorf("record %s not found", key)
	}
	addCriterion(rec, criterionID)
	return nil
}

func addCriterion(rec *models.StoredRecord, criterionID string) {
	if criterionID == "" || rec.HasCriterion(criterionID) {
		return
	}
	rec.MatchedCriteria = append(rec.MatchedCriteria, criterionID)
	rec.MatchCount = len(rec.MatchedCriteria)
}

// Freeze makes the store read-only
func (s *CrossReferenceStore) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

// Frozen reports whether the store is read-only
func (s *CrossReferenceStore) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

// Len returns the number of distinct records
func (s *CrossReferenceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Get returns a copy of one record
func (s *CrossReferenceStore) Get(key string) (models.StoredRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return models.StoredRecord{}, false
	}
	return rec.Clone(), true
}

// Records returns copies of all records ordered by key
func (s *CrossReferenceStore) Records() []models.StoredRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.StoredRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
