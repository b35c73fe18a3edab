package patient

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
)

// SortField names a numeric patient attribute that results can be ordered by.
type SortField string

const (
	SortByHeight SortField = "height"
	SortByWeight SortField = "weight"
	SortByBMI    SortField = "bmi"
)

// SortOrder is the direction of a sort.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

var autoIDPattern = regexp.MustCompile(`^P(\d+)$`)

// FieldStats aggregates one numeric attribute across the collection.
type FieldStats struct {
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
}

// Stats is the aggregate returned by Service.Stats. An empty collection yields
// zero values and empty distributions.
type Stats struct {
	TotalPatients       int            `json:"total_patients"`
	Age                 FieldStats     `json:"age_statistics"`
	Height              FieldStats     `json:"height_statistics"`
	Weight              FieldStats     `json:"weight_statistics"`
	BMI                 FieldStats     `json:"bmi_statistics"`
	GenderDistribution  map[string]int `json:"gender_distribution"`
	CityDistribution    map[string]int `json:"city_distribution"`
	VerdictDistribution map[string]int `json:"bmi_verdict_distribution"`
}

// Service implements patient operations as a read-modify-write of the whole
// collection held by the injected Store.
type Service struct {
	store  Store
	logger zerolog.Logger
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger.With().Str("component", "patient").Logger()}
}

// Store returns the record store the service operates on.
func (s *Service) Store() Store {
	return s.store
}

func (s *Service) List(ctx context.Context) ([]*Patient, error) {
	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return sortedByID(c, nil), nil
}

func (s *Service) Get(ctx context.Context, id string) (*Patient, error) {
	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := c[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &Patient{ID: id, Record: r}, nil
}

func (s *Service) Create(ctx context.Context, in Input) (*Patient, error) {
	if in.ID != "" && !validID(in.ID) {
		return nil, invalid("id", "must match %s", idPattern.String())
	}
	r, err := NewRecord(in)
	if err != nil {
		return nil, err
	}

	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	id := in.ID
	if id == "" {
		id = nextID(c)
	}
	if _, exists := c[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrConflict, id)
	}

	c[id] = r
	if err := s.store.Save(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info().Str("patient_id", id).Str("verdict", string(r.Verdict)).Msg("patient created")
	return &Patient{ID: id, Record: r}, nil
}

func (s *Service) Update(ctx context.Context, id string, u Update) (*Patient, error) {
	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	existing, ok := c[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	r, err := existing.Apply(u)
	if err != nil {
		return nil, err
	}

	c[id] = r
	if err := s.store.Save(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info().Str("patient_id", id).Str("verdict", string(r.Verdict)).Msg("patient updated")
	return &Patient{ID: id, Record: r}, nil
}

// Delete removes the patient and returns the record that was removed.
func (s *Service) Delete(ctx context.Context, id string) (*Patient, error) {
	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := c[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	delete(c, id)
	if err := s.store.Save(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info().Str("patient_id", id).Msg("patient deleted")
	return &Patient{ID: id, Record: r}, nil
}

// SearchByCity returns patients whose city matches exactly, case included.
func (s *Service) SearchByCity(ctx context.Context, city string) ([]*Patient, error) {
	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return sortedByID(c, func(r Record) bool { return r.City == city }), nil
}

// ParseSort validates raw sort parameters. An empty order means ascending.
func ParseSort(by, order string) (SortField, SortOrder, error) {
	field := SortField(by)
	switch field {
	case SortByHeight, SortByWeight, SortByBMI:
	default:
		return "", "", invalid("sort_by", "must be one of height, weight, bmi")
	}

	dir := SortOrder(order)
	switch dir {
	case "":
		dir = OrderAsc
	case OrderAsc, OrderDesc:
	default:
		return "", "", invalid("order", "must be asc or desc")
	}
	return field, dir, nil
}

// Sort returns all patients stably ordered by the given field. Ties keep id order.
func (s *Service) Sort(ctx context.Context, by SortField, order SortOrder) ([]*Patient, error) {
	if _, _, err := ParseSort(string(by), string(order)); err != nil {
		return nil, err
	}
	patients, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	key := func(p *Patient) float64 {
		switch by {
		case SortByHeight:
			return p.Height
		case SortByWeight:
			return p.Weight
		default:
			return p.BMI
		}
	}
	sort.SliceStable(patients, func(i, j int) bool {
		if order == OrderDesc {
			return key(patients[i]) > key(patients[j])
		}
		return key(patients[i]) < key(patients[j])
	})
	return patients, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	c, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		TotalPatients:       len(c),
		GenderDistribution:  map[string]int{},
		CityDistribution:    map[string]int{},
		VerdictDistribution: map[string]int{},
	}
	if len(c) == 0 {
		return st, nil
	}

	var age, height, weight, bmi accumulator
	for _, r := range c {
		age.add(float64(r.Age))
		height.add(r.Height)
		weight.add(r.Weight)
		bmi.add(r.BMI)
		st.GenderDistribution[string(r.Gender)]++
		st.CityDistribution[r.City]++
		st.VerdictDistribution[string(r.Verdict)]++
	}
	st.Age = age.result()
	st.Age.Average = math.Round(age.sum/float64(age.n)*10) / 10
	st.Height = height.result()
	st.Weight = weight.result()
	st.BMI = bmi.result()
	return st, nil
}

type accumulator struct {
	n             int
	sum, min, max float64
}

func (a *accumulator) add(v float64) {
	if a.n == 0 || v < a.min {
		a.min = v
	}
	if a.n == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.n++
}

func (a *accumulator) result() FieldStats {
	if a.n == 0 {
		return FieldStats{}
	}
	return FieldStats{Average: round2(a.sum / float64(a.n)), Min: a.min, Max: a.max}
}

func sortedByID(c Collection, keep func(Record) bool) []*Patient {
	ids := make([]string, 0, len(c))
	for id, r := range c {
		if keep == nil || keep(r) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]*Patient, 0, len(ids))
	for _, id := range ids {
		out = append(out, &Patient{ID: id, Record: c[id]})
	}
	return out
}

// nextID returns P followed by the highest numeric suffix among P<digits>
// ids plus one, zero-padded to three digits. Suffixes too large for an int
// are ignored; if the highest one is already math.MaxInt, numbering restarts
// at the first free slot from 1. The result is never an existing id.
func nextID(c Collection) string {
	max := 0
	for id := range c {
		m := autoIDPattern.FindStringSubmatch(id)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}

	n := 1
	if max < math.MaxInt {
		n = max + 1
	}
	for {
		id := fmt.Sprintf("P%03d", n)
		if _, taken := c[id]; !taken {
			return id
		}
		n++
	}
}
