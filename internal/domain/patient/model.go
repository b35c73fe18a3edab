package patient

import (
	"regexp"
	"strings"
)

// Gender is the administrative gender recorded for a patient.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

const (
	maxAge      = 120
	maxHeightM  = 3.0
	maxWeightKg = 500.0
	maxTextLen  = 100
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Record is the persisted attribute object of a patient. The identifier is the
// key it is stored under and is not part of the record itself.
type Record struct {
	Name    string  `json:"name"`
	City    string  `json:"city"`
	Age     int     `json:"age"`
	Gender  Gender  `json:"gender"`
	Height  float64 `json:"height"`
	Weight  float64 `json:"weight"`
	BMI     float64 `json:"bmi"`
	Verdict Verdict `json:"verdict"`
}

// Patient is a record together with its identifier.
type Patient struct {
	ID string `json:"id"`
	Record
}

// Collection maps patient identifiers to their records.
type Collection map[string]Record

// Input carries the caller-settable fields for a new patient. BMI and verdict
// are always derived and therefore absent.
type Input struct {
	ID     string  `json:"id,omitempty"`
	Name   string  `json:"name"`
	City   string  `json:"city"`
	Age    int     `json:"age"`
	Gender Gender  `json:"gender"`
	Height float64 `json:"height"`
	Weight float64 `json:"weight"`
}

// Update carries a partial change; nil fields are left untouched.
type Update struct {
	Name   *string  `json:"name,omitempty"`
	City   *string  `json:"city,omitempty"`
	Age    *int     `json:"age,omitempty"`
	Gender *Gender  `json:"gender,omitempty"`
	Height *float64 `json:"height,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
}

// NewRecord validates the input and builds a record with derived fields set.
func NewRecord(in Input) (Record, error) {
	r := Record{
		Name:   strings.TrimSpace(in.Name),
		City:   strings.TrimSpace(in.City),
		Age:    in.Age,
		Gender: normalizeGender(in.Gender),
		Height: in.Height,
		Weight: in.Weight,
	}
	if err := r.validate(); err != nil {
		return Record{}, err
	}
	if err := r.derive(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Apply merges the update into a copy of the record. Only the supplied fields
// are validated, so a stored record with legacy values can still be edited.
// Derived fields are recomputed only when height or weight is part of the
// update.
func (r Record) Apply(u Update) (Record, error) {
	if u.Name != nil {
		r.Name = strings.TrimSpace(*u.Name)
		if err := checkName(r.Name); err != nil {
			return Record{}, err
		}
	}
	if u.City != nil {
		r.City = strings.TrimSpace(*u.City)
		if err := checkCity(r.City); err != nil {
			return Record{}, err
		}
	}
	if u.Age != nil {
		r.Age = *u.Age
		if err := checkAge(r.Age); err != nil {
			return Record{}, err
		}
	}
	if u.Gender != nil {
		r.Gender = normalizeGender(*u.Gender)
		if err := checkGender(r.Gender); err != nil {
			return Record{}, err
		}
	}
	if u.Height != nil || u.Weight != nil {
		if u.Height != nil {
			r.Height = *u.Height
		}
		if u.Weight != nil {
			r.Weight = *u.Weight
		}
		// Both go into the BMI, so both must hold after the merge.
		if err := checkHeight(r.Height); err != nil {
			return Record{}, err
		}
		if err := checkWeight(r.Weight); err != nil {
			return Record{}, err
		}
		if err := r.derive(); err != nil {
			return Record{}, err
		}
	}
	return r, nil
}

// Empty reports whether the update carries no fields.
func (u Update) Empty() bool {
	return u.Name == nil && u.City == nil && u.Age == nil &&
		u.Gender == nil && u.Height == nil && u.Weight == nil
}

func (r *Record) derive() error {
	bmi, verdict, err := Compute(r.Height, r.Weight)
	if err != nil {
		return err
	}
	r.BMI = bmi
	r.Verdict = verdict
	return nil
}

func (r *Record) validate() error {
	checks := []error{
		checkName(r.Name),
		checkCity(r.City),
		checkAge(r.Age),
		checkGender(r.Gender),
		checkHeight(r.Height),
		checkWeight(r.Weight),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

func checkName(name string) error {
	if name == "" {
		return invalid("name", "is required")
	}
	if len(name) > maxTextLen {
		return invalid("name", "must be at most %d characters", maxTextLen)
	}
	return nil
}

func checkCity(city string) error {
	if city == "" {
		return invalid("city", "is required")
	}
	if len(city) > maxTextLen {
		return invalid("city", "must be at most %d characters", maxTextLen)
	}
	return nil
}

func checkAge(age int) error {
	if age <= 0 || age >= maxAge {
		return invalid("age", "must be between 1 and %d", maxAge-1)
	}
	return nil
}

func checkGender(g Gender) error {
	if !g.Valid() {
		return invalid("gender", "must be one of male, female, other")
	}
	return nil
}

func checkHeight(h float64) error {
	if !(h > 0) || h > maxHeightM {
		return invalid("height", "must be greater than 0 and at most %.0f meters", maxHeightM)
	}
	return nil
}

func checkWeight(w float64) error {
	if !(w > 0) || w > maxWeightKg {
		return invalid("weight", "must be greater than 0 and at most %.0f kilograms", maxWeightKg)
	}
	return nil
}

func normalizeGender(g Gender) Gender {
	return Gender(strings.ToLower(strings.TrimSpace(string(g))))
}

func validID(id string) bool {
	return idPattern.MatchString(id)
}

// ToFHIR renders the patient as a FHIR R4 Patient resource. BMI and verdict
// travel as extensions since the Patient resource has no slot for them.
func (p *Patient) ToFHIR() map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Patient",
		"id":           p.ID,
		"name":         []map[string]interface{}{{"text": p.Name}},
		"gender":       string(p.Gender),
		"address":      []map[string]interface{}{{"city": p.City}},
		"extension": []map[string]interface{}{
			{"url": "urn:patientregistry:age", "valueInteger": p.Age},
			{"url": "urn:patientregistry:height-m", "valueDecimal": p.Height},
			{"url": "urn:patientregistry:weight-kg", "valueDecimal": p.Weight},
			{"url": "urn:patientregistry:bmi", "valueDecimal": p.BMI},
			{"url": "urn:patientregistry:bmi-verdict", "valueCode": string(p.Verdict)},
		},
	}
}
