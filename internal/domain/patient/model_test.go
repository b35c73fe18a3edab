package patient

import (
	"encoding/json"
	"errors"
	"testing"
)

func ptrStr(s string) *string     { return &s }
func ptrInt(i int) *int           { return &i }
func ptrFloat(f float64) *float64 { return &f }
func ptrGender(g Gender) *Gender  { return &g }

func validInput() Input {
	return Input{Name: "Ana", City: "Pune", Age: 30, Gender: GenderFemale, Height: 1.75, Weight: 70}
}

func TestNewRecord_DerivesFields(t *testing.T) {
	r, err := NewRecord(validInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.BMI != 22.86 {
		t.Errorf("bmi = %v, want 22.86", r.BMI)
	}
	if r.Verdict != VerdictNormal {
		t.Errorf("verdict = %s, want normal", r.Verdict)
	}
}

func TestNewRecord_NormalizesInput(t *testing.T) {
	in := validInput()
	in.Name = "  Ana  "
	in.Gender = " Female "

	r, err := NewRecord(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Name != "Ana" {
		t.Errorf("name = %q, want Ana", r.Name)
	}
	if r.Gender != GenderFemale {
		t.Errorf("gender = %q, want female", r.Gender)
	}
}

func TestNewRecord_Validation(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Input)
		field string
	}{
		{"missing name", func(in *Input) { in.Name = " " }, "name"},
		{"missing city", func(in *Input) { in.City = "" }, "city"},
		{"zero age", func(in *Input) { in.Age = 0 }, "age"},
		{"age too high", func(in *Input) { in.Age = 120 }, "age"},
		{"bad gender", func(in *Input) { in.Gender = "unknown" }, "gender"},
		{"zero height", func(in *Input) { in.Height = 0 }, "height"},
		{"height too high", func(in *Input) { in.Height = 3.5 }, "height"},
		{"negative weight", func(in *Input) { in.Weight = -1 }, "weight"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mut(&in)
			_, err := NewRecord(in)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("expected field %s, got %v", tt.field, err)
			}
		})
	}
}

func TestRecord_Apply_CityKeepsDerived(t *testing.T) {
	r, _ := NewRecord(validInput())
	r.BMI = 99 // stale value must survive an update that leaves height and weight alone

	got, err := r.Apply(Update{City: ptrStr("Delhi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.City != "Delhi" {
		t.Errorf("city = %s, want Delhi", got.City)
	}
	if got.BMI != 99 || got.Verdict != VerdictNormal {
		t.Errorf("derived fields changed: %v %s", got.BMI, got.Verdict)
	}
}

func TestRecord_Apply_RecomputesOnWeight(t *testing.T) {
	r, _ := NewRecord(validInput())

	got, err := r.Apply(Update{Height: ptrFloat(1.6), Weight: ptrFloat(80)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BMI != 31.25 || got.Verdict != VerdictObese {
		t.Errorf("got %v %s, want 31.25 obese", got.BMI, got.Verdict)
	}
}

func TestRecord_Apply_Invalid(t *testing.T) {
	r, _ := NewRecord(validInput())

	if _, err := r.Apply(Update{Age: ptrInt(-4)}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if _, err := r.Apply(Update{Gender: ptrGender("x")}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestRecord_Apply_ChecksOnlySuppliedFields(t *testing.T) {
	legacy := Record{Name: "Old", City: "Pune", Age: 40, Gender: "unknown", Height: 1.7, Weight: 65, BMI: 22.49, Verdict: VerdictNormal}

	got, err := legacy.Apply(Update{City: ptrStr("Delhi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.City != "Delhi" || got.Gender != "unknown" {
		t.Errorf("unexpected record %+v", got)
	}

	if _, err := legacy.Apply(Update{Gender: ptrGender("unknown")}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for a supplied bad gender, got %v", err)
	}
}

func TestRecord_Apply_WeightChecksStoredHeight(t *testing.T) {
	r := Record{Name: "Old", City: "Pune", Age: 40, Gender: GenderMale, Height: 0, Weight: 65}

	if _, err := r.Apply(Update{Weight: ptrFloat(70)}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation when BMI inputs are invalid, got %v", err)
	}
}

func TestUpdate_Empty(t *testing.T) {
	if !(Update{}).Empty() {
		t.Error("expected zero Update to be empty")
	}
	if (Update{Name: ptrStr("x")}).Empty() {
		t.Error("expected Update with name to be non-empty")
	}
}

func TestInput_IgnoresDerivedFields(t *testing.T) {
	body := `{"name":"Ana","city":"Pune","age":30,"gender":"female","height":1.75,"weight":70,"bmi":1,"verdict":"obese"}`
	var in Input
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	r, err := NewRecord(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.BMI != 22.86 || r.Verdict != VerdictNormal {
		t.Errorf("caller-supplied derived fields leaked: %v %s", r.BMI, r.Verdict)
	}
}

func TestPatient_JSONFlattensRecord(t *testing.T) {
	r, _ := NewRecord(validInput())
	data, err := json.Marshal(&Patient{ID: "P001", Record: r})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]interface{}
	json.Unmarshal(data, &m)
	if m["id"] != "P001" || m["name"] != "Ana" || m["verdict"] != "normal" {
		t.Errorf("unexpected JSON: %s", data)
	}
}

func TestPatient_ToFHIR(t *testing.T) {
	r, _ := NewRecord(validInput())
	p := &Patient{ID: "P001", Record: r}

	res := p.ToFHIR()
	if res["resourceType"] != "Patient" {
		t.Errorf("resourceType = %v, want Patient", res["resourceType"])
	}
	if res["id"] != "P001" {
		t.Errorf("id = %v, want P001", res["id"])
	}
	if res["gender"] != "female" {
		t.Errorf("gender = %v, want female", res["gender"])
	}
	ext := res["extension"].([]map[string]interface{})
	var verdict interface{}
	for _, e := range ext {
		if e["url"] == "urn:patientregistry:bmi-verdict" {
			verdict = e["valueCode"]
		}
	}
	if verdict != "normal" {
		t.Errorf("verdict extension = %v, want normal", verdict)
	}
}
