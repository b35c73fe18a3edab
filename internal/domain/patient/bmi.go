package patient

import "math"

// Verdict is the health category derived from a BMI value.
type Verdict string

const (
	VerdictUnderweight Verdict = "underweight"
	VerdictNormal      Verdict = "normal"
	VerdictOverweight  Verdict = "overweight"
	VerdictObese       Verdict = "obese"
)

// BMI thresholds (WHO adult table).
const (
	bmiNormalFrom     = 18.5
	bmiOverweightFrom = 25.0
	bmiObeseFrom      = 30.0
)

// Compute returns the BMI for the given height in meters and weight in
// kilograms, rounded to two decimals, and the verdict for that rounded value.
func Compute(heightM, weightKg float64) (float64, Verdict, error) {
	if !(heightM > 0) {
		return 0, "", invalid("height", "must be greater than 0")
	}
	if !(weightKg > 0) {
		return 0, "", invalid("weight", "must be greater than 0")
	}
	bmi := round2(weightKg / (heightM * heightM))
	return bmi, Classify(bmi), nil
}

// Classify maps a BMI value to its verdict.
func Classify(bmi float64) Verdict {
	switch {
	case bmi < bmiNormalFrom:
		return VerdictUnderweight
	case bmi < bmiOverweightFrom:
		return VerdictNormal
	case bmi < bmiObeseFrom:
		return VerdictOverweight
	default:
		return VerdictObese
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
