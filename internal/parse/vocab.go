package parse

// UnknownValue is assigned when a row carries no recognizable insurance or
// disposition token.
const UnknownValue = "Unknown"

// insuranceList holds the recognized insurance carriers. Order matters:
// the first list entry found as a substring of the row remainder wins.
var insuranceList = []string{
	"BCBS", "Aetna Health", "Self Pay", "Humana Health", "Medicare", "Medicaid", "United Healthcare",
	"Cigna", "Anthem", "Tricare", "Blue Shield", "Kaiser Permanente", "No Insurance",
}

// dispositionList holds the recognized discharge dispositions, matched the
// same way as insuranceList.
var dispositionList = []string{
	"Home", "HHS", "SNF", "Home with Follow-up", "Home Health Care (HHC)", "Rehabilitation Facility (Rehab)",
	"Hospice", "Acute Care Hospital", "Observation", "ICU", "ICU Stepdown", "Psychiatric Facility",
	"Transfer to Another Hospital", "Emergency Department (ED)", "No Follow-Up Needed", "AMA (Against Medical Advice)",
}

// Insurances returns a copy of the recognized insurance carriers in match order.
func Insurances() []string {
	out := make([]string, len(insuranceList))
	copy(out, insuranceList)
	return out
}

// Dispositions returns a copy of the recognized dispositions in match order.
func Dispositions() []string {
	out := make([]string, len(dispositionList))
	copy(out, dispositionList)
	return out
}
