package matcher

import "shift-allocation/internal/domain"

type CertificationCheck struct {
	Satisfied bool `json:"satisfied"`
	// MissingPosition is set when the worker does not hold the position at all;
	// certifications are not checked in that case.
	MissingPosition       bool     `json:"missing_position,omitempty"`
	MissingCertifications []string `json:"missing_certifications,omitempty"`
}

// CheckCertification verifies the position first, then every certification
// the position requires, each of which must stay valid until the shift ends.
func CheckCertification(worker domain.WorkerProfile, shift domain.Shift, required map[string][]string) CertificationCheck {
	if !worker.QualifiedFor(shift) {
		return CertificationCheck{MissingPosition: true}
	}
	var missing []string
	for _, certType := range required[shift.Position] {
		if !holds(worker, certType, shift) {
			missing = append(missing, certType)
		}
	}
	return CertificationCheck{Satisfied: len(missing) == 0, MissingCertifications: missing}
}

func holds(worker domain.WorkerProfile, certType string, shift domain.Shift) bool {
	for _, c := range worker.Certifications {
		if c.Type == certType && c.ValidThrough(shift.EndTime) {
			return true
		}
	}
	return false
}
