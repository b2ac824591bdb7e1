package snapshot

import "strings"

// Status is the terminal outcome of credentials validation.
type Status int

const (
	// StatusNoConfig means no credentials file exists. Nothing is uploaded.
	StatusNoConfig Status = iota
	// StatusInvalid means the file exists but cannot be used.
	StatusInvalid
	// StatusDisabled means the file sets enabled=false.
	StatusDisabled
	// StatusValid is the only status that permits an upload.
	StatusValid
)

func (s Status) String() string {
	switch s {
	case StatusNoConfig:
		return "no-config"
	case StatusInvalid:
		return "invalid"
	case StatusDisabled:
		return "disabled"
	case StatusValid:
		return "valid"
	default:
		return "unknown"
	}
}

// ParseStatus maps an external validator's status token onto Status.
// Unknown tokens report false and map to StatusInvalid.
func ParseStatus(token string) (Status, bool) {
	token = strings.Trim(strings.TrimSpace(token), `'"`)
	switch strings.ToUpper(token) {
	case "VALID":
		return StatusValid, true
	case "DISABLED":
		return StatusDisabled, true
	case "INVALID":
		return StatusInvalid, true
	case "NO_CONFIG", "NOCONFIG", "ABSENT":
		return StatusNoConfig, true
	default:
		return StatusInvalid, false
	}
}

// Result is the validator's verdict for one run.
type Result struct {
	Status Status
	Path   string
	// UserID is set only when Status is StatusValid.
	UserID string
	// Diagnostic explains non-valid outcomes.
	Diagnostic  string
	Errors      []error
	Credentials *Credentials
}

// ShouldUpload reports whether the result permits an upload.
func (r Result) ShouldUpload() bool {
	return r.Status == StatusValid && r.Credentials != nil && r.UserID != ""
}
