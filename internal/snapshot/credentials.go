package snapshot

import (
	"fmt"
	"regexp"
	"strings"
)

const placeholderText = "PASTE_YOUR"

var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Slot is one pre-signed upload destination for a tournament snapshot.
type Slot struct {
	Slot        int    `json:"slot"`
	TarballURL  string `json:"tarball_url"`
	MetadataURL string `json:"metadata_url"`
}

// Credentials models eval/snapshot_config.json.
type Credentials struct {
	Enabled          bool   `json:"enabled"`
	UserID           string `json:"user_id"`
	InitTarballURL   string `json:"init_tarball_url"`
	InitMetadataURL  string `json:"init_metadata_url"`
	FinalTarballURL  string `json:"final_tarball_url"`
	FinalMetadataURL string `json:"final_metadata_url"`
	TournamentURLs   []Slot `json:"tournament_urls,omitempty"`
}

// StageURLs returns the tarball and metadata URLs for init or final.
func (c Credentials) StageURLs(stage string) (string, string, bool) {
	switch stage {
	case "init":
		return c.InitTarballURL, c.InitMetadataURL, true
	case "final":
		return c.FinalTarballURL, c.FinalMetadataURL, true
	}
	return "", "", false
}

// ResolveUserID applies the $USER fallback for an empty or "null" user id.
func ResolveUserID(raw string, getenv func(string) string) string {
	id := strings.TrimSpace(raw)
	if (id == "" || id == "null") && getenv != nil {
		id = strings.TrimSpace(getenv("USER"))
	}
	return id
}

// ValidateCredentials checks an enabled credentials file. It returns the
// effective user id and every problem found.
func ValidateCredentials(c *Credentials, getenv func(string) string) (string, []error) {
	if c == nil {
		return "", []error{fmt.Errorf("credentials are nil")}
	}
	var errs []error
	userID := ResolveUserID(c.UserID, getenv)
	switch {
	case userID == "":
		errs = append(errs, fmt.Errorf("user_id is empty"))
	case !userIDPattern.MatchString(userID):
		errs = append(errs, fmt.Errorf("user_id '%s' contains invalid characters", userID))
	}

	required := []struct {
		key   string
		value string
	}{
		{"init_tarball_url", c.InitTarballURL},
		{"init_metadata_url", c.InitMetadataURL},
		{"final_tarball_url", c.FinalTarballURL},
		{"final_metadata_url", c.FinalMetadataURL},
	}
	var missing []string
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.key)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required URLs: %s", strings.Join(missing, ", ")))
	}
	for _, field := range required {
		if strings.Contains(field.value, placeholderText) {
			errs = append(errs, fmt.Errorf("%s contains placeholder text. Please paste your actual URL", field.key))
		}
	}
	for i, slot := range c.TournamentURLs {
		if strings.Contains(slot.TarballURL, placeholderText) || strings.Contains(slot.MetadataURL, placeholderText) {
			errs = append(errs, fmt.Errorf("tournament_urls[%d] contains placeholder text", i))
		}
	}
	return userID, errs
}
