package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/arena/internal/command"
)

func validCredentials() Credentials {
	return Credentials{
		Enabled:          true,
		UserID:           "player_one",
		InitTarballURL:   "https://bucket.example/init.tar.gz?sig=1",
		InitMetadataURL:  "https://bucket.example/init.json?sig=1",
		FinalTarballURL:  "https://bucket.example/final.tar.gz?sig=1",
		FinalMetadataURL: "https://bucket.example/final.json?sig=1",
		TournamentURLs: []Slot{
			{Slot: 0, TarballURL: "https://bucket.example/t0.tar.gz", MetadataURL: "https://bucket.example/t0.json"},
		},
	}
}

func writeCredentials(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "snapshot_config.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func noUser(string) string { return "" }

func TestFileValidatorStates(t *testing.T) {
	disabled := validCredentials()
	disabled.Enabled = false

	badUser := validCredentials()
	badUser.UserID = "player one!"

	placeholder := validCredentials()
	placeholder.FinalTarballURL = "PASTE_YOUR_FINAL_TARBALL_URL"

	missingURL := validCredentials()
	missingURL.InitMetadataURL = ""

	cases := []struct {
		name   string
		path   func(t *testing.T) string
		status Status
		detail string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.json") }, StatusNoConfig, "no snapshot config"},
		{"malformed", func(t *testing.T) string {
			p := filepath.Join(t.TempDir(), "c.json")
			require.NoError(t, os.WriteFile(p, []byte("{nope"), 0o644))
			return p
		}, StatusInvalid, "parse credentials"},
		{"disabled", func(t *testing.T) string { return writeCredentials(t, disabled) }, StatusDisabled, "disabled"},
		{"bad user", func(t *testing.T) string { return writeCredentials(t, badUser) }, StatusInvalid, "invalid characters"},
		{"placeholder", func(t *testing.T) string { return writeCredentials(t, placeholder) }, StatusInvalid, "placeholder"},
		{"missing url", func(t *testing.T) string { return writeCredentials(t, missingURL) }, StatusInvalid, "init_metadata_url"},
		{"valid", func(t *testing.T) string { return writeCredentials(t, validCredentials()) }, StatusValid, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := FileValidator{Getenv: noUser}.Validate(context.Background(), tc.path(t))
			assert.Equal(t, tc.status, res.Status)
			assert.Contains(t, res.Diagnostic, tc.detail)
			assert.Equal(t, tc.status == StatusValid, res.ShouldUpload())
		})
	}
}

func TestFileValidatorFallsBackToUserEnv(t *testing.T) {
	creds := validCredentials()
	creds.UserID = "null"
	path := writeCredentials(t, creds)
	getenv := func(key string) string {
		if key == "USER" {
			return "shell_user"
		}
		return ""
	}
	res := FileValidator{Getenv: getenv}.Validate(context.Background(), path)
	require.Equal(t, StatusValid, res.Status)
	assert.Equal(t, "shell_user", res.UserID)

	res = FileValidator{Getenv: noUser}.Validate(context.Background(), path)
	assert.Equal(t, StatusInvalid, res.Status)
	assert.Contains(t, res.Diagnostic, "user_id is empty")
}

func TestParseStatus(t *testing.T) {
	for token, want := range map[string]Status{
		"VALID":      StatusValid,
		"'DISABLED'": StatusDisabled,
		"invalid":    StatusInvalid,
		"NO_CONFIG":  StatusNoConfig,
	} {
		got, ok := ParseStatus(token)
		assert.True(t, ok, token)
		assert.Equal(t, want, got, token)
	}
	got, ok := ParseStatus("MAYBE")
	assert.False(t, ok)
	assert.Equal(t, StatusInvalid, got)
}

type scriptedRunner struct {
	res  command.Result
	err  error
	spec command.Spec
}

func (s *scriptedRunner) Run(_ context.Context, spec command.Spec) (command.Result, error) {
	s.spec = spec
	return s.res, s.err
}

func TestCommandValidator(t *testing.T) {
	path := writeCredentials(t, validCredentials())

	t.Run("valid", func(t *testing.T) {
		r := &scriptedRunner{res: command.Result{Stdout: "USER_ID='player_one'\nVALIDATION_STATUS='VALID'\n"}}
		res := CommandValidator{Argv: []string{"python3", "-m", "eval.config"}, Runner: r}.Validate(context.Background(), path)
		require.Equal(t, StatusValid, res.Status)
		assert.Equal(t, "player_one", res.UserID)
		assert.NotNil(t, res.Credentials)
		assert.Equal(t, "python3 -m eval.config "+path+" --type snapshot", r.spec.String())
	})

	t.Run("non-zero exit keeps output verbatim", func(t *testing.T) {
		r := &scriptedRunner{err: &command.ExitError{Command: "python3", Code: 1, Output: "ERROR: user_id is empty"}}
		res := CommandValidator{Argv: []string{"python3"}, Runner: r}.Validate(context.Background(), path)
		assert.Equal(t, StatusInvalid, res.Status)
		assert.Equal(t, "ERROR: user_id is empty", res.Diagnostic)
	})

	t.Run("disabled", func(t *testing.T) {
		r := &scriptedRunner{res: command.Result{Stdout: "VALIDATION_STATUS='DISABLED'\n"}}
		res := CommandValidator{Argv: []string{"python3"}, Runner: r}.Validate(context.Background(), path)
		assert.Equal(t, StatusDisabled, res.Status)
	})

	t.Run("unknown token", func(t *testing.T) {
		r := &scriptedRunner{res: command.Result{Stdout: "VALIDATION_STATUS='PENDING'\n"}}
		res := CommandValidator{Argv: []string{"python3"}, Runner: r}.Validate(context.Background(), path)
		assert.Equal(t, StatusInvalid, res.Status)
		assert.True(t, strings.Contains(res.Diagnostic, "PENDING"))
	})

	t.Run("missing file never runs the validator", func(t *testing.T) {
		r := &scriptedRunner{}
		res := CommandValidator{Argv: []string{"python3"}, Runner: r}.Validate(context.Background(), filepath.Join(t.TempDir(), "x.json"))
		assert.Equal(t, StatusNoConfig, res.Status)
		assert.Empty(t, r.spec.Name)
	})
}
