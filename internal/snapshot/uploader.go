package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kingrea/arena/internal/tournament"
)

const counterFile = "tournament_slot_counter"

var (
	ErrNoSlots         = errors.New("no more tournament slots")
	ErrNoTournamentURL = errors.New("no tournament upload URLs")
	ErrNotValid        = errors.New("credentials are not valid")
)

// Request describes one snapshot upload.
type Request struct {
	Validation Result
	// Identifier is a run id, or "init" / "final" for stage submissions.
	Identifier  string
	ResultsPath string
}

// Receipt records what was sent.
type Receipt struct {
	Identifier   string
	Slot         int
	TarballBytes int64
	CodeHash     string
}

// Metadata is the JSON document uploaded next to the tarball.
type Metadata struct {
	UserID        string          `json:"user_id"`
	Identifier    string          `json:"identifier"`
	Type          string          `json:"type"`
	Timestamp     string          `json:"timestamp"`
	TimestampUnix int64           `json:"timestamp_unix"`
	SourceDir     string          `json:"source_dir"`
	CodeHash      string          `json:"code_hash"`
	Results       json.RawMessage `json:"results"`
}

// HTTPError is a non-2xx answer from an upload URL.
type HTTPError struct {
	Target     string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s upload failed: HTTP %d", e.Target, e.StatusCode)
}

// Guidance turns common upload failures into advice for the user.
func Guidance(err error) string {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusForbidden:
			return "This error likely means your upload URLs have EXPIRED. URLs are valid for 7 days from when they were generated. Contact study coordinators for new credentials."
		case http.StatusBadRequest:
			return "Bad request - check your config file has valid URLs."
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "Upload timed out - please check your internet connection."
	}
	return ""
}

// Logger records upload progress.
type Logger interface {
	Printf(format string, args ...any)
}

// Uploader sends snapshots to pre-signed URLs.
type Uploader struct {
	SourceDir string
	// StateDir holds the tournament slot counter.
	StateDir string
	Client   *http.Client
	// Timeout bounds the whole upload. Zero means no bound.
	Timeout time.Duration
	// MaxAttempts bounds retries of transient failures per PUT.
	MaxAttempts int
	Clock       func() time.Time
	Logger      Logger

	mu sync.Mutex
}

// Upload packs the source directory and PUTs it with its metadata. It
// refuses anything but a valid Result.
func (u *Uploader) Upload(ctx context.Context, req Request) (Receipt, error) {
	if !req.Validation.ShouldUpload() {
		return Receipt{}, ErrNotValid
	}
	if u.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}
	now := u.now()
	creds := req.Validation.Credentials
	userID := req.Validation.UserID

	tarballURL, metadataURL, slot, err := u.destination(*creds, req.Identifier)
	if err != nil {
		return Receipt{}, fmt.Errorf("snapshot: %w", err)
	}

	stem := fmt.Sprintf("%s_%s_%d", userID, req.Identifier, now.Unix())
	tarball, size, err := u.packTarball(stem)
	if err != nil {
		return Receipt{}, err
	}
	defer os.Remove(tarball)

	hash, err := CodeHash(u.SourceDir)
	if err != nil {
		return Receipt{}, err
	}
	meta := Metadata{
		UserID:        userID,
		Identifier:    req.Identifier,
		Type:          snapshotType(req.Identifier),
		Timestamp:     now.Format("2006-01-02T15:04:05.000000"),
		TimestampUnix: now.Unix(),
		SourceDir:     u.SourceDir,
		CodeHash:      hash,
		Results:       readResults(req.ResultsPath),
	}
	metaBody, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Receipt{}, fmt.Errorf("snapshot: encode metadata: %w", err)
	}

	u.logf("uploading code (%.1f KB)", float64(size)/1024)
	open := func() (io.ReadCloser, error) { return os.Open(tarball) }
	if err := u.put(ctx, "code", tarballURL, "application/gzip", size, open); err != nil {
		return Receipt{}, err
	}
	u.logf("code uploaded")
	openMeta := func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(string(metaBody))), nil
	}
	if err := u.put(ctx, "metadata", metadataURL, "application/json", int64(len(metaBody)), openMeta); err != nil {
		return Receipt{}, err
	}
	u.logf("metadata uploaded")
	return Receipt{Identifier: req.Identifier, Slot: slot, TarballBytes: size, CodeHash: hash}, nil
}

// destination picks the URLs for identifier. Tournament ids consume the next
// slot; the counter advances before the upload so a half-used URL is never
// handed out twice.
func (u *Uploader) destination(creds Credentials, identifier string) (string, string, int, error) {
	if !tournament.IsTournamentID(identifier) {
		tarballURL, metadataURL, ok := creds.StageURLs(identifier)
		if !ok {
			return "", "", 0, fmt.Errorf("unknown snapshot stage %q", identifier)
		}
		return tarballURL, metadataURL, -1, nil
	}
	if len(creds.TournamentURLs) == 0 {
		return "", "", 0, ErrNoTournamentURL
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	next, err := u.readCounter()
	if err != nil {
		return "", "", 0, err
	}
	if next >= len(creds.TournamentURLs) {
		return "", "", 0, ErrNoSlots
	}
	slot := creds.TournamentURLs[next]
	if err := u.writeCounter(next + 1); err != nil {
		return "", "", 0, err
	}
	u.logf("using tournament slot %d; next run uses slot %d", slot.Slot, next+1)
	return slot.TarballURL, slot.MetadataURL, slot.Slot, nil
}

// NextSlot reports the counter value the next tournament upload will use.
func (u *Uploader) NextSlot() (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.readCounter()
}

func (u *Uploader) counterPath() string {
	return filepath.Join(u.StateDir, counterFile)
}

func (u *Uploader) readCounter() (int, error) {
	data, err := os.ReadFile(u.counterPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read slot counter: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0, nil
	}
	return n, nil
}

func (u *Uploader) writeCounter(n int) error {
	if err := os.MkdirAll(u.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return os.WriteFile(u.counterPath(), []byte(strconv.Itoa(n)), 0o644)
}

func (u *Uploader) packTarball(stem string) (string, int64, error) {
	f, err := os.CreateTemp("", stem+"-*.tar.gz")
	if err != nil {
		return "", 0, fmt.Errorf("snapshot: create tarball: %w", err)
	}
	name := f.Name()
	if err := WriteArchive(f, u.SourceDir); err != nil {
		f.Close()
		os.Remove(name)
		return "", 0, err
	}
	info, err := f.Stat()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return "", 0, fmt.Errorf("snapshot: finish tarball: %w", err)
	}
	return name, info.Size(), nil
}

func (u *Uploader) put(ctx context.Context, target, url, contentType string, size int64, open func() (io.ReadCloser, error)) error {
	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}
	attempts := u.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1)), ctx)
	err := backoff.Retry(func() error {
		body, err := open()
		if err != nil {
			return backoff.Permanent(err)
		}
		defer body.Close()
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.ContentLength = size
		req.Header.Set("Content-Type", contentType)
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		httpErr := &HTTPError{Target: target, StatusCode: resp.StatusCode}
		if resp.StatusCode >= 500 {
			return httpErr
		}
		return backoff.Permanent(httpErr)
	}, policy)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

func (u *Uploader) now() time.Time {
	if u.Clock != nil {
		return u.Clock()
	}
	return time.Now()
}

func (u *Uploader) logf(format string, args ...any) {
	if u.Logger != nil {
		u.Logger.Printf(format, args...)
	}
}

func snapshotType(identifier string) string {
	if tournament.IsTournamentID(identifier) {
		return "tournament"
	}
	return "submission"
}

func readResults(path string) json.RawMessage {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil || !json.Valid(data) {
		return nil
	}
	return data
}
