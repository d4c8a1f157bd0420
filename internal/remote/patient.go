package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	appLog "medremind/internal/log"
	"medremind/internal/model"
)

// PatientSchedule is the read-only view of a linked patient.
type PatientSchedule struct {
	PatientID   int64               `json:"patient_id"`
	Medications []model.Medication  `json:"medications"`
	Intakes     []model.IntakeEvent `json:"intakes"`
	// FromCache is true when the body was served from disk because the
	// server answered 304 or could not be reached.
	FromCache bool `json:"from_cache"`
}

// cacheEntry holds HTTP cache metadata for one patient.
type cacheEntry struct {
	Path         string    `json:"path"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PatientSchedule fetches a linked patient's medications and intake
// history. Responses are cached on disk and revalidated with ETag /
// Last-Modified; on network errors or non-OK answers the cached copy is
// served instead.
func (c *Client) PatientSchedule(ctx context.Context, patientID int64) (PatientSchedule, error) {
	path := "/patients/" + strconv.FormatInt(patientID, 10) + "/schedule"

	body, fromCache, err := c.fetchCached(ctx, path)
	if err != nil {
		return PatientSchedule{}, err
	}

	var out PatientSchedule
	if err := json.Unmarshal(body, &out); err != nil {
		return PatientSchedule{}, fmt.Errorf("decoding schedule of patient %d: %w", patientID, err)
	}
	out.PatientID = patientID
	out.FromCache = fromCache
	return out, nil
}

func (c *Client) fetchCached(ctx context.Context, path string) ([]byte, bool, error) {
	cachePath := c.cachePathFor(path)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return nil, false, err
	}

	meta, _ := loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.json"))

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, false, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Warn("patient fetch network error, using cached body", err, "path", path)
			return cachedBody, true, nil
		}
		return nil, false, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, err
		}
		newMeta := cacheEntry{
			Path:         path,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(cachePath, newMeta, body); err != nil {
			appLog.Warn("patient cache save failed", err, "path", path)
		}
		return body, false, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return nil, false, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("patient schedule not modified; using cache", "path", path)
		return cachedBody, true, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Warn("patient fetch non-OK, using cached body", errors.New(resp.Status), "path", path, "status", resp.StatusCode)
			return cachedBody, true, nil
		}
		return nil, false, &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode}
	}
}

func (c *Client) cachePathFor(path string) string {
	sum := sha256.Sum256([]byte(c.base + path))
	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.json"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
