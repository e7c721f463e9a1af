package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"
)

const lastUpdatedFile = "last_updated.json"

// LastUpdated tracks when each cached data source (CVE records, kernel
// source) was last refreshed.
type LastUpdated map[string]time.Time

func lastUpdatedFilePath() string {
	return filepath.Join(CacheDir(), lastUpdatedFile)
}

// GetLastUpdatedDate returns the recorded refresh time of source, or the
// Unix epoch when it was never refreshed.
func GetLastUpdatedDate(source string) (time.Time, error) {
	lastUpdated, err := getLastUpdatedDate()
	if err != nil {
		return time.Time{}, err
	}

	t, ok := lastUpdated[source]
	if !ok {
		return time.Unix(0, 0), nil
	}

	return t, nil
}

func getLastUpdatedDate() (LastUpdated, error) {
	lastUpdated := LastUpdated{}
	path := lastUpdatedFilePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return lastUpdated, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err = json.NewDecoder(f).Decode(&lastUpdated); err != nil {
		return nil, err
	}

	return lastUpdated, nil
}

// SetLastUpdatedDate records the refresh time of source.
func SetLastUpdatedDate(source string, lastUpdatedDate time.Time) error {
	lastUpdated, err := getLastUpdatedDate()
	if err != nil {
		return xerrors.Errorf("failed to get last updated date: %w", err)
	}
	lastUpdated[source] = lastUpdatedDate

	b, err := json.MarshalIndent(lastUpdated, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(CacheDir(), 0700); err != nil {
		return err
	}
	if err = os.WriteFile(lastUpdatedFilePath(), b, 0600); err != nil {
		return xerrors.Errorf("failed to write last updated date: %w", err)
	}

	return nil
}
