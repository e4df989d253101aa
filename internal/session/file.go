package session

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// recordSuffix names the record file kept beside an engine file.
const recordSuffix = ".session.json"

// Record is the on-disk summary of a session, enough for a later process to
// continue from where this one stopped, such as sampling after a simulate.
type Record struct {
	State         State     `json:"state"`
	LastCommand   string    `json:"last_command,omitempty"`
	SimulateCount int       `json:"simulate_count,omitempty"`
	Options       Options   `json:"options"`
	RunID         string    `json:"run_id,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RecordPath returns where the record for the engine file at path lives.
func RecordPath(path string) string { return path + recordSuffix }

// SaveRecord writes rec beside the engine file at path.
func SaveRecord(path string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}

	target := RecordPath(path)

	// Write atomically via temp file + rename.
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing session record temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming session record: %w", err)
	}
	return nil
}

// LoadRecord reads the record beside the engine file at path. A missing
// record is an unbound session.
func LoadRecord(path string) (Record, error) {
	data, err := os.ReadFile(RecordPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{State: Unbound}, nil
		}
		return Record{}, fmt.Errorf("reading session record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshaling session record: %w", err)
	}
	return rec, nil
}

// RemoveRecord removes the record. It is not an error if there is none.
func RemoveRecord(path string) error {
	if err := os.Remove(RecordPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing session record: %w", err)
	}
	return nil
}
