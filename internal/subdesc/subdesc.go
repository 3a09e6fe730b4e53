// Package subdesc models the submission descriptor that travels with every
// backup and bundle. The descriptor identifies who submitted what and when,
// plus the destination the tester should push results back to.
package subdesc

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// UploadTimeLayout is the timestamp format used in descriptors and in
// historical backup names. Second granularity.
const UploadTimeLayout = "2006.01.02 15:04:05"

type Descriptor struct {
	User       string `toml:"user"`
	Assignment string `toml:"assignment"`
	CourseID   string `toml:"course_id"`
	UploadTime string `toml:"upload_time"`

	// Where the tester delivers results, and the identity it uses to
	// reach the storer. Filled in by the storer at submission time.
	ResultsDest    string `toml:"results_dest"`
	RemoteUsername string `toml:"remote_username"`
	RemoteHostname string `toml:"remote_hostname"`
}

func (d Descriptor) UploadedAt() (time.Time, error) {
	t, err := time.ParseInLocation(UploadTimeLayout, d.UploadTime, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse upload time %q: %w", d.UploadTime, err)
	}
	return t, nil
}

func (d Descriptor) Write(path string) error {
	data, err := toml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write descriptor %s: %w", path, err)
	}
	return nil
}

func Read(path string) (Descriptor, error) {
	var d Descriptor
	data, err := os.ReadFile(path)
	if err != nil {
		return d, fmt.Errorf("failed to read descriptor %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("failed to parse descriptor %s: %w", path, err)
	}
	return d, nil
}
