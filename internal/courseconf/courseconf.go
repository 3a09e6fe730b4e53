// Package courseconf loads the per-course configuration file: the course
// root, the global upload window, and the assignment / machine / tester
// tables that map a submission to build scripts and a remote tester host.
package courseconf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/vmcheck/courier/internal/subdesc"
)

// Duration is a time.Duration that unmarshals from TOML strings like "1h30m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Assignment is one homework unit. MinInterval is the minimum wait between
// two submissions of the same user; Tests points at the assignment's test
// archive, relative to the course root.
type Assignment struct {
	Machine     string   `toml:"machine"`
	MinInterval Duration `toml:"min_interval"`
	Tests       string   `toml:"tests"`
}

// Machine is an execution profile: the build/run scripts shipped in every
// bundle and the tester the bundle is dispatched to.
type Machine struct {
	BuildScript string `toml:"build_script"`
	RunScript   string `toml:"run_script"`
	Tester      string `toml:"tester"`
}

// Tester is a remote worker host with a watched queue directory.
type Tester struct {
	Username string `toml:"username"`
	Hostname string `toml:"hostname"`
	Port     int    `toml:"port"`
	QueueDir string `toml:"queue_dir"`

	// Optional path to a public key file pinning the tester's host key.
	// Empty means the host identity is not verified; the deployment
	// assumes a trusted network between storer and testers.
	PinnedHostKey string `toml:"pinned_host_key"`
}

type UploadWindow struct {
	ActiveStart string `toml:"active_start"`
	ActiveStop  string `toml:"active_stop"`
}

type Storer struct {
	Username string `toml:"username"`
	Hostname string `toml:"hostname"`
	SSHKey   string `toml:"ssh_key"`
}

type Config struct {
	CourseID string       `toml:"course_id"`
	Root     string       `toml:"root"`
	Window   UploadWindow `toml:"upload_window"`
	Storer   Storer       `toml:"storer"`

	Assignments map[string]Assignment `toml:"assignments"`
	Machines    map[string]Machine    `toml:"machines"`
	Testers     map[string]Tester     `toml:"testers"`

	// Path the config was loaded from; shipped as course-config in bundles.
	path string
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read course config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse course config %s: %w", path, err)
	}
	if cfg.CourseID == "" {
		return nil, fmt.Errorf("course config %s is missing course_id", path)
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("course config %s is missing root", path)
	}
	cfg.path = path
	return &cfg, nil
}

func (c *Config) Path() string { return c.path }

// Abspath resolves a config-relative path against the course root.
func (c *Config) Abspath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

func (c *Config) Assignment(name string) (Assignment, error) {
	a, ok := c.Assignments[name]
	if !ok {
		return Assignment{}, fmt.Errorf("unknown assignment: %s", name)
	}
	return a, nil
}

// MachineFor resolves an assignment's execution profile.
func (c *Config) MachineFor(assignment string) (Machine, error) {
	a, err := c.Assignment(assignment)
	if err != nil {
		return Machine{}, err
	}
	m, ok := c.Machines[a.Machine]
	if !ok {
		return Machine{}, fmt.Errorf("assignment %s references unknown machine: %s", assignment, a.Machine)
	}
	return m, nil
}

// TesterFor resolves the remote tester an assignment's bundles go to.
func (c *Config) TesterFor(assignment string) (Tester, error) {
	m, err := c.MachineFor(assignment)
	if err != nil {
		return Tester{}, err
	}
	t, ok := c.Testers[m.Tester]
	if !ok {
		return Tester{}, fmt.Errorf("unknown tester: %s", m.Tester)
	}
	if t.Port == 0 {
		t.Port = 22
	}
	return t, nil
}

// ActiveInterval parses the course upload window. Both bounds are inclusive.
func (c *Config) ActiveInterval() (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(subdesc.UploadTimeLayout, c.Window.ActiveStart, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to parse active_start: %w", err)
	}
	stop, err := time.ParseInLocation(subdesc.UploadTimeLayout, c.Window.ActiveStop, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to parse active_stop: %w", err)
	}
	return start, stop, nil
}
