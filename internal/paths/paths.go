package paths

import "path/filepath"

// CoursePaths resolves the directory layout under a single course root.
// Everything the pipeline touches on the storer lives below this root:
//
//	<root>/repo/       versioned repository with one subtree per (assignment, user)
//	<root>/backup/     immutable historical backups, one dir per submission
//	<root>/unchecked/  bundles awaiting dispatch to a tester
//	<root>/tmp/        scratch space
type CoursePaths struct {
	root string
}

func NewCoursePaths(root string) CoursePaths {
	return CoursePaths{root: root}
}

func (p CoursePaths) Root() string { return p.root }

func (p CoursePaths) RepoDir() string { return filepath.Join(p.root, "repo") }

func (p CoursePaths) BackupDir() string { return filepath.Join(p.root, "backup") }

func (p CoursePaths) UncheckedDir() string { return filepath.Join(p.root, "unchecked") }

func (p CoursePaths) TmpDir() string { return filepath.Join(p.root, "tmp") }

// SubmissionRoot is the canonical backup location for the latest
// submission of user for assignment, inside the versioned repository.
func (p CoursePaths) SubmissionRoot(assignment, user string) string {
	return filepath.Join(p.RepoDir(), assignment, user)
}

// Names of the three compartments inside one submission backup.
const (
	ExpandedArchiveDir = "archive"
	DescriptorFile     = "submission-config"
	ArchiveFile        = "archive.zip"
)

func ExpandedArchivePath(backupDir string) string {
	return filepath.Join(backupDir, ExpandedArchiveDir)
}

func DescriptorPath(backupDir string) string {
	return filepath.Join(backupDir, DescriptorFile)
}

func ArchivePath(backupDir string) string {
	return filepath.Join(backupDir, ArchiveFile)
}
