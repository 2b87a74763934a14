package store

import "path/filepath"

// Paths resolves the on-disk layout under the data root. Both backends use it
// for workspaces and activity logs; the file backend also keeps its records
// here.
type Paths struct {
	Root string
}

// InstanceDir returns the directory owned by one handle.
func (p Paths) InstanceDir(handle string) string {
	return filepath.Join(p.Root, "instances", handle)
}

// WorkspaceDir returns the working directory actions run in.
func (p Paths) WorkspaceDir(handle string) string {
	return filepath.Join(p.InstanceDir(handle), "workspace")
}

// IdentityFile returns the identity snapshot path (file backend).
func (p Paths) IdentityFile(handle string) string {
	return filepath.Join(p.InstanceDir(handle), "identity.json")
}

// StateFile returns the mutable state record path (file backend).
func (p Paths) StateFile(handle string) string {
	return filepath.Join(p.InstanceDir(handle), "state.json")
}

// ActivityLog returns the per-instance append-only log path.
func (p Paths) ActivityLog(handle string) string {
	return filepath.Join(p.InstanceDir(handle), "activity.jsonl")
}

// LockFile returns the invocation lock path.
func (p Paths) LockFile() string {
	return filepath.Join(p.Root, "apiary.lock")
}
