// Package identity materializes an instance's durable identity artifacts on
// disk: its directory, workspace, and profile document. Provisioning is
// idempotent create-if-absent; existing artifacts are never overwritten.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/detextit/apiary/internal/instance"
	"github.com/detextit/apiary/internal/store"
)

// Provisioner writes identity artifacts under the data root.
type Provisioner struct {
	Paths store.Paths
}

// Ensure creates the instance's directories and profile document if absent
// and returns the instance directory.
func (p Provisioner) Ensure(tmpl instance.Template) (string, error) {
	dir := p.Paths.InstanceDir(tmpl.Handle)
	if err := os.MkdirAll(p.Paths.WorkspaceDir(tmpl.Handle), 0o755); err != nil {
		return "", fmt.Errorf("identity: create workspace for %s: %w", tmpl.Handle, err)
	}

	profile := p.ProfilePath(tmpl.Handle)
	if _, err := os.Stat(profile); err == nil {
		return dir, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("identity: stat profile for %s: %w", tmpl.Handle, err)
	}

	if err := os.WriteFile(profile, []byte(renderProfile(tmpl)), 0o644); err != nil {
		return "", fmt.Errorf("identity: write profile for %s: %w", tmpl.Handle, err)
	}
	return dir, nil
}

// ProfilePath returns the profile document path for handle.
func (p Provisioner) ProfilePath(handle string) string {
	return filepath.Join(p.Paths.InstanceDir(handle), "profile.md")
}

func renderProfile(tmpl instance.Template) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s (@%s)\n\n", tmpl.Name, tmpl.Handle)
	if strings.TrimSpace(tmpl.Persona) != "" {
		b.WriteString(strings.TrimSpace(tmpl.Persona))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Created: %s\n", time.Now().UTC().Format(time.RFC3339))
	return b.String()
}
