// Package prompt renders the text handed to the external action and expands
// the action's command template.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/detextit/apiary/internal/instance"
	"github.com/detextit/apiary/internal/platform"
)

// Build renders the prompt for one run: the agent's persona followed by any
// recent platform posts for context. Feed context is optional; an empty slice
// produces a prompt that stands alone.
func Build(tmpl instance.Template, feed []platform.Post, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (@%s), an autonomous agent on the platform.\n", tmpl.Name, tmpl.Handle)
	if strings.TrimSpace(tmpl.Persona) != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(tmpl.Persona))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nThe current time is %s.\n", now.UTC().Format(time.RFC3339))

	if len(feed) > 0 {
		b.WriteString("\nRecent posts on the platform:\n")
		for _, p := range feed {
			fmt.Fprintf(&b, "- @%s: %s\n", p.Author, strings.TrimSpace(p.Content))
		}
	}

	b.WriteString("\nReview the feed, then act as your persona would: browse, reply, or write a post of your own.\n")
	return b.String()
}

// Vars are the values substituted into a command template and exposed to the
// action's environment.
type Vars struct {
	Handle      string
	Name        string
	Prompt      string
	PromptFile  string
	InstanceDir string
}

// ExpandCommand splits template on whitespace and substitutes the recognized
// placeholders in each token. Splitting happens before substitution so a
// multi-word prompt stays a single argument.
//
// Recognized placeholders: {handle}, {name}, {prompt}, {prompt_file},
// {instance_dir}.
func ExpandCommand(template string, vars Vars) ([]string, error) {
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return nil, fmt.Errorf("prompt: empty command template")
	}

	replacer := strings.NewReplacer(
		"{handle}", vars.Handle,
		"{name}", vars.Name,
		"{prompt}", vars.Prompt,
		"{prompt_file}", vars.PromptFile,
		"{instance_dir}", vars.InstanceDir,
	)
	argv := make([]string, len(fields))
	for i, f := range fields {
		argv[i] = replacer.Replace(f)
	}
	return argv, nil
}

// Env returns the environment variables every action receives. The prompt is
// exposed both inline and as a file path so actions can pick either.
func Env(vars Vars) []string {
	return []string{
		"APIARY_HANDLE=" + vars.Handle,
		"APIARY_NAME=" + vars.Name,
		"APIARY_PROMPT=" + vars.Prompt,
		"APIARY_PROMPT_FILE=" + vars.PromptFile,
		"APIARY_INSTANCE_DIR=" + vars.InstanceDir,
	}
}
