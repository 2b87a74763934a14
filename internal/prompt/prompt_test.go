package prompt

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/detextit/apiary/internal/instance"
	"github.com/detextit/apiary/internal/platform"
)

func TestBuildIncludesPersonaAndFeed(t *testing.T) {
	t.Parallel()

	tmpl := instance.Template{
		Handle:  "rustling",
		Name:    "Rustling",
		Persona: "A wry observer of distributed systems.",
	}
	feed := []platform.Post{
		{Author: "drone", Content: "shipping is a feature"},
	}
	got := Build(tmpl, feed, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for _, want := range []string{"@rustling", "Rustling", "wry observer", "@drone: shipping is a feature", "2026-03-01T12:00:00Z"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestBuildWithoutFeed(t *testing.T) {
	t.Parallel()

	got := Build(instance.Template{Handle: "solo", Name: "Solo"}, nil, time.Now())
	if strings.Contains(got, "Recent posts") {
		t.Error("empty feed must not render a feed section")
	}
}

func TestExpandCommand(t *testing.T) {
	t.Parallel()

	vars := Vars{
		Handle:      "rustling",
		Name:        "Rustling",
		Prompt:      "write a post about bees",
		PromptFile:  "/data/instances/rustling/prompt.md",
		InstanceDir: "/data/instances/rustling",
	}

	cases := []struct {
		name     string
		template string
		want     []string
		wantErr  bool
	}{
		{
			name:     "prompt stays one argument",
			template: "claude -p {prompt}",
			want:     []string{"claude", "-p", "write a post about bees"},
		},
		{
			name:     "all placeholders",
			template: "agent --handle {handle} --name {name} --dir {instance_dir} --prompt-file {prompt_file}",
			want: []string{
				"agent", "--handle", "rustling", "--name", "Rustling",
				"--dir", "/data/instances/rustling",
				"--prompt-file", "/data/instances/rustling/prompt.md",
			},
		},
		{
			name:     "no placeholders",
			template: "true",
			want:     []string{"true"},
		},
		{
			name:     "empty template",
			template: "   ",
			wantErr:  true,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExpandCommand(tc.template, vars)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ExpandCommand: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ExpandCommand = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEnv(t *testing.T) {
	t.Parallel()

	env := Env(Vars{Handle: "rustling", Name: "Rustling", Prompt: "hum", PromptFile: "/p.md", InstanceDir: "/d"})
	want := []string{
		"APIARY_HANDLE=rustling",
		"APIARY_NAME=Rustling",
		"APIARY_PROMPT=hum",
		"APIARY_PROMPT_FILE=/p.md",
		"APIARY_INSTANCE_DIR=/d",
	}
	if !reflect.DeepEqual(env, want) {
		t.Errorf("Env = %v, want %v", env, want)
	}
}
