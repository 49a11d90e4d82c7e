// Package profile manages named experiment command templates.
// Profiles are loaded once at startup from a JSON file keyed by profile id;
// the file is auto-created with built-in defaults if absent.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"agentdeck/internal/logging"
)

// Machine reason codes surfaced to callers on validation failure.
const (
	ReasonParseFailed  = "profiles_parse_failed"
	ReasonNotFound     = "profile_not_found"
	ReasonInvalidParam = "invalid_or_missing_param"
)

// DefaultTimeoutMs applies when a profile omits or zeroes its timeout.
const DefaultTimeoutMs int64 = 30000

// paramValuePattern is the sole defense against command injection through
// template substitution: alphanumerics, dot, slash, colon, backslash,
// underscore and dash only.
var paramValuePattern = regexp.MustCompile(`^[A-Za-z0-9._/:\\-]+$`)

// Profile is a named, reusable command template.
type Profile struct {
	ID             string   `json:"-"`
	Command        string   `json:"command"`
	TimeoutMs      int64    `json:"timeoutMs"`
	Description    string   `json:"description,omitempty"`
	Cwd            string   `json:"cwd,omitempty"`
	Params         []string `json:"params,omitempty"`
	OutputCapBytes int64    `json:"outputCapBytes,omitempty"`
}

// ResolveRequest asks the registry to turn a profile into a concrete command.
type ResolveRequest struct {
	ProfileID string
	Params    map[string]string
	Cwd       string // overrides the profile cwd when set
	TimeoutMs int64  // overrides the profile timeout when > 0
}

// Resolved is a parameter-substituted, ready-to-spawn command line.
type Resolved struct {
	Profile        Profile
	Command        string
	Cwd            string
	TimeoutMs      int64
	OutputCapBytes int64
}

// Error is a validation failure with a machine reason code.
type Error struct {
	Reason string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Registry holds the normalized profile set for the process lifetime.
type Registry struct {
	profiles map[string]Profile
}

// defaultProfiles are written to the profiles file on first run.
func defaultProfiles() map[string]Profile {
	return map[string]Profile{
		"echo-test": {
			Command:     "echo hello",
			TimeoutMs:   5000,
			Description: "Smoke-test profile: prints hello and exits 0",
		},
		"go-test": {
			Command:     "go test {pkg}",
			TimeoutMs:   300000,
			Description: "Run Go tests for a package pattern",
			Params:      []string{"pkg"},
		},
		"go-build": {
			Command:     "go build ./...",
			TimeoutMs:   120000,
			Description: "Build all packages in the working directory",
		},
		"git-status": {
			Command:     "git status --porcelain",
			TimeoutMs:   15000,
			Description: "Report working-tree state",
		},
	}
}

// Load guarantees the backing file exists (writing built-in defaults on
// first run), parses it, and normalizes every profile. Malformed content
// is a hard initialization failure with reason profiles_parse_failed.
func Load(path string) (*Registry, error) {
	timer := logging.StartTimer(logging.CategoryProfile, "Load profiles")
	defer timer.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, &Error{Reason: ReasonParseFailed, Detail: err.Error()}
		}
		logging.Profile("Profiles file missing, writing defaults to %s", path)
		if err := writeDefaults(path); err != nil {
			return nil, &Error{Reason: ReasonParseFailed, Detail: err.Error()}
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, &Error{Reason: ReasonParseFailed, Detail: err.Error()}
		}
	}

	var raw map[string]Profile
	if err := json.Unmarshal(data, &raw); err != nil {
		logging.Get(logging.CategoryProfile).Error("Failed to parse profiles file %s: %v", path, err)
		return nil, &Error{Reason: ReasonParseFailed, Detail: err.Error()}
	}

	profiles := make(map[string]Profile, len(raw))
	for id, p := range raw {
		norm, err := normalize(id, p)
		if err != nil {
			return nil, err
		}
		profiles[norm.ID] = norm
	}

	logging.Profile("Loaded %d profiles from %s", len(profiles), path)
	return &Registry{profiles: profiles}, nil
}

func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(defaultProfiles(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// normalize trims and validates a single profile entry.
func normalize(id string, p Profile) (Profile, *Error) {
	p.ID = strings.ToLower(strings.TrimSpace(id))
	p.Command = strings.TrimSpace(p.Command)
	if p.ID == "" || p.Command == "" {
		return Profile{}, &Error{Reason: ReasonParseFailed, Detail: fmt.Sprintf("profile %q has empty id or command", id)}
	}
	if p.TimeoutMs <= 0 {
		p.TimeoutMs = DefaultTimeoutMs
	}

	// Dedupe and lower-case declared parameter names
	seen := make(map[string]bool, len(p.Params))
	params := make([]string, 0, len(p.Params))
	for _, name := range p.Params {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		params = append(params, name)
	}
	p.Params = params

	return p, nil
}

// Get returns a profile by id (case-insensitive).
func (r *Registry) Get(id string) (Profile, bool) {
	p, ok := r.profiles[strings.ToLower(strings.TrimSpace(id))]
	return p, ok
}

// List returns all profiles sorted by id.
func (r *Registry) List() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve turns a request into a concrete command line. Every declared
// parameter must be supplied with a value matching the strict allow-list
// pattern; placeholders are replaced textually. Cwd and timeout fall back
// to profile defaults when not overridden.
func (r *Registry) Resolve(req ResolveRequest) (*Resolved, *Error) {
	p, ok := r.Get(req.ProfileID)
	if !ok {
		logging.ProfileDebug("Profile not found: %q", req.ProfileID)
		return nil, &Error{Reason: ReasonNotFound, Detail: req.ProfileID}
	}

	command := p.Command
	for _, name := range p.Params {
		value, supplied := req.Params[name]
		if !supplied || !paramValuePattern.MatchString(value) {
			logging.ProfileDebug("Parameter %q invalid or missing for profile %s", name, p.ID)
			return nil, &Error{Reason: ReasonInvalidParam, Detail: name}
		}
		command = strings.ReplaceAll(command, "{"+name+"}", value)
	}

	cwd := p.Cwd
	if req.Cwd != "" {
		cwd = req.Cwd
	}
	timeout := p.TimeoutMs
	if req.TimeoutMs > 0 {
		timeout = req.TimeoutMs
	}

	return &Resolved{
		Profile:        p,
		Command:        command,
		Cwd:            cwd,
		TimeoutMs:      timeout,
		OutputCapBytes: p.OutputCapBytes,
	}, nil
}
