package registry

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/calder/toolgate/pkg/tool"
)

// Level is the coarse security gate. Higher levels are strictly more
// restrictive: each allows a subset of what the level below permits.
type Level int

const (
	LevelUnrestricted Level = iota
	LevelSafe
	LevelSandboxed
	LevelRestricted
)

func (l Level) String() string {
	switch l {
	case LevelUnrestricted:
		return "unrestricted"
	case LevelSafe:
		return "safe"
	case LevelSandboxed:
		return "sandboxed"
	case LevelRestricted:
		return "restricted"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unrestricted":
		return LevelUnrestricted, nil
	case "safe":
		return LevelSafe, nil
	case "sandboxed":
		return LevelSandboxed, nil
	case "restricted":
		return LevelRestricted, nil
	default:
		return LevelSafe, fmt.Errorf("unknown security level: %q", s)
	}
}

// restrictedTags returns the tag set blocked at a level. Sets are
// cumulative so higher levels block supersets of lower ones.
func restrictedTags(l Level) []string {
	switch l {
	case LevelSafe:
		return []string{"system", "network", "dangerous"}
	case LevelSandboxed:
		return []string{"system", "network", "file_write", "dangerous"}
	case LevelRestricted:
		return []string{"system", "network", "file_write", "file_read", "dangerous"}
	default:
		return nil
	}
}

// Policy is the process-wide security policy of a registry instance.
// Set at construction; it may be tightened at runtime but never
// loosened. Reads are safe for unsynchronized concurrent use once set.
type Policy struct {
	mu           sync.RWMutex
	level        Level
	allowedPaths []string
	denyPatterns []string
}

// NewPolicy constructs a policy. Allowed paths are normalized to
// absolute, cleaned prefixes.
func NewPolicy(level Level, allowedPaths []string, denyPatterns []string) (*Policy, error) {
	for _, pattern := range denyPatterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid deny pattern %q: %w", pattern, err)
		}
	}

	normalized := make([]string, 0, len(allowedPaths))
	for _, p := range allowedPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed path %q: %w", p, err)
		}
		normalized = append(normalized, filepath.Clean(abs))
	}

	return &Policy{
		level:        level,
		allowedPaths: normalized,
		denyPatterns: append([]string(nil), denyPatterns...),
	}, nil
}

// Level returns the active security level.
func (p *Policy) Level() Level {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

// AllowedPaths returns a copy of the allow-listed path prefixes.
func (p *Policy) AllowedPaths() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	paths := make([]string, len(p.allowedPaths))
	copy(paths, p.allowedPaths)
	return paths
}

// Tighten raises the security level. Lowering is rejected; a policy is
// never silently loosened at runtime.
func (p *Policy) Tighten(level Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if level < p.level {
		return fmt.Errorf("cannot loosen security level from %s to %s", p.level, level)
	}
	if level != p.level {
		log.Info().Str("from", p.level.String()).Str("to", level.String()).Msg("Security level tightened")
		p.level = level
	}
	return nil
}

// RestrictPaths replaces the allow-list with a subset of the current
// one. Adding new prefixes at runtime is rejected.
func (p *Policy) RestrictPaths(paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := make([]string, 0, len(paths))
	for _, raw := range paths {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return fmt.Errorf("invalid path %q: %w", raw, err)
		}
		candidate := filepath.Clean(abs)

		covered := false
		for _, existing := range p.allowedPaths {
			if candidate == existing || strings.HasPrefix(candidate, existing+string(filepath.Separator)) {
				covered = true
				break
			}
		}
		if !covered {
			return fmt.Errorf("cannot widen path allow-list with %q", candidate)
		}
		kept = append(kept, candidate)
	}

	p.allowedPaths = kept
	return nil
}

// Exposable reports whether a tool may be exposed (listed, executed)
// under the active level. The check is the pure tag gate; it ignores
// arguments.
func (p *Policy) Exposable(meta tool.Metadata) bool {
	p.mu.RLock()
	level := p.level
	p.mu.RUnlock()

	if level == LevelUnrestricted {
		return true
	}
	for _, tag := range restrictedTags(level) {
		if meta.HasTag(tag) {
			return false
		}
	}
	return true
}

// Authorize checks a single execution. It is pure: no side effects,
// and it runs strictly before the sandboxed executor. The level gate
// comes first; at sandboxed and restricted levels every path-typed
// argument must additionally resolve under an allow-listed prefix.
// Path allow-listing never overrides the level gate.
func (p *Policy) Authorize(meta tool.Metadata, params []tool.Parameter, args map[string]interface{}) error {
	p.mu.RLock()
	level := p.level
	allowed := p.allowedPaths
	denied := p.denyPatterns
	p.mu.RUnlock()

	if level == LevelUnrestricted {
		return nil
	}

	for _, tag := range restrictedTags(level) {
		if meta.HasTag(tag) {
			return &tool.SecurityError{
				Level:           level.String(),
				AttemptedAction: fmt.Sprintf("execute tool %q (tag %q)", meta.Name, tag),
				Message:         fmt.Sprintf("tool %q execution blocked by security policy", meta.Name),
			}
		}
	}

	if level < LevelSandboxed {
		return nil
	}

	for _, param := range params {
		if param.Type != tool.TypePath {
			continue
		}
		raw, ok := args[param.Name].(string)
		if !ok || raw == "" {
			continue
		}
		if err := checkPath(level, meta.Name, raw, allowed, denied); err != nil {
			return err
		}
	}
	return nil
}

// checkPath resolves a path argument and verifies it falls under an
// allow-listed prefix and matches no deny pattern.
func checkPath(level Level, toolName, raw string, allowed, denied []string) error {
	abs, err := filepath.Abs(raw)
	if err != nil {
		return &tool.SecurityError{
			Level:           level.String(),
			AttemptedAction: fmt.Sprintf("access path %q via tool %q", raw, toolName),
			Message:         fmt.Sprintf("cannot resolve path %q", raw),
		}
	}
	resolved := filepath.Clean(abs)

	for _, pattern := range denied {
		if matched, _ := filepath.Match(pattern, resolved); matched {
			return &tool.SecurityError{
				Level:           level.String(),
				AttemptedAction: fmt.Sprintf("access denied path %q via tool %q", resolved, toolName),
			}
		}
	}

	for _, prefix := range allowed {
		if resolved == prefix || strings.HasPrefix(resolved, prefix+string(filepath.Separator)) {
			return nil
		}
	}
	return &tool.SecurityError{
		Level:           level.String(),
		AttemptedAction: fmt.Sprintf("access path %q via tool %q", resolved, toolName),
		Message:         fmt.Sprintf("path %q is outside the allow-listed prefixes", resolved),
	}
}
