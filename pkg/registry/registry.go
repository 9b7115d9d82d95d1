// Package registry provides the concurrent tool index, the security
// policy engine, the sandboxed executor, and per-tool execution
// statistics. A Registry is constructed explicitly and passed by
// reference; there is no package-level instance.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/calder/toolgate/pkg/tool"
)

// entry binds a registered tool to its compiled validator, aliases,
// and statistics block.
type entry struct {
	tool      tool.Tool
	validator *tool.Validator
	aliases   []string
	stats     *Stats
}

// Registry is the indexed collection of registered tools. Lookup is
// O(1) by name or alias; category and tag indexes are maintained
// incrementally on register/unregister, never rebuilt by scan. The
// index lock covers only the index structures, not in-flight
// executions.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]*entry
	aliases    map[string]string
	byCategory map[string]map[string]struct{}
	byTag      map[string]map[string]struct{}
	onChange   map[int64]func()
	subSeq     int64

	policy   *Policy
	executor *Executor
	recorder Recorder
	logger   zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithExecutor replaces the default sandboxed executor.
func WithExecutor(e *Executor) Option {
	return func(r *Registry) { r.executor = e }
}

// WithRecorder attaches an execution recorder.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a registry governed by the given security policy.
func New(policy *Policy, opts ...Option) *Registry {
	if policy == nil {
		policy, _ = NewPolicy(LevelSafe, nil, nil)
	}
	r := &Registry{
		tools:      make(map[string]*entry),
		aliases:    make(map[string]string),
		byCategory: make(map[string]map[string]struct{}),
		byTag:      make(map[string]map[string]struct{}),
		onChange:   make(map[int64]func()),
		policy:     policy,
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.executor == nil {
		r.executor = NewExecutor(DefaultLimits())
	}
	return r
}

// Policy returns the registry's security policy.
func (r *Registry) Policy() *Policy { return r.policy }

// OnChange subscribes to tool-set changes (register/unregister). Used
// by the protocol server to emit tools/listChanged notifications. The
// returned function removes the subscription; sessions call it on
// close so finished sessions don't accumulate dead callbacks.
func (r *Registry) OnChange(fn func()) func() {
	r.mu.Lock()
	r.subSeq++
	id := r.subSeq
	r.onChange[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.onChange, id)
		r.mu.Unlock()
	}
}

func (r *Registry) notifyChanged() {
	r.mu.RLock()
	subs := make([]func(), 0, len(r.onChange))
	for _, fn := range r.onChange {
		subs = append(subs, fn)
	}
	r.mu.RUnlock()
	for _, fn := range subs {
		fn()
	}
}

// Register adds a tool under its metadata name plus optional aliases.
// Names and aliases are case-sensitive and share one namespace. On any
// conflict the registry is left unchanged and a *DuplicateNameError is
// returned.
func (r *Registry) Register(t tool.Tool, aliases ...string) error {
	meta := t.Metadata()
	validator, err := tool.NewValidator(t.Parameters())
	if err != nil {
		return &tool.ExecutionError{Tool: meta.Name, Message: "invalid tool definition", Err: err}
	}

	r.mu.Lock()
	if dup := r.conflictLocked(meta.Name); dup != "" {
		r.mu.Unlock()
		return &tool.DuplicateNameError{Name: dup}
	}
	for _, alias := range aliases {
		if dup := r.conflictLocked(alias); dup != "" {
			r.mu.Unlock()
			return &tool.DuplicateNameError{Name: dup}
		}
	}

	r.tools[meta.Name] = &entry{
		tool:      t,
		validator: validator,
		aliases:   append([]string(nil), aliases...),
		stats:     &Stats{},
	}
	for _, alias := range aliases {
		r.aliases[alias] = meta.Name
	}
	r.indexAddLocked(meta)
	r.mu.Unlock()

	r.logger.Info().Str("tool", meta.Name).Strs("aliases", aliases).Msg("Tool registered")
	r.notifyChanged()
	return nil
}

func (r *Registry) conflictLocked(name string) string {
	if _, ok := r.tools[name]; ok {
		return name
	}
	if _, ok := r.aliases[name]; ok {
		return name
	}
	return ""
}

func (r *Registry) indexAddLocked(meta tool.Metadata) {
	if meta.Category != "" {
		if r.byCategory[meta.Category] == nil {
			r.byCategory[meta.Category] = make(map[string]struct{})
		}
		r.byCategory[meta.Category][meta.Name] = struct{}{}
	}
	for _, tag := range meta.Tags {
		if r.byTag[tag] == nil {
			r.byTag[tag] = make(map[string]struct{})
		}
		r.byTag[tag][meta.Name] = struct{}{}
	}
}

func (r *Registry) indexRemoveLocked(meta tool.Metadata) {
	if meta.Category != "" {
		delete(r.byCategory[meta.Category], meta.Name)
		if len(r.byCategory[meta.Category]) == 0 {
			delete(r.byCategory, meta.Category)
		}
	}
	for _, tag := range meta.Tags {
		delete(r.byTag[tag], meta.Name)
		if len(r.byTag[tag]) == 0 {
			delete(r.byTag, tag)
		}
	}
}

// Unregister removes a tool, all its aliases, its index entries, and
// its statistics.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	canonical := name
	if target, ok := r.aliases[name]; ok {
		canonical = target
	}
	ent, ok := r.tools[canonical]
	if !ok {
		r.mu.Unlock()
		return &tool.NotFoundError{Name: name}
	}

	meta := ent.tool.Metadata()
	delete(r.tools, canonical)
	for _, alias := range ent.aliases {
		delete(r.aliases, alias)
	}
	r.indexRemoveLocked(meta)
	r.mu.Unlock()

	r.logger.Info().Str("tool", canonical).Msg("Tool unregistered")
	r.notifyChanged()
	return nil
}

// Get returns a tool by primary name or alias.
func (r *Registry) Get(name string) (tool.Tool, error) {
	ent, err := r.getEntry(name)
	if err != nil {
		return nil, err
	}
	return ent.tool, nil
}

// Exists reports whether a name or alias is registered.
func (r *Registry) Exists(name string) bool {
	_, err := r.getEntry(name)
	return err == nil
}

func (r *Registry) getEntry(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical := name
	if target, ok := r.aliases[name]; ok {
		canonical = target
	}
	ent, ok := r.tools[canonical]
	if !ok {
		return nil, &tool.NotFoundError{Name: name}
	}
	return ent, nil
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns metadata snapshots for all registered tools. Live tool
// references are never exposed by listing APIs.
func (r *Registry) List() []tool.Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	metas := make([]tool.Metadata, 0, len(r.tools))
	for _, ent := range r.tools {
		metas = append(metas, ent.tool.Metadata())
	}
	return metas
}

// ListExposable returns metadata snapshots for the tools the active
// security level permits exposing.
func (r *Registry) ListExposable() []tool.Metadata {
	all := r.List()
	exposed := make([]tool.Metadata, 0, len(all))
	for _, meta := range all {
		if r.policy.Exposable(meta) {
			exposed = append(exposed, meta)
		}
	}
	return exposed
}

// Search matches the query as a case-insensitive substring of name,
// description, or any tag.
func (r *Registry) Search(query string) []tool.Metadata {
	q := strings.ToLower(query)

	r.mu.RLock()
	defer r.mu.RUnlock()
	var results []tool.Metadata
	for _, ent := range r.tools {
		meta := ent.tool.Metadata()
		if strings.Contains(strings.ToLower(meta.Name), q) ||
			strings.Contains(strings.ToLower(meta.Description), q) {
			results = append(results, meta)
			continue
		}
		for _, tag := range meta.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				results = append(results, meta)
				break
			}
		}
	}
	return results
}

// ByCategory returns metadata for tools in a category via the
// secondary index.
func (r *Registry) ByCategory(category string) []tool.Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byCategory[category])
}

// ByTag returns metadata for tools carrying a tag via the secondary
// index.
func (r *Registry) ByTag(tag string) []tool.Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byTag[tag])
}

func (r *Registry) collectLocked(names map[string]struct{}) []tool.Metadata {
	metas := make([]tool.Metadata, 0, len(names))
	for name := range names {
		if ent, ok := r.tools[name]; ok {
			metas = append(metas, ent.tool.Metadata())
		}
	}
	return metas
}

// Stats returns a snapshot of a tool's execution statistics.
func (r *Registry) Stats(name string) (StatsSnapshot, error) {
	ent, err := r.getEntry(name)
	if err != nil {
		return StatsSnapshot{}, err
	}
	return ent.stats.Snapshot(), nil
}

// Schema returns the JSON Schema for a tool's parameters.
func (r *Registry) Schema(name string) (map[string]interface{}, error) {
	ent, err := r.getEntry(name)
	if err != nil {
		return nil, err
	}
	return tool.SchemaMap(ent.tool.Parameters()), nil
}

// CallOption adjusts a single execution.
type CallOption func(*callConfig)

type callConfig struct {
	timeout time.Duration
}

// WithTimeout overrides the executor's default timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = d }
}

// Execute runs the full pipeline for a tool call: validation, then the
// security policy check, then the sandboxed executor, then statistics
// recording, in that fixed order regardless of tool implementation.
// Every failure category is returned as a typed result; nothing is
// raised across this boundary.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, opts ...CallOption) tool.Result {
	var cfg callConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	execID := uuid.NewString()

	ent, err := r.getEntry(name)
	if err != nil {
		r.logger.Error().Str("tool", name).Msg("Tool not found")
		return tool.Fail(name, err, time.Since(start))
	}
	meta := ent.tool.Metadata()

	if meta.Deprecated {
		r.logger.Warn().Str("tool", meta.Name).Str("message", meta.DeprecationMessage).Msg("Deprecated tool invoked")
	}

	validated, err := ent.validator.Validate(args)
	if err != nil {
		r.logger.Error().Str("tool", meta.Name).Err(err).Msg("Parameter validation failed")
		// Validation failures happen before any execution; they are
		// not recorded as executions.
		return tool.Fail(meta.Name, err, time.Since(start))
	}

	if err := r.policy.Authorize(meta, ent.tool.Parameters(), validated); err != nil {
		r.logger.Warn().Str("tool", meta.Name).Str("level", r.policy.Level().String()).Msg("Tool execution blocked by security policy")
		return tool.Fail(meta.Name, err, time.Since(start))
	}

	out, truncated, err := r.executor.Run(ctx, ent.tool, validated, cfg.timeout)
	duration := time.Since(start)

	if err != nil {
		ent.stats.Record(false, duration, err.Error())
		r.record(execID, meta.Name, false, err, duration)
		r.logger.Error().Str("execution_id", execID).Str("tool", meta.Name).Dur("duration", duration).Err(err).Msg("Tool execution failed")
		return tool.Fail(meta.Name, err, duration)
	}

	ent.stats.Record(true, duration, "")
	r.record(execID, meta.Name, true, nil, duration)
	r.logger.Debug().Str("execution_id", execID).Str("tool", meta.Name).Dur("duration", duration).Msg("Tool execution completed")

	res := tool.Ok(out, duration)
	res.Truncated = truncated
	res.Metadata["tool"] = meta.Name
	res.Metadata["execution_id"] = execID
	return res
}

func (r *Registry) record(id, name string, success bool, err error, duration time.Duration) {
	if r.recorder == nil {
		return
	}
	rec := ExecutionRecord{
		ID:       id,
		Tool:     name,
		Success:  success,
		Duration: duration,
		At:       time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
		rec.Kind = tool.KindOf(err)
	}
	r.recorder.Record(rec)
}
