// Package catalog maintains the hub-wide projection of upstream tools with
// operator overlays applied, versioned so downstream sessions and the
// vector index can track changes.
package catalog

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/hash"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/settings"
)

// Descriptor is the effective view of one upstream tool after the spec's
// tool overlay is applied. Tool keeps the upstream-reported definition;
// Description carries the override when one is configured.
type Descriptor struct {
	UpstreamName string `json:"upstream_name"`
	ToolName     string `json:"tool_name"`
	Description  string `json:"description"`
	Enabled      bool   `json:"enabled"`

	// Hash fingerprints name, effective description and input schema. It
	// drives change detection here and re-embedding decisions downstream.
	Hash string `json:"hash"`

	Tool mcp.Tool `json:"-"`
}

// EmbeddingText is the text a tool is embedded under: name, effective
// description and the JSON-rendered input schema. Map keys marshal sorted,
// so the text is deterministic for a given descriptor.
func (d Descriptor) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(d.ToolName)
	b.WriteString("\n")
	b.WriteString(d.Description)
	if schema, err := json.Marshal(d.Tool.InputSchema); err == nil && len(schema) > 0 {
		b.WriteString("\n")
		b.Write(schema)
	}
	return b.String()
}

// Diff lists what moved between two catalog versions. Changed carries the
// new descriptor; a tool disabled by overlay shows up there with
// Enabled=false rather than in Removed.
type Diff struct {
	Added   []Descriptor `json:"added,omitempty"`
	Removed []Descriptor `json:"removed,omitempty"`
	Changed []Descriptor `json:"changed,omitempty"`
}

// Empty reports whether the diff carries no change.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Update is delivered to subscribers on every version bump. Subscribers
// that observe OldVersion differing from the last version they handled
// have missed updates and should resync from List.
type Update struct {
	OldVersion uint64
	NewVersion uint64
	Diff       Diff
}

// Catalog is the single writer of the effective tool projection. Readers
// get sorted copies; subscribers get version-bump updates.
type Catalog struct {
	logger *zap.Logger

	mu        sync.RWMutex
	version   uint64
	raw       map[string][]mcp.Tool
	overlays  map[string]map[string]*settings.ToolOverride
	projected map[string]map[string]Descriptor

	subMu       sync.Mutex
	subscribers []chan Update
}

// New builds an empty catalog at version zero.
func New(logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		logger:    logger,
		raw:       make(map[string][]mcp.Tool),
		overlays:  make(map[string]map[string]*settings.ToolOverride),
		projected: make(map[string]map[string]Descriptor),
	}
}

// Version returns the current catalog version. It only ever grows.
func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// List returns every descriptor ordered by (upstreamName, toolName).
// Disabled tools are included with Enabled=false; callers that publish
// tool lists filter on the flag.
func (c *Catalog) List() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Descriptor, 0, c.sizeLocked())
	for _, tools := range c.projected {
		for _, d := range tools {
			out = append(out, d)
		}
	}
	sortDescriptors(out)
	return out
}

// ListByUpstream returns one upstream's descriptors ordered by tool name.
func (c *Catalog) ListByUpstream(upstream string) []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tools := c.projected[upstream]
	out := make([]Descriptor, 0, len(tools))
	for _, d := range tools {
		out = append(out, d)
	}
	sortDescriptors(out)
	return out
}

// Get looks up one tool.
func (c *Catalog) Get(upstream, tool string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.projected[upstream][tool]
	return d, ok
}

// Snapshot returns the version and the full descriptor list atomically, so
// a caller can materialize a view without a version racing past it.
func (c *Catalog) Snapshot() (uint64, []Descriptor) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Descriptor, 0, c.sizeLocked())
	for _, tools := range c.projected {
		for _, d := range tools {
			out = append(out, d)
		}
	}
	sortDescriptors(out)
	return c.version, out
}

func (c *Catalog) sizeLocked() int {
	n := 0
	for _, tools := range c.projected {
		n += len(tools)
	}
	return n
}

// SetTools records an upstream's reported tool list and re-projects it
// through the current overlay. The version bumps only when the effective
// set actually changes; a refresh that reports the same tools is silent.
func (c *Catalog) SetTools(upstream string, tools []mcp.Tool) {
	c.mu.Lock()
	c.raw[upstream] = append([]mcp.Tool(nil), tools...)

	next := projectTools(upstream, tools, c.overlays[upstream])
	diff := diffProjections(c.projected[upstream], next)
	c.projected[upstream] = next

	if diff.Empty() {
		c.mu.Unlock()
		c.logger.Debug("tool list refreshed, no catalog change",
			zap.String("upstream", upstream),
			zap.Int("tools", len(tools)))
		return
	}
	update := c.bumpLocked(diff)
	c.mu.Unlock()

	c.logger.Info("catalog updated",
		zap.String("upstream", upstream),
		zap.Uint64("version", update.NewVersion),
		zap.Int("added", len(diff.Added)),
		zap.Int("removed", len(diff.Removed)),
		zap.Int("changed", len(diff.Changed)))
	c.notify(update)
}

// RemoveUpstream drops an upstream's tools, bumping the version if any
// were present.
func (c *Catalog) RemoveUpstream(upstream string) {
	c.mu.Lock()
	old := c.projected[upstream]
	delete(c.raw, upstream)
	delete(c.overlays, upstream)
	delete(c.projected, upstream)

	if len(old) == 0 {
		c.mu.Unlock()
		return
	}

	diff := Diff{}
	for _, d := range old {
		diff.Removed = append(diff.Removed, d)
	}
	sortDescriptors(diff.Removed)
	update := c.bumpLocked(diff)
	c.mu.Unlock()

	c.logger.Info("upstream removed from catalog",
		zap.String("upstream", upstream),
		zap.Uint64("version", update.NewVersion),
		zap.Int("removed", len(diff.Removed)))
	c.notify(update)
}

// ApplySettings installs the tool overlays from a settings snapshot and
// re-projects every upstream whose tools are already known. Upstreams
// missing from the snapshot are left to RemoveUpstream, which the
// supervisor layer invokes on removal.
func (c *Catalog) ApplySettings(cfg *settings.Settings) {
	if cfg == nil {
		return
	}

	overlays := make(map[string]map[string]*settings.ToolOverride, len(cfg.Upstreams))
	for _, u := range cfg.Upstreams {
		if u != nil && u.Name != "" {
			overlays[u.Name] = u.Tools
		}
	}

	c.mu.Lock()
	var diff Diff
	for upstream, tools := range c.raw {
		overlay, inCfg := overlays[upstream]
		if !inCfg {
			continue
		}
		next := projectTools(upstream, tools, overlay)
		d := diffProjections(c.projected[upstream], next)
		c.projected[upstream] = next
		diff.Added = append(diff.Added, d.Added...)
		diff.Removed = append(diff.Removed, d.Removed...)
		diff.Changed = append(diff.Changed, d.Changed...)
	}
	for upstream, overlay := range overlays {
		c.overlays[upstream] = overlay
	}

	if diff.Empty() {
		c.mu.Unlock()
		return
	}
	sortDescriptors(diff.Added)
	sortDescriptors(diff.Removed)
	sortDescriptors(diff.Changed)
	update := c.bumpLocked(diff)
	c.mu.Unlock()

	c.logger.Info("catalog overlays reapplied",
		zap.Uint64("version", update.NewVersion),
		zap.Int("added", len(diff.Added)),
		zap.Int("removed", len(diff.Removed)),
		zap.Int("changed", len(diff.Changed)))
	c.notify(update)
}

func (c *Catalog) bumpLocked(diff Diff) Update {
	old := c.version
	c.version++
	return Update{OldVersion: old, NewVersion: c.version, Diff: diff}
}

// Subscribe returns a channel receiving catalog updates. The channel is
// buffered; slow consumers miss intermediate updates rather than blocking
// the projection, and detect the gap through Update.OldVersion.
func (c *Catalog) Subscribe(ctx context.Context) <-chan Update {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	ch := make(chan Update, 16)
	c.subscribers = append(c.subscribers, ch)

	go func() {
		<-ctx.Done()
		c.Unsubscribe(ch)
	}()

	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (c *Catalog) Unsubscribe(ch <-chan Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for i, sub := range c.subscribers {
		if sub == ch {
			c.subscribers = append(c.subscribers[:i], c.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

// Close closes all subscriber channels.
func (c *Catalog) Close() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = nil
}

func (c *Catalog) notify(update Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subscribers {
		select {
		case ch <- update:
		default:
			c.logger.Warn("catalog subscriber channel full, dropping update",
				zap.Uint64("version", update.NewVersion))
		}
	}
}

func projectTools(upstream string, tools []mcp.Tool, overlay map[string]*settings.ToolOverride) map[string]Descriptor {
	out := make(map[string]Descriptor, len(tools))
	for _, tool := range tools {
		if tool.Name == "" {
			continue
		}
		description := tool.Description
		enabled := true
		if ov := overlay[tool.Name]; ov != nil {
			enabled = ov.IsEnabled()
			if ov.Description != "" {
				description = ov.Description
			}
		}
		out[tool.Name] = Descriptor{
			UpstreamName: upstream,
			ToolName:     tool.Name,
			Description:  description,
			Enabled:      enabled,
			Hash:         hash.ComputeToolHash(upstream, tool.Name, description, tool.InputSchema),
			Tool:         tool,
		}
	}
	return out
}

func diffProjections(old, next map[string]Descriptor) Diff {
	var diff Diff
	for name, nd := range next {
		od, ok := old[name]
		if !ok {
			diff.Added = append(diff.Added, nd)
			continue
		}
		if od.Hash != nd.Hash || od.Enabled != nd.Enabled {
			diff.Changed = append(diff.Changed, nd)
		}
	}
	for name, od := range old {
		if _, ok := next[name]; !ok {
			diff.Removed = append(diff.Removed, od)
		}
	}
	sortDescriptors(diff.Added)
	sortDescriptors(diff.Removed)
	sortDescriptors(diff.Changed)
	return diff
}

func sortDescriptors(ds []Descriptor) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].UpstreamName != ds[j].UpstreamName {
			return ds[i].UpstreamName < ds[j].UpstreamName
		}
		return ds[i].ToolName < ds[j].ToolName
	})
}
