package tool

import (
	"context"
	"encoding/json"
)

// Descriptor declares a callable capability, either built into the server or
// announced by the device at registration time. Descriptors are immutable
// for the lifetime of a session; re-registration replaces the whole list.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON schema
	MainType    string          `json:"main_type"`            // "local" or "remote"
	SubType     string          `json:"sub_type"`             // "sync" or "async"
	PostProcess []string        `json:"post_process,omitempty"`
}

// Kind is the closed set of dispatch variants over (main_type, sub_type).
type Kind int

const (
	KindUnknown Kind = iota
	LocalSync
	LocalAsync
	RemoteSync
	RemoteAsync
)

// Kind maps the descriptor's type pair onto the dispatch variant.
func (d Descriptor) Kind() Kind {
	switch d.MainType {
	case "local":
		switch d.SubType {
		case "sync":
			return LocalSync
		case "async":
			return LocalAsync
		}
	case "remote":
		switch d.SubType {
		case "sync":
			return RemoteSync
		case "async":
			return RemoteAsync
		}
	}
	return KindUnknown
}

// DefaultPlan is the post-process plan used when a descriptor declares none,
// and the fallback plan when intent selects no tool at all.
var DefaultPlan = []string{"chat", "notify_listen"}

// Plan returns the descriptor's post-process plan, defaulting when absent.
func (d Descriptor) Plan() []string {
	if len(d.PostProcess) > 0 {
		return d.PostProcess
	}
	return DefaultPlan
}

// Find returns the first descriptor with the given name. Device-declared
// descriptors are listed before built-ins, so they win name collisions.
func Find(tools []Descriptor, name string) (Descriptor, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Descriptor{}, false
}

// AudioSink receives an out-of-band audio stream pushed by a local tool
// (e.g. music playback). Implemented by the gateway session.
type AudioSink interface {
	StreamPCM(ctx context.Context, chunks <-chan []byte) error
}

// Invoker is the in-process implementation of a local tool. Sync tools
// return their result text; async tools are launched on their own goroutine
// and deliver effects through the sink.
type Invoker func(ctx context.Context, sink AudioSink, args map[string]any) (string, error)

// Registry holds the server's built-in tools: their descriptors (appended
// after the device-declared ones) and their implementations.
type Registry struct {
	descriptors []Descriptor
	impls       map[string]Invoker
}

// NewRegistry creates an empty built-in tool registry.
func NewRegistry() *Registry {
	return &Registry{impls: make(map[string]Invoker)}
}

// Register adds a built-in tool.
func (r *Registry) Register(d Descriptor, fn Invoker) {
	r.descriptors = append(r.descriptors, d)
	r.impls[d.Name] = fn
}

// Descriptors returns the built-in descriptor list in registration order.
func (r *Registry) Descriptors() []Descriptor {
	return r.descriptors
}

// Invoker looks up the implementation of a built-in tool.
func (r *Registry) Invoker(name string) (Invoker, bool) {
	fn, ok := r.impls[name]
	return fn, ok
}
