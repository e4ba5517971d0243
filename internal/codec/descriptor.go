package codec

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MethodInfo is one row of the RPC descriptor table: what a method's
// request and response message types are named. Types are carried as
// names only (the codec decodes bodies generically — see Message); the
// names exist for logging, the resp_map, and future schema enrichment.
type MethodInfo struct {
	Method       string `json:"method"`
	RequestType  string `json:"request_type"`
	ResponseType string `json:"response_type"`
}

// Descriptor is the RPC method registry: method -> (request_type,
// response_type), loaded once and looked up on every Req parse (a Res is
// resolved through the resp_map entry its Req left behind).
// Safe for concurrent read-only use once built; Load and Register mutate
// under a lock so a descriptor can also be extended at runtime (e.g. by a
// ConfigManager-pushed schema update, per the external configuration
// store in SPEC_FULL.md §6).
type Descriptor struct {
	mu      sync.RWMutex
	methods map[string]MethodInfo
}

// NewDescriptor returns an empty descriptor table.
func NewDescriptor() *Descriptor {
	return &Descriptor{methods: make(map[string]MethodInfo)}
}

// Load reads a JSON array of MethodInfo rows from r and merges them in.
// Keys must be unique within a single document; a later Load call may
// override earlier entries (schema hot-reload).
func (d *Descriptor) Load(r io.Reader) error {
	var rows []MethodInfo
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return fmt.Errorf("codec: decode descriptor document: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, row := range rows {
		d.methods[row.Method] = row
	}
	return nil
}

// Register adds or replaces a single method's descriptor row. Useful for
// tests and for synthetic/injected methods with no on-disk schema entry.
func (d *Descriptor) Register(info MethodInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.methods[info.Method] = info
}

// Lookup returns the descriptor row for method, if known.
func (d *Descriptor) Lookup(method string) (MethodInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	info, ok := d.methods[method]
	return info, ok
}

// splitMethod accepts either a dotted ".lq.Svc.rpc" method name or a
// slash-separated ".lq.Svc/rpc" one (the Liqi wire uses the former for
// Req/Res and Notify method names observed in the wild sometimes carry the
// latter) and returns (service, rpc).
func splitMethod(method string) (service, rpc string) {
	if i := strings.LastIndexByte(method, '/'); i >= 0 {
		return method[:i], method[i+1:]
	}
	if i := strings.LastIndexByte(method, '.'); i >= 0 {
		return method[:i], method[i+1:]
	}
	return "", method
}
