// Package catalog interns and persists the three disjoint string
// namespaces every graph record is built from — labels, relationship
// types, and property keys — plus a fourth namespace of registered
// user-defined-function signatures.
//
// Each namespace hands out a stable, compact, never-reused uint32 ID per
// distinct string. IDs survive restarts (persisted as sorted key->ID
// files); UDF signatures are persisted as metadata only — their
// implementations are re-registered per process, never deserialized from
// disk (spec §4.3).
//
// Catalog is read-mostly and shared between the storage engine and the
// query executor: lookups are lock-free against an atomically-swapped
// snapshot, while interning a brand new name serializes through a mutex.
package catalog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/latticedb/graphcore/pkg/errkind"
)

// ID is a stable, compact catalog identifier. Zero is never assigned.
type ID uint32

// Namespace identifies one of the three disjoint interning dictionaries
// (the UDF signature registry is kept separately).
type Namespace int

const (
	NamespaceLabel Namespace = iota
	NamespaceRelType
	NamespacePropertyKey
)

func (n Namespace) fileName() string {
	switch n {
	case NamespaceLabel:
		return "labels.catalog"
	case NamespaceRelType:
		return "reltypes.catalog"
	case NamespacePropertyKey:
		return "propkeys.catalog"
	default:
		panic("catalog: unknown namespace")
	}
}

// UDFSignature describes a registered user-defined-function's call shape.
// Only the signature is persisted; the callable implementation must be
// re-registered by the embedding process on every start (spec §4.3 —
// persisting callable code is explicitly out of scope).
type UDFSignature struct {
	Name        string
	ParamTypes  []string
	ReturnType  string
	Description string
}

// dict is one interned string<->ID namespace with a lock-free read path.
type dict struct {
	mu      sync.Mutex // serializes interning of brand-new names
	forward atomic.Pointer[map[string]ID]
	inverse atomic.Pointer[map[ID]string]
	next    atomic.Uint32
	file    *os.File
}

func newDict() *dict {
	d := &dict{}
	fwd := make(map[string]ID)
	inv := make(map[ID]string)
	d.forward.Store(&fwd)
	d.inverse.Store(&inv)
	return d
}

// intern returns name's existing ID, or assigns and persists a fresh one.
func (d *dict) intern(name string) (ID, error) {
	if id, ok := d.lookup(name); ok {
		return id, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// Re-check under the lock: another writer may have interned it first.
	if id, ok := d.lookup(name); ok {
		return id, nil
	}

	id := ID(d.next.Add(1))

	if d.file != nil {
		line := fmt.Sprintf("%d\t%s\n", id, name)
		if _, err := d.file.WriteString(line); err != nil {
			return 0, errkind.Wrap(errkind.CatalogCorruption, "append catalog entry", err)
		}
		if err := d.file.Sync(); err != nil {
			return 0, errkind.Wrap(errkind.CatalogCorruption, "sync catalog file", err)
		}
	}

	oldFwd := d.forward.Load()
	newFwd := make(map[string]ID, len(*oldFwd)+1)
	for k, v := range *oldFwd {
		newFwd[k] = v
	}
	newFwd[name] = id

	oldInv := d.inverse.Load()
	newInv := make(map[ID]string, len(*oldInv)+1)
	for k, v := range *oldInv {
		newInv[k] = v
	}
	newInv[id] = name

	d.forward.Store(&newFwd)
	d.inverse.Store(&newInv)
	return id, nil
}

func (d *dict) lookup(name string) (ID, bool) {
	m := d.forward.Load()
	id, ok := (*m)[name]
	return id, ok
}

func (d *dict) resolve(id ID) (string, bool) {
	m := d.inverse.Load()
	name, ok := (*m)[id]
	return name, ok
}

func (d *dict) names() []string {
	m := d.forward.Load()
	out := make([]string, 0, len(*m))
	for k := range *m {
		out = append(out, k)
	}
	return out
}

func (d *dict) load(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errkind.Wrap(errkind.CatalogCorruption, "open catalog file", err)
	}
	defer f.Close()

	fwd := make(map[string]ID)
	inv := make(map[ID]string)
	var maxID uint32

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			return errkind.New(errkind.CatalogCorruption, "malformed catalog line: "+line)
		}
		n, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return errkind.Wrap(errkind.CatalogCorruption, "malformed catalog id", err)
		}
		id := ID(n)
		fwd[parts[1]] = id
		inv[id] = parts[1]
		if n > uint64(maxID) {
			maxID = uint32(n)
		}
	}
	if err := scanner.Err(); err != nil {
		return errkind.Wrap(errkind.CatalogCorruption, "scan catalog file", err)
	}

	d.forward.Store(&fwd)
	d.inverse.Store(&inv)
	d.next.Store(maxID)
	return nil
}

func (d *dict) openAppend(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errkind.Wrap(errkind.CatalogCorruption, "open catalog file for append", err)
	}
	d.file = f
	return nil
}

// Catalog is the shared, process-wide interning authority for labels,
// relationship types, and property keys, plus the UDF signature registry.
type Catalog struct {
	labels    *dict
	relTypes  *dict
	propKeys  *dict

	udfMu  sync.RWMutex
	udfs   map[string]UDFSignature
	udfFile string
}

// Open loads (or initializes) a catalog rooted at dir. dir is created if
// it does not already exist.
func Open(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errkind.Wrap(errkind.CatalogCorruption, "create catalog directory", err)
	}

	c := &Catalog{
		labels:   newDict(),
		relTypes: newDict(),
		propKeys: newDict(),
		udfs:     make(map[string]UDFSignature),
		udfFile:  filepath.Join(dir, "udfs.catalog"),
	}

	for ns, d := range map[Namespace]*dict{
		NamespaceLabel:       c.labels,
		NamespaceRelType:     c.relTypes,
		NamespacePropertyKey: c.propKeys,
	} {
		path := filepath.Join(dir, ns.fileName())
		if err := d.load(path); err != nil {
			return nil, err
		}
		if err := d.openAppend(path); err != nil {
			return nil, err
		}
	}

	if err := c.loadUDFs(); err != nil {
		return nil, err
	}

	return c, nil
}

// Close releases the catalog's open file handles.
func (c *Catalog) Close() error {
	for _, d := range []*dict{c.labels, c.relTypes, c.propKeys} {
		if d.file != nil {
			if err := d.file.Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

// InternLabel returns name's label ID, assigning one if this is the first
// time name has been seen.
func (c *Catalog) InternLabel(name string) (ID, error) { return c.labels.intern(name) }

// InternRelType returns name's relationship-type ID, assigning one if new.
func (c *Catalog) InternRelType(name string) (ID, error) { return c.relTypes.intern(name) }

// InternPropertyKey returns name's property-key ID, assigning one if new.
func (c *Catalog) InternPropertyKey(name string) (ID, error) { return c.propKeys.intern(name) }

// LookupLabel resolves id back to its label name. Lock-free.
func (c *Catalog) LookupLabel(id ID) (string, bool) { return c.labels.resolve(id) }

// LookupRelType resolves id back to its relationship-type name. Lock-free.
func (c *Catalog) LookupRelType(id ID) (string, bool) { return c.relTypes.resolve(id) }

// LookupPropertyKey resolves id back to its property-key name. Lock-free.
func (c *Catalog) LookupPropertyKey(id ID) (string, bool) { return c.propKeys.resolve(id) }

// LabelID returns the ID already assigned to name, if any, without
// interning a new one.
func (c *Catalog) LabelID(name string) (ID, bool) { return c.labels.lookup(name) }

// RelTypeID returns the ID already assigned to name, if any.
func (c *Catalog) RelTypeID(name string) (ID, bool) { return c.relTypes.lookup(name) }

// PropertyKeyID returns the ID already assigned to name, if any.
func (c *Catalog) PropertyKeyID(name string) (ID, bool) { return c.propKeys.lookup(name) }

// AllLabels returns every interned label name, for schema introspection
// procedures (e.g. db.labels()).
func (c *Catalog) AllLabels() []string { return c.labels.names() }

// AllRelTypes returns every interned relationship-type name.
func (c *Catalog) AllRelTypes() []string { return c.relTypes.names() }

// AllPropertyKeys returns every interned property-key name.
func (c *Catalog) AllPropertyKeys() []string { return c.propKeys.names() }

// HasLabel reports whether id exists in the label namespace at the time of
// the call — used to enforce the node invariant that every label ID in a
// node's label set exists in the catalog at commit time (spec §3).
func (c *Catalog) HasLabel(id ID) bool { _, ok := c.labels.resolve(id); return ok }

// RegisterUDF records a UDF's signature for catalog listing. Re-registering
// the same name replaces the prior signature. The implementation itself is
// never persisted — callers re-register it on every process start.
func (c *Catalog) RegisterUDF(sig UDFSignature) error {
	c.udfMu.Lock()
	defer c.udfMu.Unlock()
	c.udfs[sig.Name] = sig
	return c.saveUDFsLocked()
}

// ListUDFs returns every registered UDF signature, for catalog-of-functions
// introspection. Never used to synthesize callable code.
func (c *Catalog) ListUDFs() []UDFSignature {
	c.udfMu.RLock()
	defer c.udfMu.RUnlock()
	out := make([]UDFSignature, 0, len(c.udfs))
	for _, s := range c.udfs {
		out = append(out, s)
	}
	return out
}

func (c *Catalog) saveUDFsLocked() error {
	f, err := os.Create(c.udfFile)
	if err != nil {
		return errkind.Wrap(errkind.CatalogCorruption, "write udf catalog", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, s := range c.udfs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, strings.Join(s.ParamTypes, ","), s.ReturnType, s.Description)
	}
	return w.Flush()
}

func (c *Catalog) loadUDFs() error {
	f, err := os.Open(c.udfFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errkind.Wrap(errkind.CatalogCorruption, "open udf catalog", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 4 {
			continue
		}
		var params []string
		if parts[1] != "" {
			params = strings.Split(parts[1], ",")
		}
		c.udfs[parts[0]] = UDFSignature{
			Name:        parts[0],
			ParamTypes:  params,
			ReturnType:  parts[2],
			Description: parts[3],
		}
	}
	return scanner.Err()
}
