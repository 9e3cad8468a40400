package schema

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stratumdb/stratum/internal/value"
)

var (
	// ErrTableNotFound is returned when a referenced table does not exist.
	ErrTableNotFound = errors.New("table not found")

	// ErrTableExists is returned when creating a table that already exists.
	ErrTableExists = errors.New("table already exists")
)

// ColumnRole classifies a column within a metric table.
type ColumnRole uint8

const (
	RoleTime ColumnRole = iota
	RoleTag
	RoleField
)

// ColumnDef declares a field column and its storage kind.
type ColumnDef struct {
	Name string
	Kind value.Kind
}

// TableSchema is the immutable definition of one metric table: a designated
// TIME column, string-typed TAG columns, typed FIELD columns and a TTL.
// TTL zero means rows never expire.
type TableSchema struct {
	Name         string
	TimeColumn   string
	TagColumns   []string
	FieldColumns []ColumnDef
	TTL          time.Duration
}

// Column resolves a column name to its role and declared kind.
// TAG columns are always STRING; the TIME column is always TIMESTAMP.
func (s *TableSchema) Column(name string) (ColumnRole, value.Kind, bool) {
	if name == s.TimeColumn {
		return RoleTime, value.KindTimestamp, true
	}
	for _, t := range s.TagColumns {
		if t == name {
			return RoleTag, value.KindString, true
		}
	}
	for _, f := range s.FieldColumns {
		if f.Name == name {
			return RoleField, f.Kind, true
		}
	}
	return 0, value.KindNull, false
}

// Columns returns all declared column names in schema order:
// time, tags, fields.
func (s *TableSchema) Columns() []string {
	out := make([]string, 0, 1+len(s.TagColumns)+len(s.FieldColumns))
	out = append(out, s.TimeColumn)
	out = append(out, s.TagColumns...)
	for _, f := range s.FieldColumns {
		out = append(out, f.Name)
	}
	return out
}

// catalogVersion is one immutable snapshot of the table map. Queries hold a
// version for their whole execution and never observe DDL applied after
// they started.
type catalogVersion struct {
	tables map[string]*TableSchema
}

// Catalog holds table definitions behind copy-on-write snapshots. Lookups
// are lock-free; mutations (the programmatic residue of the DDL surface)
// serialize on a mutex and publish a fresh version atomically.
type Catalog struct {
	mu      sync.Mutex
	current atomic.Pointer[catalogVersion]
	logger  zerolog.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger zerolog.Logger) *Catalog {
	c := &Catalog{
		logger: logger.With().Str("component", "catalog").Logger(),
	}
	c.current.Store(&catalogVersion{tables: map[string]*TableSchema{}})
	return c
}

// Lookup resolves a table name against the current snapshot.
func (c *Catalog) Lookup(name string) (*TableSchema, error) {
	v := c.current.Load()
	t, ok := v.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return t, nil
}

// Tables returns the names of all tables in the current snapshot.
func (c *Catalog) Tables() []string {
	v := c.current.Load()
	out := make([]string, 0, len(v.tables))
	for name := range v.tables {
		out = append(out, name)
	}
	return out
}

// CreateTable registers a new table definition.
func (c *Catalog) CreateTable(t *TableSchema) error {
	if err := validate(t); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current.Load()
	if _, ok := old.tables[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrTableExists, t.Name)
	}
	c.publish(old, func(tables map[string]*TableSchema) {
		tables[t.Name] = t
	})

	c.logger.Info().
		Str("table", t.Name).
		Int("tags", len(t.TagColumns)).
		Int("fields", len(t.FieldColumns)).
		Dur("ttl", t.TTL).
		Msg("Table created")
	return nil
}

// DropTable removes a table definition. Dropping a missing table is an error.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current.Load()
	if _, ok := old.tables[name]; !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	c.publish(old, func(tables map[string]*TableSchema) {
		delete(tables, name)
	})

	c.logger.Info().Str("table", name).Msg("Table dropped")
	return nil
}

// SetTTL replaces a table's retention duration.
func (c *Catalog) SetTTL(name string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current.Load()
	t, ok := old.tables[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	updated := *t
	updated.TTL = ttl
	c.publish(old, func(tables map[string]*TableSchema) {
		tables[name] = &updated
	})

	c.logger.Info().Str("table", name).Dur("ttl", ttl).Msg("TTL updated")
	return nil
}

// publish copies the table map, applies mutate and stores the new version.
// Must be called with mu held.
func (c *Catalog) publish(old *catalogVersion, mutate func(map[string]*TableSchema)) {
	tables := make(map[string]*TableSchema, len(old.tables)+1)
	for k, v := range old.tables {
		tables[k] = v
	}
	mutate(tables)
	c.current.Store(&catalogVersion{tables: tables})
}

func validate(t *TableSchema) error {
	if t.Name == "" {
		return errors.New("table name must not be empty")
	}
	if t.TimeColumn == "" {
		return fmt.Errorf("table %s: time column must be declared", t.Name)
	}
	seen := map[string]bool{t.TimeColumn: true}
	for _, tag := range t.TagColumns {
		if seen[tag] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, tag)
		}
		seen[tag] = true
	}
	for _, f := range t.FieldColumns {
		if seen[f.Name] {
			return fmt.Errorf("table %s: duplicate column %s", t.Name, f.Name)
		}
		if f.Kind == value.KindNull || f.Kind == value.KindTimestamp {
			return fmt.Errorf("table %s: field %s has invalid kind %s", t.Name, f.Name, f.Kind)
		}
		seen[f.Name] = true
	}
	if t.TTL < 0 {
		return fmt.Errorf("table %s: negative TTL", t.Name)
	}
	return nil
}
