// Package registry keeps in-memory bookkeeping of file imports per database
// and notifies observers when imports are added or removed.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"import-tracker/internal/config"
	"import-tracker/internal/models"
)

// DefaultIDPrefix marks ids of imports created on the client before upload
const DefaultIDPrefix = "_new_"

// ChangeFunc receives add/remove notifications
type ChangeFunc = func(change models.Change)

// ImportFunc receives the merged record after every update
type ImportFunc = func(info models.ImportInfo)

type changeObserver struct {
	id string
	fn ChangeFunc
}

type importWatcher struct {
	id string
	fn ImportFunc
}

// delivery is one queued notification: either a change for observers or an
// updated record for watchers
type delivery struct {
	observers []changeObserver
	change    models.Change
	watchers  []importWatcher
	info      models.ImportInfo
}

// Database holds the imports of one database and its last change
type Database struct {
	reg      *Registry
	name     string
	imports  map[string]*models.ImportInfo
	order    []string // insertion order of imports
	last     *models.Change
	observer []changeObserver
	watchers map[string][]importWatcher
}

// Registry owns every per-database registry. Create one per process and pass
// it to the components that need it.
type Registry struct {
	mu        sync.Mutex
	databases map[string]*Database
	nextID    uint64
	idPrefix  string
	global    []changeObserver
	logger    *logrus.Logger

	// Notifications are queued under mu in the order the mutations happened
	// and delivered outside mu by a single draining caller at a time.
	pending  []delivery
	draining bool
}

// New creates a registry with the default id prefix
func New(logger *logrus.Logger) *Registry {
	return NewWithConfig(nil, logger)
}

// NewWithConfig creates a registry from configuration
func NewWithConfig(cfg *config.RegistryConfig, logger *logrus.Logger) *Registry {
	prefix := DefaultIDPrefix
	if cfg != nil && cfg.IDPrefix != "" {
		prefix = cfg.IDPrefix
	}
	return &Registry{
		databases: make(map[string]*Database),
		idPrefix:  prefix,
		logger:    logger,
	}
}

// Database returns the registry for db, creating it on first access
func (r *Registry) Database(db string) *Database {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.database(db)
}

func (r *Registry) database(db string) *Database {
	d, ok := r.databases[db]
	if !ok {
		d = &Database{
			reg:      r,
			name:     db,
			imports:  make(map[string]*models.ImportInfo),
			watchers: make(map[string][]importWatcher),
		}
		r.databases[db] = d
		r.logger.Debugf("Created import registry for database %s", db)
	}
	return d
}

// record returns the import for id, creating an idle one if it does not exist
func (d *Database) record(id string) *models.ImportInfo {
	info, ok := d.imports[id]
	if !ok {
		info = &models.ImportInfo{ID: id, Status: models.StatusIdle}
		d.imports[id] = info
		d.order = append(d.order, id)
	}
	return info
}

func (d *Database) snapshot() []models.ImportInfo {
	all := make([]models.ImportInfo, 0, len(d.order))
	for _, id := range d.order {
		all = append(all, d.imports[id].Clone())
	}
	return all
}

// delete drops the record and its watchers, so a later import reusing the id
// starts unwatched
func (d *Database) delete(id string) {
	delete(d.imports, id)
	delete(d.watchers, id)
	for i, existing := range d.order {
		if existing == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Name returns the database identifier
func (d *Database) Name() string {
	return d.name
}

// Len returns the number of imports currently tracked
func (d *Database) Len() int {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()
	return len(d.imports)
}

// Has reports whether an import with id is tracked
func (d *Database) Has(id string) bool {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()
	_, ok := d.imports[id]
	return ok
}

// Import returns the import record, creating it with status idle if needed
func (r *Registry) Import(db, id string) models.ImportInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.database(db).record(id).Clone()
}

// Update merges the supplied fields into the import record, creating the
// record first if needed. Watchers of the record are notified.
func (r *Registry) Update(db, id string, update models.ImportUpdate) models.ImportInfo {
	r.mu.Lock()
	d := r.database(db)
	info := d.record(id)
	*info = info.Merge(update)
	merged := info.Clone()
	if watchers := d.watchers[id]; len(watchers) > 0 {
		r.pending = append(r.pending, delivery{
			watchers: append([]importWatcher(nil), watchers...),
			info:     merged.Clone(),
		})
	}
	r.mu.Unlock()

	r.logger.Debugf("Updated import %s in %s (status: %s)", id, db, merged.Status)
	r.drain()
	return merged
}

// List returns a snapshot of every import in db. The result is never nil.
func (r *Registry) List(db string) []models.ImportInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.databases[db]
	if !ok {
		return []models.ImportInfo{}
	}
	return d.snapshot()
}

// NewImport allocates the next client-side id, creates its idle record and
// emits an added change.
func (r *Registry) NewImport(db string) models.ImportInfo {
	r.mu.Lock()
	d := r.database(db)
	var id string
	for {
		id = fmt.Sprintf("%s%d", r.idPrefix, r.nextID)
		r.nextID++
		if _, taken := d.imports[id]; !taken {
			break
		}
	}
	info := d.record(id).Clone()
	r.recordChange(d, models.ChangeAdded, &info)
	r.mu.Unlock()

	r.logger.Debugf("Created import %s in %s", id, db)
	r.drain()
	return info
}

// RemoveImport deletes the import and emits a removed change carrying its
// last value. Unknown databases are ignored.
func (r *Registry) RemoveImport(db, id string) {
	r.mu.Lock()
	d, ok := r.databases[db]
	if !ok {
		r.mu.Unlock()
		return
	}
	var removed *models.ImportInfo
	if info, found := d.imports[id]; found {
		c := info.Clone()
		removed = &c
		d.delete(id)
	}
	r.recordChange(d, models.ChangeRemoved, removed)
	r.mu.Unlock()

	r.logger.Debugf("Removed import %s from %s (found: %t)", id, db, removed != nil)
	r.drain()
}

// LastChange returns the most recent change for db, or nil if none occurred
func (r *Registry) LastChange(db string) *models.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.databases[db]
	if !ok || d.last == nil {
		return nil
	}
	c := copyChange(*d.last)
	return &c
}

// Databases returns the identifiers of every database created so far
func (r *Registry) Databases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.databases))
	for name := range r.databases {
		names = append(names, name)
	}
	return names
}

// recordChange stores the change as the database's last change and queues it
// for observers. Callers hold r.mu.
func (r *Registry) recordChange(d *Database, changeType models.ChangeType, info *models.ImportInfo) {
	change := models.Change{
		ID:        uuid.New().String(),
		Type:      changeType,
		Database:  d.name,
		Timestamp: time.Now().Unix(),
		Info:      info,
		All:       d.snapshot(),
	}
	stored := copyChange(change)
	d.last = &stored
	r.pending = append(r.pending, delivery{observers: r.observersFor(d), change: change})
}

// drain delivers queued notifications in order. When another call is
// already draining, including an observer calling back into the registry,
// it returns at once and the active drainer delivers the queued entries.
func (r *Registry) drain() {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return
	}
	r.draining = true

	for len(r.pending) > 0 {
		next := r.pending[0]
		r.pending[0] = delivery{}
		r.pending = r.pending[1:]
		r.mu.Unlock()

		r.deliver(next)

		r.mu.Lock()
	}
	r.draining = false
	r.mu.Unlock()
}

func (r *Registry) deliver(d delivery) {
	delivered := false
	defer func() {
		// an observer panic must not leave the queue without a drainer
		if !delivered {
			r.mu.Lock()
			r.draining = false
			r.mu.Unlock()
		}
	}()

	notify(d.observers, d.change)
	for _, w := range d.watchers {
		w.fn(d.info.Clone())
	}
	delivered = true
}

func (r *Registry) observersFor(d *Database) []changeObserver {
	observers := make([]changeObserver, 0, len(d.observer)+len(r.global))
	observers = append(observers, d.observer...)
	observers = append(observers, r.global...)
	return observers
}

func notify(observers []changeObserver, change models.Change) {
	if len(observers) == 0 {
		return
	}
	for _, o := range observers {
		o.fn(copyChange(change))
	}
}

func copyChange(c models.Change) models.Change {
	out := c
	if c.Info != nil {
		info := c.Info.Clone()
		out.Info = &info
	}
	out.All = make([]models.ImportInfo, len(c.All))
	for i, info := range c.All {
		out.All[i] = info.Clone()
	}
	if c.RawJSON != nil {
		out.RawJSON = append([]byte(nil), c.RawJSON...)
	}
	return out
}
