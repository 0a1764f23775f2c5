package registry

import (
	"github.com/google/uuid"
)

// Subscribe registers fn for add/remove changes in db and returns a function
// that cancels the subscription. Observers run in the order they subscribed,
// after the change is visible through List, and see changes in the order the
// registry applied them. A change made while another delivery is running
// (from another goroutine or from inside an observer) is delivered by that
// running delivery once the observers before it return.
func (r *Registry) Subscribe(db string, fn ChangeFunc) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.database(db)
	id := uuid.New().String()
	d.observer = append(d.observer, changeObserver{id: id, fn: fn})
	r.logger.Debugf("New change subscription %s for database %s", id, db)

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		d.observer = removeObserver(d.observer, id)
	}
}

// SubscribeAll registers fn for changes in every database. It is called
// after the per-database observers of the affected database.
func (r *Registry) SubscribeAll(fn ChangeFunc) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	r.global = append(r.global, changeObserver{id: id, fn: fn})
	r.logger.Debugf("New change subscription %s for all databases", id)

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.global = removeObserver(r.global, id)
	}
}

// WatchImport registers fn to receive the record each time it is updated
func (r *Registry) WatchImport(db, id string, fn ImportFunc) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.database(db)
	watchID := uuid.New().String()
	d.watchers[id] = append(d.watchers[id], importWatcher{id: watchID, fn: fn})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		watchers := d.watchers[id]
		for i, w := range watchers {
			if w.id == watchID {
				watchers = append(watchers[:i:i], watchers[i+1:]...)
				break
			}
		}
		if len(watchers) == 0 {
			delete(d.watchers, id)
		} else {
			d.watchers[id] = watchers
		}
	}
}

// SubscriberCount returns the number of change observers for db, including
// observers of all databases
func (r *Registry) SubscriberCount(db string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.global)
	if d, ok := r.databases[db]; ok {
		n += len(d.observer)
	}
	return n
}

func removeObserver(observers []changeObserver, id string) []changeObserver {
	for i, o := range observers {
		if o.id == id {
			// copy so snapshots taken for in-flight notifications stay intact
			return append(observers[:i:i], observers[i+1:]...)
		}
	}
	return observers
}
