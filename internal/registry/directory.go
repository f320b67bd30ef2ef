// Package registry holds the staff registration directory: which location
// each staff member receives order notifications for.
package registry

import (
	"sort"
	"sync"

	"github.com/jcmexdev/order-approvals/internal/domain"
)

// Directory maps staff identities to their registered location. Last
// registration wins; entries never expire.
type Directory struct {
	mu      sync.RWMutex
	entries map[domain.StaffID]domain.RegistrationEntry
}

func NewDirectory() *Directory {
	return &Directory{entries: make(map[domain.StaffID]domain.RegistrationEntry)}
}

// Put creates or overwrites the entry for entry.StaffID.
func (d *Directory) Put(entry domain.RegistrationEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[entry.StaffID] = entry
}

func (d *Directory) Get(staff domain.StaffID) (domain.RegistrationEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[staff]
	return e, ok
}

// AtLocation returns a snapshot of the staff registered at locationID,
// ordered by staff id.
func (d *Directory) AtLocation(locationID int64) []domain.RegistrationEntry {
	d.mu.RLock()
	out := make([]domain.RegistrationEntry, 0)
	for _, e := range d.entries {
		if e.LocationID == locationID {
			out = append(out, e)
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StaffID < out[j].StaffID })
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
