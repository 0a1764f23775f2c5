package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"import-tracker/internal/models"
)

func TestConcurrentChangesDeliveredInOrder(t *testing.T) {
	reg := newTestRegistry(t)

	var (
		mu      sync.Mutex
		seen    []models.Change
		entered = make(chan struct{})
		release = make(chan struct{})
	)
	reg.SubscribeAll(func(c models.Change) {
		mu.Lock()
		seen = append(seen, c)
		first := len(seen) == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	})

	done := make(chan struct{})
	go func() {
		reg.NewImport("db1")
		close(done)
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first delivery did not start")
	}

	// The first observer call is still blocked; this change must queue behind it
	reg.NewImport("db1")
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, "_new_0", seen[0].Info.ID)
	assert.Len(t, seen[0].All, 1)
	assert.Equal(t, "_new_1", seen[1].Info.ID)
	assert.Len(t, seen[1].All, 2)

	last := reg.LastChange("db1")
	require.NotNil(t, last)
	assert.Equal(t, last.ID, seen[len(seen)-1].ID)
}

func TestReentrantChangeDeliveredAfterCurrent(t *testing.T) {
	reg := newTestRegistry(t)

	var order []string
	reg.Subscribe("db1", func(c models.Change) {
		order = append(order, "first:"+c.Info.ID)
		if c.Info.ID == "_new_0" {
			reg.NewImport("db1")
		}
	})
	reg.Subscribe("db1", func(c models.Change) {
		order = append(order, "second:"+c.Info.ID)
	})

	reg.NewImport("db1")

	assert.Equal(t, []string{"first:_new_0", "second:_new_0", "first:_new_1", "second:_new_1"}, order)
}

func TestObserverPanicDoesNotBlockLaterDeliveries(t *testing.T) {
	reg := newTestRegistry(t)
	var calls int
	cancel := reg.Subscribe("db1", func(models.Change) { panic("observer failed") })
	reg.Subscribe("db1", func(models.Change) { calls++ })

	assert.Panics(t, func() { reg.NewImport("db1") })
	cancel()
	reg.NewImport("db1")

	assert.Equal(t, 1, calls)
}

func TestRemoveImportDropsWatchers(t *testing.T) {
	reg := newTestRegistry(t)
	var updates int
	reg.WatchImport("db1", "1", func(models.ImportInfo) { updates++ })

	reg.Update("db1", "1", models.ImportUpdate{Status: models.StatusPtr(models.StatusLoading)})
	reg.RemoveImport("db1", "1")
	reg.Update("db1", "1", models.ImportUpdate{Name: models.StringPtr("other.csv")})

	assert.Equal(t, 1, updates)
}
