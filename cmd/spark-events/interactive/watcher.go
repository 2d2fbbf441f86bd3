package interactive

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/phuongtg/spark-cloud-go/pkg/cloud"
	"github.com/phuongtg/spark-cloud-go/pkg/errors"
	"github.com/phuongtg/spark-cloud-go/pkg/persistence"
	"github.com/phuongtg/spark-cloud-go/pkg/subscription"
	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// Router is the part of *cloud.Router the command line drives.
type Router interface {
	Subscribe(scope wire.Scope, prefix string, handler subscription.Handler) (subscription.Handle, error)
	Unsubscribe(h subscription.Handle)
	Publish(ctx context.Context, name, data string, private bool, ttl uint32) error
	Stats() cloud.Stats
	Subscriptions() []cloud.SubscriptionInfo
}

// Watch is one subscription made from the command line.
type Watch struct {
	ID        int
	Handle    subscription.Handle
	Scope     wire.Scope
	Prefix    string
	CreatedAt time.Time
}

// Watcher owns the command line's subscriptions, prints the events they
// receive and keeps the watch file in sync.
type Watcher struct {
	router Router
	store  *persistence.WatchStore

	mu      sync.Mutex
	watches []Watch
	nextID  int
	ended   map[int]bool // terminated before Subscribe returned

	outMu sync.Mutex
	out   io.Writer
	now   func() time.Time
}

// NewWatcher creates a watcher printing to out. store may be nil.
func NewWatcher(router Router, store *persistence.WatchStore, out io.Writer) *Watcher {
	return &Watcher{
		router: router,
		store:  store,
		out:    out,
		now:    time.Now,
		ended:  make(map[int]bool),
	}
}

// SetOutput redirects event output, e.g. to a readline-managed writer.
func (w *Watcher) SetOutput(out io.Writer) {
	w.outMu.Lock()
	w.out = out
	w.outMu.Unlock()
}

// Watch subscribes to scope and returns the new watch id.
func (w *Watcher) Watch(scope wire.Scope, prefix string) (int, error) {
	return w.watch(scope, prefix, w.now(), true)
}

func (w *Watcher) watch(scope wire.Scope, prefix string, created time.Time, save bool) (int, error) {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	w.mu.Unlock()

	h, err := w.router.Subscribe(scope, prefix, w.handler(id, scope))
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	if w.ended[id] {
		delete(w.ended, id)
		w.mu.Unlock()
		return id, nil
	}
	w.watches = append(w.watches, Watch{
		ID:        id,
		Handle:    h,
		Scope:     scope,
		Prefix:    prefix,
		CreatedAt: created,
	})
	w.mu.Unlock()

	if save {
		w.save()
	}
	return id, nil
}

// Unwatch removes the watch with the given id.
func (w *Watcher) Unwatch(id int) error {
	w.mu.Lock()
	idx := w.indexLocked(id)
	if idx < 0 {
		w.mu.Unlock()
		return fmt.Errorf("no watch #%d", id)
	}
	h := w.watches[idx].Handle
	w.watches = append(w.watches[:idx], w.watches[idx+1:]...)
	w.mu.Unlock()

	w.router.Unsubscribe(h)
	w.save()
	return nil
}

// Watches returns the active watches in creation order.
func (w *Watcher) Watches() []Watch {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Watch(nil), w.watches...)
}

// Restore re-creates the watches saved in the store. It returns the number
// restored; invalid entries are skipped and reported.
func (w *Watcher) Restore() (int, error) {
	if w.store == nil {
		return 0, nil
	}
	state, err := w.store.Load()
	if err != nil {
		return 0, fmt.Errorf("load watch state: %w", err)
	}
	if state == nil {
		return 0, nil
	}

	restored := 0
	for _, saved := range state.Subscriptions {
		scope, err := wire.ParseScope(saved.Scope)
		if err != nil {
			w.printf("skipping saved watch %q: %v\n", saved.Scope, err)
			continue
		}
		if _, err := w.watch(scope, saved.Prefix, saved.CreatedAt, false); err != nil {
			w.printf("skipping saved watch %s: %v\n", saved.Scope, err)
			continue
		}
		restored++
	}
	return restored, nil
}

// save writes the current watches to the store.
func (w *Watcher) save() {
	if w.store == nil {
		return
	}
	w.mu.Lock()
	state := &persistence.WatchState{}
	for _, wt := range w.watches {
		state.Subscriptions = append(state.Subscriptions, persistence.SavedSubscription{
			Scope:     wt.Scope.String(),
			Prefix:    wt.Prefix,
			CreatedAt: wt.CreatedAt,
		})
	}
	w.mu.Unlock()

	if err := w.store.Save(state); err != nil {
		w.printf("failed to save watches: %v\n", err)
	}
}

func (w *Watcher) handler(id int, scope wire.Scope) subscription.Handler {
	return func(ev wire.Event, err error) {
		if err == nil {
			w.printf("%s\n", formatEvent(id, scope, ev))
			return
		}
		if errors.Is(err, errors.ErrAuth) {
			// The router has already dropped the subscription. The watch
			// file is left alone so a restart with a fresh token restores it.
			w.forget(id)
			w.printf("[#%d %s] subscription ended: %v\n", id, scope, err)
			return
		}
		w.printf("[#%d %s] %v\n", id, scope, err)
	}
}

func (w *Watcher) forget(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if idx := w.indexLocked(id); idx >= 0 {
		w.watches = append(w.watches[:idx], w.watches[idx+1:]...)
		return
	}
	w.ended[id] = true
}

func (w *Watcher) indexLocked(id int) int {
	for i, wt := range w.watches {
		if wt.ID == id {
			return i
		}
	}
	return -1
}

func (w *Watcher) printf(format string, args ...any) {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	fmt.Fprintf(w.out, format, args...)
}

// formatEvent renders one received event on a single line.
func formatEvent(id int, scope wire.Scope, ev wire.Event) string {
	line := fmt.Sprintf("[#%d %s] %s %s", id, scope, ev.PublishedAt.UTC().Format(time.RFC3339), ev.Name)
	if ev.Data != "" {
		line += " = " + ev.Data
	}
	if ev.DeviceID != "" {
		line += " (device " + ev.DeviceID + ")"
	}
	return line
}
