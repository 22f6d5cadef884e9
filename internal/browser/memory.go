package browser

import "github.com/google/uuid"

// MemoryTab is an in-memory Tab driven by explicit setters.
type MemoryTab struct {
	id          string
	url         string
	errorPage   bool
	offlinePage bool
	loading     bool
	observers   []TabObserver
}

// NewTab creates an idle tab showing url.
func NewTab(url string) *MemoryTab {
	return &MemoryTab{id: uuid.NewString(), url: url}
}

func (t *MemoryTab) ID() string               { return t.id }
func (t *MemoryTab) URL() string              { return t.url }
func (t *MemoryTab) IsShowingErrorPage() bool { return t.errorPage }
func (t *MemoryTab) IsOfflinePage() bool      { return t.offlinePage }
func (t *MemoryTab) IsLoading() bool          { return t.loading }

// AddObserver registers o. Registering the same observer twice is a no-op.
func (t *MemoryTab) AddObserver(o TabObserver) {
	for _, existing := range t.observers {
		if existing == o {
			return
		}
	}
	t.observers = append(t.observers, o)
}

// RemoveObserver unregisters o.
func (t *MemoryTab) RemoveObserver(o TabObserver) {
	for i, existing := range t.observers {
		if existing == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// ObserverCount returns the number of registered observers.
func (t *MemoryTab) ObserverCount() int {
	return len(t.observers)
}

// SetURL changes the displayed URL.
func (t *MemoryTab) SetURL(url string) { t.url = url }

// SetErrorPage marks whether the tab shows a network error page.
func (t *MemoryTab) SetErrorPage(v bool) { t.errorPage = v }

// SetOfflinePage marks whether the tab shows a saved offline copy.
func (t *MemoryTab) SetOfflinePage(v bool) { t.offlinePage = v }

// StartLoading marks a navigation in progress.
func (t *MemoryTab) StartLoading() { t.loading = true }

// StopLoading ends a navigation and notifies observers if one was running.
func (t *MemoryTab) StopLoading(toDifferentDocument bool) {
	if !t.loading {
		return
	}
	t.loading = false
	for _, o := range t.snapshot() {
		o.OnLoadStopped(t, toDifferentDocument)
	}
}

// Hide notifies observers that the tab went to the background.
func (t *MemoryTab) Hide() {
	for _, o := range t.snapshot() {
		o.OnHidden(t)
	}
}

// Destroy notifies observers and drops them.
func (t *MemoryTab) Destroy() {
	for _, o := range t.snapshot() {
		o.OnDestroyed(t)
	}
	t.observers = nil
}

func (t *MemoryTab) snapshot() []TabObserver {
	out := make([]TabObserver, len(t.observers))
	copy(out, t.observers)
	return out
}

// MemoryActivity is an in-memory Activity.
type MemoryActivity struct {
	id  string
	tab Tab
}

// NewActivity creates an activity without a tab.
func NewActivity() *MemoryActivity {
	return &MemoryActivity{id: uuid.NewString()}
}

func (a *MemoryActivity) ID() string { return a.id }

// ActiveTab returns the active tab or nil.
func (a *MemoryActivity) ActiveTab() Tab {
	if a.tab == nil {
		return nil
	}
	return a.tab
}

// SetActiveTab replaces the active tab. Passing nil clears it.
func (a *MemoryActivity) SetActiveTab(tab *MemoryTab) {
	if tab == nil {
		a.tab = nil
		return
	}
	a.tab = tab
}

type stateListener struct {
	fn func(ApplicationState)
}

// MemoryApplication is an in-memory Application.
type MemoryApplication struct {
	state     ApplicationState
	focused   *MemoryActivity
	listeners []*stateListener
}

// NewApplication creates an application in the given state.
func NewApplication(state ApplicationState) *MemoryApplication {
	return &MemoryApplication{state: state}
}

func (a *MemoryApplication) State() ApplicationState { return a.state }

// FocusedActivity returns the last focused activity or nil.
func (a *MemoryApplication) FocusedActivity() Activity {
	if a.focused == nil {
		return nil
	}
	return a.focused
}

// SetFocusedActivity changes the focused activity. Passing nil clears it.
func (a *MemoryApplication) SetFocusedActivity(activity *MemoryActivity) {
	a.focused = activity
}

// SetState changes the lifecycle state and notifies listeners on change.
func (a *MemoryApplication) SetState(state ApplicationState) {
	if state == a.state {
		return
	}
	a.state = state
	listeners := make([]*stateListener, len(a.listeners))
	copy(listeners, a.listeners)
	for _, l := range listeners {
		l.fn(state)
	}
}

// AddStateListener registers fn and returns a function that removes it.
func (a *MemoryApplication) AddStateListener(fn func(ApplicationState)) func() {
	entry := &stateListener{fn: fn}
	a.listeners = append(a.listeners, entry)
	return func() {
		for i, l := range a.listeners {
			if l == entry {
				a.listeners = append(a.listeners[:i], a.listeners[i+1:]...)
				return
			}
		}
	}
}
