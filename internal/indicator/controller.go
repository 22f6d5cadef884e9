// Package indicator decides when to show the offline notification.
//
// The Controller listens to the connectivity detector and the application
// lifecycle. It shows a notification while the connection is not
// validated and the focused tab is eligible, waits for a loading tab to
// settle first, and suppresses repeats until the connection has been
// stable for a configurable time. All methods run on the loop.
package indicator

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"offlinewatch/internal/browser"
	"offlinewatch/internal/loop"
	"offlinewatch/internal/models"
	"offlinewatch/internal/monitor"
)

const (
	// DefaultStableOfflineWait is how long the connection must stay online
	// before the indicator may reappear.
	DefaultStableOfflineWait = 20 * time.Second
	// DefaultDuration is how long the notification stays on screen.
	DefaultDuration = 10 * time.Second

	defaultTitle       = "You're offline"
	defaultActionLabel = "View offline content"
	offlineIcon        = "offline_pin"
)

// Detector is the part of the connectivity detector the controller uses.
type Detector interface {
	State() models.ConnectionState
	Detect()
	Subscribe(monitor.Observer) func()
}

// Options configures a Controller.
type Options struct {
	// BottomIndicator renders at the bottom instead of the top.
	BottomIndicator bool
	// StableOfflineWait is the minimum time online before the indicator
	// may be shown again after it was shown once since resume.
	StableOfflineWait time.Duration
	Duration          time.Duration
	Title             string
	ActionLabel       string
	// OpenOfflineContent runs when the user taps the action.
	OpenOfflineContent func()
	// Events receives every show, hide, click and dismiss.
	Events func(models.IndicatorEvent)
	Store  StateStore
	Now    func() time.Time
}

// Controller owns the indicator visibility state.
type Controller struct {
	loop      *loop.Loop
	detector  Detector
	app       browser.Application
	presenter Presenter
	recorder  Recorder
	opts      Options
	logger    *zap.Logger

	showing          bool
	notificationID   string
	shownSinceResume bool
	online           bool
	lastOnline       time.Time

	observedActivityID string
	observedTab        browser.Tab
	tabObserver        *tabLoadObserver

	detachers []func()
}

// New creates a controller. Call Attach on the loop to start receiving
// events.
func New(
	l *loop.Loop,
	detector Detector,
	app browser.Application,
	presenter Presenter,
	recorder Recorder,
	opts Options,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.StableOfflineWait < 0 {
		opts.StableOfflineWait = DefaultStableOfflineWait
	}
	if opts.Title == "" {
		opts.Title = defaultTitle
	}
	if opts.ActionLabel == "" {
		opts.ActionLabel = defaultActionLabel
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		loop:      l,
		detector:  detector,
		app:       app,
		presenter: presenter,
		recorder:  recorder,
		opts:      opts,
		logger:    logger.Named("indicator"),
	}
	if opts.Store != nil {
		state, err := opts.Store.LoadIndicatorState()
		if err != nil {
			c.logger.Warn("load indicator state", zap.Error(err))
		} else {
			c.lastOnline = state.LastOnlineAt
		}
	}
	return c
}

// Attach subscribes to the detector and the application lifecycle.
func (c *Controller) Attach() {
	if len(c.detachers) > 0 {
		return
	}
	c.detachers = append(c.detachers,
		c.detector.Subscribe(monitor.ObserverFunc(c.OnConnectionStateChanged)),
		c.app.AddStateListener(c.OnApplicationStateChanged),
	)
}

// Detach drops every subscription, including a pending tab observer.
func (c *Controller) Detach() {
	for _, detach := range c.detachers {
		detach()
	}
	c.detachers = nil
	c.stopObservingTab()
}

// OnConnectionStateChanged reacts to detector transitions.
func (c *Controller) OnConnectionStateChanged(state models.ConnectionState) {
	if state == models.ConnectionStateNone {
		return
	}
	c.update(state == models.ConnectionStateValidated)
}

// OnApplicationStateChanged re-detects connectivity when the application
// returns to the foreground.
func (c *Controller) OnApplicationStateChanged(state browser.ApplicationState) {
	if state != browser.ApplicationStateHasRunningActivities {
		return
	}
	c.shownSinceResume = false
	c.detector.Detect()
	c.update(c.detector.State() == models.ConnectionStateValidated)
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() models.IndicatorStatus {
	status := models.IndicatorStatus{
		Showing:             c.showing,
		ShownSinceResume:    c.shownSinceResume,
		Online:              c.online,
		LastOnlineAt:        c.lastOnline,
		ConnectionState:     c.detector.State(),
		WaitingForTabLoad:   c.tabObserver != nil,
		StableOfflineWait:   c.opts.StableOfflineWait.String(),
		UsesTopPresentation: !c.opts.BottomIndicator,
	}
	if c.showing {
		status.NotificationID = c.notificationID
	}
	return status
}

func (c *Controller) update(isOnline bool) {
	if isOnline != c.online {
		if isOnline {
			c.lastOnline = c.opts.Now()
			c.persist()
		}
		c.online = isOnline
	}

	if c.app.State() != browser.ApplicationStateHasRunningActivities {
		return
	}
	activity := c.app.FocusedActivity()
	if activity == nil {
		return
	}

	if isOnline {
		c.hide()
	} else {
		c.show(activity)
	}
}

func (c *Controller) canShow(activity browser.Activity) bool {
	tab := activity.ActiveTab()
	if tab == nil {
		return false
	}
	if tab.IsShowingErrorPage() || tab.IsOfflinePage() {
		return false
	}
	return tab.URL() != browser.AboutBlankURL
}

// delayIfLoading reports whether showing must wait for the active tab to
// finish loading. At most one tab observer is registered per activity.
func (c *Controller) delayIfLoading(activity browser.Activity) bool {
	tab := activity.ActiveTab()
	if tab == nil || !tab.IsLoading() {
		return false
	}
	if c.observedActivityID == activity.ID() {
		return true
	}

	c.stopObservingTab()
	c.observedActivityID = activity.ID()
	c.observedTab = tab
	c.tabObserver = &tabLoadObserver{c: c}
	tab.AddObserver(c.tabObserver)
	c.logger.Debug("tab loading, delaying indicator", zap.String("tab", tab.ID()))
	return true
}

func (c *Controller) stopObservingTab() {
	if c.observedTab != nil && c.tabObserver != nil {
		c.observedTab.RemoveObserver(c.tabObserver)
	}
	c.observedActivityID = ""
	c.observedTab = nil
	c.tabObserver = nil
}

func (c *Controller) show(activity browser.Activity) {
	if c.showing || !c.canShow(activity) {
		return
	}
	if c.delayIfLoading(activity) {
		return
	}

	// After the first showing since resume, only show again once the
	// connection had been online for the stable wait.
	if c.shownSinceResume && c.opts.Now().Sub(c.lastOnline) < c.opts.StableOfflineWait {
		c.logger.Debug("indicator suppressed, connection not stable")
		return
	}

	id := uuid.NewString()
	position := PositionTop
	if c.opts.BottomIndicator {
		position = PositionBottom
	}
	n := Notification{
		ID:          id,
		Title:       c.opts.Title,
		ActionLabel: c.opts.ActionLabel,
		Icon:        offlineIcon,
		Position:    position,
		Duration:    c.opts.Duration,
		SingleLine:  true,
		OnAction:    func() { c.loop.Post(func() { c.onAction(id) }) },
		OnDismiss:   func() { c.loop.Post(func() { c.onDismissNoAction(id) }) },
	}
	if err := c.presenter.Show(n); err != nil {
		c.logger.Warn("show indicator", zap.Error(err))
		return
	}

	c.recorder.RecordCTR(models.CTRDisplayed)
	c.showing = true
	c.shownSinceResume = true
	c.notificationID = id
	c.logger.Info("offline indicator shown", zap.String("id", id), zap.String("position", string(position)))
	c.emit(models.IndicatorShown, id)
}

func (c *Controller) hide() {
	if !c.showing {
		return
	}
	if err := c.presenter.Dismiss(c.notificationID); err != nil {
		c.logger.Warn("dismiss indicator", zap.Error(err))
	}
	c.showing = false
	c.logger.Info("offline indicator hidden", zap.String("id", c.notificationID))
	c.emit(models.IndicatorHidden, c.notificationID)
}

func (c *Controller) onAction(id string) {
	if !c.showing || id != c.notificationID {
		return
	}
	c.showing = false
	if c.opts.OpenOfflineContent != nil {
		c.opts.OpenOfflineContent()
	}
	c.recorder.RecordCTR(models.CTRClicked)
	c.emit(models.IndicatorClicked, id)
}

func (c *Controller) onDismissNoAction(id string) {
	if !c.showing || id != c.notificationID {
		return
	}
	c.showing = false
	c.emit(models.IndicatorDismissed, id)
}

func (c *Controller) persist() {
	if c.opts.Store == nil {
		return
	}
	if err := c.opts.Store.SaveIndicatorState(models.IndicatorState{LastOnlineAt: c.lastOnline}); err != nil {
		c.logger.Warn("save indicator state", zap.Error(err))
	}
}

func (c *Controller) emit(kind models.IndicatorEventKind, id string) {
	if c.opts.Events == nil {
		return
	}
	c.opts.Events(models.IndicatorEvent{
		Kind:           kind,
		NotificationID: id,
		At:             c.opts.Now().UTC(),
	})
}

// tabLoadObserver re-runs the update once the observed tab settles.
type tabLoadObserver struct {
	c *Controller
}

func (o *tabLoadObserver) OnLoadStopped(tab browser.Tab, _ bool) { o.finish(tab) }
func (o *tabLoadObserver) OnHidden(tab browser.Tab)              { o.finish(tab) }
func (o *tabLoadObserver) OnDestroyed(tab browser.Tab)           { o.finish(tab) }

func (o *tabLoadObserver) finish(tab browser.Tab) {
	c := o.c
	tab.RemoveObserver(o)
	if c.tabObserver == o {
		c.observedActivityID = ""
		c.observedTab = nil
		c.tabObserver = nil
	}
	c.update(c.detector.State() == models.ConnectionStateValidated)
}
