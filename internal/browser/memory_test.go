package browser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	events []string
	tab    *MemoryTab
	once   bool
}

func (o *recordingObserver) OnLoadStopped(Tab, bool) { o.record("load_stopped") }
func (o *recordingObserver) OnHidden(Tab)            { o.record("hidden") }
func (o *recordingObserver) OnDestroyed(Tab)         { o.record("destroyed") }

func (o *recordingObserver) record(event string) {
	o.events = append(o.events, event)
	if o.once {
		o.tab.RemoveObserver(o)
	}
}

func TestTabObservers(t *testing.T) {
	tab := NewTab("https://example.com")
	obs := &recordingObserver{tab: tab}
	tab.AddObserver(obs)
	tab.AddObserver(obs)
	assert.Equal(t, 1, tab.ObserverCount())

	tab.StopLoading(true)
	assert.Empty(t, obs.events, "stop without a running load is silent")

	tab.StartLoading()
	assert.True(t, tab.IsLoading())
	tab.StopLoading(true)
	assert.False(t, tab.IsLoading())

	tab.Hide()
	tab.Destroy()
	assert.Equal(t, []string{"load_stopped", "hidden", "destroyed"}, obs.events)
	assert.Zero(t, tab.ObserverCount())
}

func TestTabObserverCanRemoveItselfDuringCallback(t *testing.T) {
	tab := NewTab("https://example.com")
	first := &recordingObserver{tab: tab, once: true}
	second := &recordingObserver{tab: tab}
	tab.AddObserver(first)
	tab.AddObserver(second)

	tab.Hide()
	tab.Hide()

	assert.Equal(t, []string{"hidden"}, first.events)
	assert.Equal(t, []string{"hidden", "hidden"}, second.events)
}

func TestActivityActiveTab(t *testing.T) {
	activity := NewActivity()
	assert.Nil(t, activity.ActiveTab())

	tab := NewTab(AboutBlankURL)
	activity.SetActiveTab(tab)
	require.NotNil(t, activity.ActiveTab())
	assert.Equal(t, tab.ID(), activity.ActiveTab().ID())

	activity.SetActiveTab(nil)
	assert.Nil(t, activity.ActiveTab())
}

func TestApplicationStateListeners(t *testing.T) {
	app := NewApplication(ApplicationStateHasStoppedActivities)
	assert.Nil(t, app.FocusedActivity())

	var got []ApplicationState
	remove := app.AddStateListener(func(s ApplicationState) { got = append(got, s) })

	app.SetState(ApplicationStateHasRunningActivities)
	app.SetState(ApplicationStateHasRunningActivities)
	app.SetState(ApplicationStateHasPausedActivities)
	remove()
	app.SetState(ApplicationStateHasRunningActivities)

	assert.Equal(t, []ApplicationState{
		ApplicationStateHasRunningActivities,
		ApplicationStateHasPausedActivities,
	}, got)
}

func TestParseApplicationState(t *testing.T) {
	tests := []struct {
		raw     string
		want    ApplicationState
		wantErr bool
	}{
		{raw: "running", want: ApplicationStateHasRunningActivities},
		{raw: " Foreground ", want: ApplicationStateHasRunningActivities},
		{raw: "paused", want: ApplicationStateHasPausedActivities},
		{raw: "background", want: ApplicationStateHasStoppedActivities},
		{raw: "destroyed", want: ApplicationStateHasDestroyedActivities},
		{raw: "sideways", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseApplicationState(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, raw string) ApplicationState {
	t.Helper()
	s, err := ParseApplicationState(raw)
	require.NoError(t, err)
	return s
}
