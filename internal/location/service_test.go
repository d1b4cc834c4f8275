package location

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hestia/backend/internal/events"
	"github.com/hestia/backend/internal/models"
	"github.com/hestia/backend/internal/pictures"
	"github.com/hestia/backend/internal/repositories"
)

type stubStore struct {
	settings    map[string]models.LocationSetting
	samples     map[string]models.LocationSample
	visible     []models.VisibleLocation
	visibleAt   time.Time
	permissions map[[2]string]bool
	notes       []models.Notification

	upsertErr  error
	replaceErr error
}

func newStubStore() *stubStore {
	return &stubStore{
		settings:    make(map[string]models.LocationSetting),
		samples:     make(map[string]models.LocationSample),
		permissions: make(map[[2]string]bool),
	}
}

func (s *stubStore) UpsertSettings(_ context.Context, setting models.LocationSetting) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.settings[setting.Username] = setting
	if !setting.IsEnabled {
		delete(s.samples, setting.Username)
	}
	return nil
}

func (s *stubStore) FindSettings(_ context.Context, username string) (models.LocationSetting, error) {
	setting, ok := s.settings[username]
	if !ok {
		return models.LocationSetting{}, repositories.ErrNotFound
	}
	return setting, nil
}

func (s *stubStore) ReplaceSample(_ context.Context, sample models.LocationSample) error {
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.samples[sample.Username] = sample
	return nil
}

func (s *stubStore) VisibleLocations(_ context.Context, _ string, now time.Time) ([]models.VisibleLocation, error) {
	s.visibleAt = now
	return s.visible, nil
}

func (s *stubStore) RequestPermission(_ context.Context, p models.LocationPermission, note models.Notification) error {
	key := [2]string{p.Requester, p.Target}
	s.permissions[key] = s.permissions[key] || p.IsApproved
	s.notes = append(s.notes, note)
	return nil
}

func (s *stubStore) RespondPermission(_ context.Context, p models.LocationPermission, note models.Notification) error {
	key := [2]string{p.Requester, p.Target}
	if _, ok := s.permissions[key]; !ok {
		return repositories.ErrNotFound
	}
	if p.IsApproved {
		s.permissions[key] = true
	} else {
		delete(s.permissions, key)
	}
	s.notes = append(s.notes, note)
	return nil
}

func (s *stubStore) DeletePermission(_ context.Context, requester, target string) error {
	delete(s.permissions, [2]string{requester, target})
	return nil
}

type stubConnections map[[2]string]bool

func (c stubConnections) AreConnected(_ context.Context, left, right string) (bool, error) {
	a, b := models.OrderedPair(left, right)
	return c[[2]string{a, b}], nil
}

type stubPictures map[string]pictures.Picture

func (p stubPictures) Load(_ context.Context, username string) (pictures.Picture, error) {
	picture, ok := p[username]
	if !ok {
		return pictures.Picture{}, pictures.ErrNotFound
	}
	return picture, nil
}

type recordingEmitter struct {
	types []string
}

func (r *recordingEmitter) Emit(_ context.Context, eventType string, _ any) error {
	r.types = append(r.types, eventType)
	return nil
}

var fixedNow = time.Date(2024, time.July, 4, 15, 0, 0, 0, time.UTC)

func newTestService(store *stubStore) (*Service, *recordingEmitter) {
	emitter := &recordingEmitter{}
	conns := stubConnections{{"alice", "bob"}: true}
	pics := stubPictures{"bob": {Data: []byte("bob-pic"), ContentType: "image/png"}}
	svc := NewService(store, conns, pics, emitter)
	svc.NowFunc = func() time.Time { return fixedNow }
	return svc, emitter
}

func floatPtr(v float64) *float64 { return &v }

func TestUpdateSettings(t *testing.T) {
	store := newStubStore()
	svc, emitter := newTestService(store)

	setting, err := svc.UpdateSettings(context.Background(), "bob", SettingsUpdate{IsEnabled: true, SharingMode: "always"})
	require.NoError(t, err)
	require.Equal(t, models.SharingModeAlways, setting.SharingMode)
	require.Nil(t, setting.SharingUntil)
	require.Equal(t, setting, store.settings["bob"])
	require.Equal(t, []string{events.LocationSettingsUpdated}, emitter.types)
}

func TestUpdateSettingsTimed(t *testing.T) {
	store := newStubStore()
	svc, _ := newTestService(store)

	until := fixedNow.Add(time.Hour)
	setting, err := svc.UpdateSettings(context.Background(), "bob", SettingsUpdate{IsEnabled: true, SharingMode: "timed", SharingUntil: &until})
	require.NoError(t, err)
	require.Equal(t, models.SharingModeTimed, setting.SharingMode)
	require.Equal(t, until, *setting.SharingUntil)

	past := fixedNow.Add(-time.Minute)
	_, err = svc.UpdateSettings(context.Background(), "bob", SettingsUpdate{IsEnabled: true, SharingMode: "timed", SharingUntil: &past})
	require.ErrorIs(t, err, ErrInvalidSharingMode)

}

func TestUpdateSettingsTimedDefaultsWindow(t *testing.T) {
	store := newStubStore()
	svc, _ := newTestService(store)

	setting, err := svc.UpdateSettings(context.Background(), "bob", SettingsUpdate{IsEnabled: true, SharingMode: "timed"})
	require.NoError(t, err)
	require.Equal(t, models.SharingModeTimed, setting.SharingMode)
	require.NotNil(t, setting.SharingUntil)
	require.Equal(t, fixedNow.Add(DefaultTimedWindow), *setting.SharingUntil)

	svc.TimedWindow = 15 * time.Minute
	setting, err = svc.UpdateSettings(context.Background(), "bob", SettingsUpdate{IsEnabled: true, SharingMode: "timed"})
	require.NoError(t, err)
	require.Equal(t, fixedNow.Add(15*time.Minute), *store.settings["bob"].SharingUntil)
}

func TestUpdateSettingsDisableIgnoresMode(t *testing.T) {
	store := newStubStore()
	svc, _ := newTestService(store)

	setting, err := svc.UpdateSettings(context.Background(), "bob", SettingsUpdate{IsEnabled: false, SharingMode: "bogus"})
	require.NoError(t, err)
	require.False(t, setting.IsEnabled)
	require.Equal(t, models.SharingModeOff, setting.SharingMode)
	require.Nil(t, setting.SharingUntil)
}

func TestUpdateSettingsDropsUntilOutsideTimed(t *testing.T) {
	store := newStubStore()
	svc, _ := newTestService(store)

	until := fixedNow.Add(time.Hour)
	setting, err := svc.UpdateSettings(context.Background(), "bob", SettingsUpdate{IsEnabled: true, SharingMode: "always", SharingUntil: &until})
	require.NoError(t, err)
	require.Nil(t, setting.SharingUntil)
}

func TestUpdateSettingsDisableResetsModeAndDeletesSample(t *testing.T) {
	store := newStubStore()
	store.samples["bob"] = models.LocationSample{Username: "bob", Latitude: 1, Longitude: 2}
	svc, _ := newTestService(store)

	setting, err := svc.UpdateSettings(context.Background(), "bob", SettingsUpdate{IsEnabled: false, SharingMode: "always"})
	require.NoError(t, err)
	require.False(t, setting.IsEnabled)
	require.Equal(t, models.SharingModeOff, setting.SharingMode)
	require.NotContains(t, store.samples, "bob")
}

func TestUpdateSettingsValidation(t *testing.T) {
	store := newStubStore()
	svc, _ := newTestService(store)

	_, err := svc.UpdateSettings(context.Background(), "", SettingsUpdate{SharingMode: "off"})
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.UpdateSettings(context.Background(), "bob", SettingsUpdate{IsEnabled: true, SharingMode: "sometimes"})
	require.ErrorIs(t, err, ErrInvalidSharingMode)
	require.Empty(t, store.settings)
}

func TestUpdateSettingsStoreFailure(t *testing.T) {
	store := newStubStore()
	store.upsertErr = errors.New("db down")
	svc, emitter := newTestService(store)

	_, err := svc.UpdateSettings(context.Background(), "bob", SettingsUpdate{IsEnabled: true, SharingMode: "always"})
	require.ErrorContains(t, err, "db down")
	require.Empty(t, emitter.types)
}

func TestCurrentSettingsDefaults(t *testing.T) {
	store := newStubStore()
	svc, _ := newTestService(store)

	setting, err := svc.CurrentSettings(context.Background(), "carol")
	require.NoError(t, err)
	require.False(t, setting.IsEnabled)
	require.Equal(t, models.SharingModeOff, setting.SharingMode)

	_, err = svc.CurrentSettings(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCurrentSettingsReportsLapsedTimedState(t *testing.T) {
	store := newStubStore()
	expired := fixedNow.Add(-time.Hour)
	store.settings["bob"] = models.LocationSetting{Username: "bob", IsEnabled: true, SharingMode: models.SharingModeTimed, SharingUntil: &expired}
	svc, _ := newTestService(store)

	setting, err := svc.CurrentSettings(context.Background(), "bob")
	require.NoError(t, err)
	require.True(t, setting.IsEnabled)
	require.Equal(t, models.SharingModeTimed, setting.SharingMode)
}

func TestUpdateLocation(t *testing.T) {
	store := newStubStore()
	svc, emitter := newTestService(store)

	require.NoError(t, svc.UpdateLocation(context.Background(), "carol", 40.0, -73.0, floatPtr(5)))

	sample := store.samples["carol"]
	require.Equal(t, 40.0, sample.Latitude)
	require.Equal(t, -73.0, sample.Longitude)
	require.Equal(t, 5.0, *sample.Accuracy)
	require.Equal(t, fixedNow, sample.RecordedAt)
	require.Equal(t, []string{events.LocationUpdated}, emitter.types)
}

func TestUpdateLocationRejectsBeforeWriting(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		accuracy *float64
	}{
		{name: "latitude too high", lat: 91, lon: 0},
		{name: "latitude too low", lat: -90.5, lon: 0},
		{name: "longitude too high", lat: 0, lon: 200},
		{name: "longitude too low", lat: 0, lon: -180.01},
		{name: "nan latitude", lat: math.NaN(), lon: 0},
		{name: "infinite longitude", lat: 0, lon: math.Inf(1)},
		{name: "negative accuracy", lat: 0, lon: 0, accuracy: floatPtr(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStubStore()
			store.samples["carol"] = models.LocationSample{Username: "carol", Latitude: 1, Longitude: 1}
			svc, emitter := newTestService(store)

			err := svc.UpdateLocation(context.Background(), "carol", tt.lat, tt.lon, tt.accuracy)
			require.ErrorIs(t, err, ErrInvalidCoordinates)
			require.Equal(t, models.LocationSample{Username: "carol", Latitude: 1, Longitude: 1}, store.samples["carol"])
			require.Empty(t, emitter.types)
		})
	}
}

func TestUpdateLocationBoundariesAccepted(t *testing.T) {
	store := newStubStore()
	svc, _ := newTestService(store)

	require.NoError(t, svc.UpdateLocation(context.Background(), "carol", 90, -180, nil))
	require.NoError(t, svc.UpdateLocation(context.Background(), "carol", -90, 180, floatPtr(0)))
}

func TestUpdateLocationMapsConstraintViolation(t *testing.T) {
	store := newStubStore()
	store.replaceErr = repositories.ErrInvalid
	svc, _ := newTestService(store)

	err := svc.UpdateLocation(context.Background(), "carol", 10, 10, nil)
	require.ErrorIs(t, err, ErrInvalidCoordinates)

	require.ErrorIs(t, svc.UpdateLocation(context.Background(), "", 10, 10, nil), ErrUnauthenticated)
}

func TestConnectedLocationsAttachesPictures(t *testing.T) {
	store := newStubStore()
	store.visible = []models.VisibleLocation{
		{LocationSample: models.LocationSample{Username: "alice", Latitude: 1, Longitude: 2}, SharingMode: models.SharingModeAlways},
		{LocationSample: models.LocationSample{Username: "bob", Latitude: 3, Longitude: 4}, SharingMode: models.SharingModeTimed},
	}
	svc, _ := newTestService(store)

	locations, err := svc.ConnectedLocations(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, locations, 2)
	require.Equal(t, fixedNow, store.visibleAt)

	require.Nil(t, locations[0].ProfilePicture)
	require.NotNil(t, locations[1].ProfilePicture)
	require.Equal(t, "Ym9iLXBpYw==", *locations[1].ProfilePicture)
	require.Equal(t, models.SharingModeTimed, locations[1].SharingMode)

	_, err = svc.ConnectedLocations(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRequestAccess(t *testing.T) {
	store := newStubStore()
	svc, emitter := newTestService(store)

	require.NoError(t, svc.RequestAccess(context.Background(), "alice", "bob"))
	approved, ok := store.permissions[[2]string{"alice", "bob"}]
	require.True(t, ok)
	require.False(t, approved)
	require.Equal(t, models.ActionLocationRequest, store.notes[0].ActionType)
	require.Equal(t, "bob", store.notes[0].Recipient)
	require.Equal(t, []string{events.LocationAccessRequested}, emitter.types)

	require.ErrorIs(t, svc.RequestAccess(context.Background(), "alice", "dave"), ErrNotConnected)
	require.ErrorIs(t, svc.RequestAccess(context.Background(), "alice", "alice"), ErrInvalidTarget)
	require.ErrorIs(t, svc.RequestAccess(context.Background(), "", "bob"), ErrUnauthenticated)
}

func TestRespondAccess(t *testing.T) {
	store := newStubStore()
	svc, _ := newTestService(store)

	require.ErrorIs(t, svc.RespondAccess(context.Background(), "bob", "alice", true), ErrRequestNotFound)

	require.NoError(t, svc.RequestAccess(context.Background(), "alice", "bob"))
	require.NoError(t, svc.RespondAccess(context.Background(), "bob", "alice", true))
	require.True(t, store.permissions[[2]string{"alice", "bob"}])

	last := store.notes[len(store.notes)-1]
	require.Equal(t, "alice", last.Recipient)
	require.Equal(t, models.ActionLocationGranted, last.ActionType)

	require.NoError(t, svc.RespondAccess(context.Background(), "bob", "alice", false))
	require.NotContains(t, store.permissions, [2]string{"alice", "bob"})
	require.Equal(t, models.ActionLocationDeclined, store.notes[len(store.notes)-1].ActionType)

	require.ErrorIs(t, svc.RespondAccess(context.Background(), "bob", "bob", true), ErrInvalidTarget)
}

func TestRevokeAccess(t *testing.T) {
	store := newStubStore()
	store.permissions[[2]string{"alice", "bob"}] = true
	svc, emitter := newTestService(store)

	require.NoError(t, svc.RevokeAccess(context.Background(), "bob", "alice"))
	require.NoError(t, svc.RevokeAccess(context.Background(), "bob", "alice"))
	require.Empty(t, store.permissions)
	require.Equal(t, []string{events.LocationAccessRevoked, events.LocationAccessRevoked}, emitter.types)

	require.ErrorIs(t, svc.RevokeAccess(context.Background(), "bob", "bob"), ErrInvalidTarget)
}
