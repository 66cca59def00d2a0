package state

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/79B0Y/android-tv-box/internal/models"
)

func TestStore_InitialSnapshotIsUnknown(t *testing.T) {
	store := NewStore("com.linknlink.app.device.isg", zerolog.Nop())

	snapshot := store.Snapshot()

	assert.Equal(t, models.ConnectionDisconnected, snapshot.Connection)
	assert.False(t, snapshot.Available)
	assert.Equal(t, models.HealthUnknown, snapshot.Health.Status)
	assert.Equal(t, "com.linknlink.app.device.isg", snapshot.Health.Package)
}

func TestStore_ApplyMergesPatch(t *testing.T) {
	store := NewStore("", zerolog.Nop())
	require.NoError(t, store.Start())
	defer func() { require.NoError(t, store.Stop()) }()

	store.Apply(Patch{
		Source: "tier:fast",
		Apply: func(s *models.DeviceState) {
			s.VolumeLevel = 9
			s.MediaState = models.MediaStatePlaying
		},
	})

	require.Eventually(t, func() bool {
		return store.Snapshot().VolumeLevel == 9
	}, time.Second, 5*time.Millisecond)

	snapshot := store.Snapshot()
	assert.Equal(t, models.MediaStatePlaying, snapshot.MediaState)
	assert.False(t, snapshot.UpdatedAt.IsZero())
}

// A patch only touches its own fields; everything else survives.
func TestStore_PatchesAreTargeted(t *testing.T) {
	store := NewStore("", zerolog.Nop())
	require.NoError(t, store.Start())
	defer func() { require.NoError(t, store.Stop()) }()

	store.Apply(Patch{Source: "tier:fast", Apply: func(s *models.DeviceState) {
		s.VolumeLevel = 5
	}})
	store.Apply(Patch{Source: "tier:medium", Apply: func(s *models.DeviceState) {
		s.Brightness = 128
	}})

	require.Eventually(t, func() bool {
		return store.Snapshot().Brightness == 128
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 5, store.Snapshot().VolumeLevel)
}

func TestStore_SnapshotIsIsolatedFromStore(t *testing.T) {
	store := NewStore("", zerolog.Nop())
	require.NoError(t, store.Start())
	defer func() { require.NoError(t, store.Stop()) }()

	store.Apply(Patch{Source: "tier:slow", Apply: func(s *models.DeviceState) {
		s.InstalledApps = []string{"com.netflix.ninja"}
	}})

	require.Eventually(t, func() bool {
		return len(store.Snapshot().InstalledApps) == 1
	}, time.Second, 5*time.Millisecond)

	snapshot := store.Snapshot()
	snapshot.InstalledApps[0] = "mutated"
	snapshot.VolumeLevel = 99

	fresh := store.Snapshot()
	assert.Equal(t, "com.netflix.ninja", fresh.InstalledApps[0])
	assert.Zero(t, fresh.VolumeLevel)
}

func TestStore_SubscribersReceivePublishes(t *testing.T) {
	store := NewStore("", zerolog.Nop())
	require.NoError(t, store.Start())

	updates := store.Subscribe()

	store.Apply(Patch{Source: "tier:fast", Apply: func(s *models.DeviceState) {
		s.VolumeLevel = 3
	}})

	select {
	case snapshot := <-updates:
		assert.Equal(t, 3, snapshot.VolumeLevel)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}

	require.NoError(t, store.Stop())

	// Subscriber channels close on Stop.
	_, open := <-updates
	assert.False(t, open)
}

func TestStore_ApplyBeforeStartIsIgnored(t *testing.T) {
	store := NewStore("", zerolog.Nop())

	// Must not block or panic.
	store.Apply(Patch{Source: "tier:fast", Apply: func(s *models.DeviceState) {
		s.VolumeLevel = 1
	}})

	assert.Zero(t, store.Snapshot().VolumeLevel)
}
