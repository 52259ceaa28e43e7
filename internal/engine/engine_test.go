package engine

import (
	"testing"
	"time"

	automerge "github.com/automerge/automerge-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/crdtdoc"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/metaindex"
)

func testEngine(t *testing.T) (*Engine, *fsabs.FakeFileSystem) {
	t.Helper()
	fs := fsabs.NewFakeFileSystem()
	clock := fsabs.NewFakeClock(time.UnixMilli(1700000000000))
	cfg := config.Default()
	cfg.PollInterval = time.Hour
	cfg.PresenceInterval = time.Hour

	id := Identity{Profile: "p1", Instance: "local", Hostname: "host", Platform: "linux"}
	e, err := New(fs, clock, cfg, id, metaindex.NewMemStore())
	require.NoError(t, err)
	t.Cleanup(e.Stop)
	return e, fs
}

func TestRegisterSDWritesIdentityFiles(t *testing.T) {
	e, fs := testEngine(t)
	sdID, err := e.RegisterSD("/sd")
	require.NoError(t, err)
	assert.NotEmpty(t, sdID)

	_, err = fs.ReadFile("/sd/SD_ID")
	assert.NoError(t, err, "SD_ID should have been written")
	_, err = fs.ReadFile("/sd/profiles/p1.json")
	assert.NoError(t, err, "presence file should have been written")

	sdID2, err := e.RegisterSD("/sd")
	require.NoError(t, err)
	assert.Equal(t, sdID, sdID2, "re-registering the same SD path should return the same id")
}

func TestApplyLocalUpdateRequiresKnownNote(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.RegisterSD("/sd")
	require.NoError(t, err)

	_, err = e.ApplyLocalUpdate("n1", []byte("x"))
	assert.Error(t, err, "expected an error applying an update to a note engine has never heard of")

	e.CreateNote("/sd", "n1")
	seq, err := e.ApplyLocalUpdate("n1", mutation(t, "title", "hello"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestReadStateReflectsAppliedUpdate(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.RegisterSD("/sd")
	require.NoError(t, err)
	e.CreateNote("/sd", "n1")

	_, err = e.ApplyLocalUpdate("n1", mutation(t, "title", "hello"))
	require.NoError(t, err)

	state, err := e.ReadState("n1")
	require.NoError(t, err)
	assert.NotEmpty(t, state)
}

func TestObserveStateFiresOnLocalUpdate(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.RegisterSD("/sd")
	require.NoError(t, err)
	e.CreateNote("/sd", "n1")

	fired := make(chan struct{}, 1)
	sub, err := e.ObserveState("n1", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer e.UnobserveState("n1", sub)

	_, err = e.ApplyLocalUpdate("n1", mutation(t, "title", "hello"))
	require.NoError(t, err)

	select {
	case <-fired:
	default:
		t.Error("expected the observer to have fired after ApplyLocalUpdate")
	}
}

func TestCreateSnapshotThenForceReloadMatches(t *testing.T) {
	e, _ := testEngine(t)
	_, err := e.RegisterSD("/sd")
	require.NoError(t, err)
	e.CreateNote("/sd", "n1")

	_, err = e.ApplyLocalUpdate("n1", mutation(t, "title", "hello"))
	require.NoError(t, err)

	before, err := e.ReadState("n1")
	require.NoError(t, err)

	require.NoError(t, e.CreateSnapshot("n1"))
	require.NoError(t, e.ForceReloadFromLogs("n1"))

	after, err := e.ReadState("n1")
	require.NoError(t, err)
	assert.Equal(t, before, after, "state should not diverge across a snapshot + force reload round trip")
}

func TestUnregisterSDDropsNoteMapping(t *testing.T) {
	e, _ := testEngine(t)
	sdID, err := e.RegisterSD("/sd")
	require.NoError(t, err)
	e.CreateNote("/sd", "n1")

	require.NoError(t, e.UnregisterSD(sdID))

	_, err = e.ApplyLocalUpdate("n1", mutation(t, "title", "hello"))
	assert.Error(t, err, "apply_local_update should fail for a note whose SD was unregistered")

	err = e.UnregisterSD(sdID)
	assert.Error(t, err, "unregistering an already-unregistered sd id should fail")
}

func TestGetStaleSyncsStartsEmpty(t *testing.T) {
	e, _ := testEngine(t)
	assert.Empty(t, e.GetStaleSyncs())
}

func mutation(t *testing.T, key, value string) []byte {
	t.Helper()
	payload, err := crdtdoc.New().Mutate("set "+key, func(root *automerge.Map) error {
		return root.Set(key, value)
	})
	require.NoError(t, err)
	return payload
}
