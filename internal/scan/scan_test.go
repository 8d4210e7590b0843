package scan

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enricher/internal/mailbox"
	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/store"
)

type fakeMailbox struct {
	messages []model.Message
	err      error
	ranges   []mailbox.DateRange
}

func (f *fakeMailbox) Search(_ context.Context, r mailbox.DateRange) ([]model.Message, error) {
	f.ranges = append(f.ranges, r)
	return f.messages, f.err
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "enricher.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

var fixedNow = time.Date(2021, 4, 12, 15, 4, 5, 0, time.UTC)

func newTestScanner(st store.Store, mb mailbox.Searcher, cfg Config) *Scanner {
	s := NewScanner(st, mb, cfg)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestScanner_Run_StagesAndAdvancesCheckpoint(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SetCheckpoint(ctx, time.Date(2021, 4, 7, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, st.AddStopLists(ctx, model.StopLists{Phones: []string{"+33760769872"}}))

	mb := &fakeMailbox{messages: []model.Message{
		{Sender: "Alice <alice@client.com>", Body: "Mon portable : 06 87 30 28 47"},
		{Sender: "me@myagency.com", Body: "Call me on 01 02 03 04 05"},
		{Sender: "Bob <bob@other.com>", Body: "Rappelez-moi au +33 7 60 76 98 72"},
		{Sender: "alice@client.com", Body: "ou au bureau 01 45 67 89 10"},
		{Sender: "no address here", Body: "06 11 22 33 44"},
	}}
	s := newTestScanner(st, mb, Config{StopLists: model.StopLists{Domains: []string{"myagency.com"}}})

	run, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunKindScan, run.Kind)
	assert.Equal(t, 5, run.Stats.Messages)
	assert.Equal(t, 2, run.Stats.Senders)
	assert.Equal(t, 1, run.Stats.Staged)

	require.Len(t, mb.ranges, 1)
	assert.Equal(t, "after:2021/4/7 before:2021/4/12", mb.ranges[0].Query())

	alice, err := st.GetContact(ctx, "alice@client.com")
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, "'06 87 30 28 47", alice.Phone)
	assert.Equal(t, model.ContactStatusWaiting, alice.Status)

	bob, err := st.GetContact(ctx, "bob@other.com")
	require.NoError(t, err)
	assert.Nil(t, bob, "stop-listed number must not be staged")

	me, err := st.GetContact(ctx, "me@myagency.com")
	require.NoError(t, err)
	assert.Nil(t, me, "stop-listed domain must not be staged")

	checkpoint, err := st.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 4, 12, 0, 0, 0, 0, time.UTC), checkpoint)

	runs, err := st.ListRuns(ctx, store.RunFilter{Kind: model.RunKindScan})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestScanner_Run_LookbackWithoutCheckpoint(t *testing.T) {
	st := newTestStore(t)
	mb := &fakeMailbox{}
	s := newTestScanner(st, mb, Config{InitialLookbackDays: 10})

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, mb.ranges, 1)
	assert.Equal(t, "after:2021/4/2 before:2021/4/12", mb.ranges[0].Query())
}

func TestScanner_Run_SkipsWhenUpToDate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.SetCheckpoint(ctx, fixedNow))
	mb := &fakeMailbox{}

	run, err := newTestScanner(st, mb, Config{}).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, mb.ranges)
	assert.Zero(t, run.Stats.Messages)
}

func TestScanner_Run_DoesNotDuplicatePendingRows(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	_, err := st.StageContacts(ctx, []model.StagedContact{{Email: "alice@client.com", Phone: "'0687302847"}})
	require.NoError(t, err)

	mb := &fakeMailbox{messages: []model.Message{
		{Sender: "alice@client.com", Body: "new number 07 11 22 33 44"},
	}}
	run, err := newTestScanner(st, mb, Config{}).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, run.Stats.Staged)

	alice, err := st.GetContact(ctx, "alice@client.com")
	require.NoError(t, err)
	assert.Equal(t, "'0687302847", alice.Phone)
}

func TestScanner_Run_SearchFailureKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	start := time.Date(2021, 4, 7, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetCheckpoint(ctx, start))

	mb := &fakeMailbox{err: errors.New("oauth2: token expired")}
	run, err := newTestScanner(st, mb, Config{}).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan: search mailbox")
	require.NotNil(t, run)
	assert.NotEmpty(t, run.Error)

	checkpoint, err := st.GetCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, start, checkpoint)

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].Error)
}

func TestNewScanner_DefaultLookback(t *testing.T) {
	s := NewScanner(nil, nil, Config{})
	assert.Equal(t, DefaultLookbackDays, s.cfg.InitialLookbackDays)
}
