package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	qerrors "quiz-session-backend/internal/errors"
	"quiz-session-backend/internal/models"
	"quiz-session-backend/internal/testutil"
)

func newStore(t *testing.T) (*SessionStore, *models.Game) {
	t.Helper()
	db := testutil.NewDB(t)
	game := testutil.SeedGame(t, db,
		testutil.QuestionSpec{Type: models.QuestionTypeMultipleChoice, Time: 30, Answers: []testutil.AnswerSpec{
			{Text: "A1", IsCorrect: true}, {Text: "A2"},
		}},
		testutil.QuestionSpec{Type: models.QuestionTypeDrawing, Time: 60},
	)
	return NewSessionStore(db), game
}

func startedSession(t *testing.T, store *SessionStore, game *models.Game) *models.Session {
	t.Helper()
	ctx := context.Background()
	session, err := store.CreateSession(ctx, game.ID, game.HostID)
	require.NoError(t, err)
	_, err = store.UpdateSessionStatus(ctx, session.ID, session.Version, models.SessionStatusStarted)
	require.NoError(t, err)
	snap, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	return snap
}

func TestCreateAndGetSession(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()

	session, err := store.CreateSession(ctx, game.ID, game.HostID)
	require.NoError(t, err)
	assert.Len(t, session.Code, 6)
	assert.Equal(t, models.SessionStatusPending, session.Status)
	assert.Equal(t, 1, session.Version)

	snap, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, snap.Game.Questions, 2)
	assert.Equal(t, 0, snap.Game.Questions[0].Index)
	assert.Len(t, snap.Game.Questions[0].Answers, 2)
	assert.Empty(t, snap.State().CompletedQuestions)

	byCode, err := store.GetSessionByCode(ctx, session.Code)
	require.NoError(t, err)
	assert.Equal(t, session.ID, byCode.ID)
}

func TestGetSessionNotFound(t *testing.T) {
	store, _ := newStore(t)

	_, err := store.GetSession(context.Background(), 404)
	var nf qerrors.NotFoundError
	require.ErrorAs(t, err, &nf)

	_, err = store.GetSessionByCode(context.Background(), "000000x")
	require.ErrorAs(t, err, &nf)
}

func TestUpdateSessionDataVersionCheck(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()
	session := startedSession(t, store, game)

	qid := game.Questions[0].ID
	data := models.SessionData{CurrentQuestion: &qid, CompletedQuestions: []uint{qid}}

	version, err := store.UpdateSessionData(ctx, session.ID, session.Version, data)
	require.NoError(t, err)
	assert.Equal(t, session.Version+1, version)

	_, err = store.UpdateSessionData(ctx, session.ID, session.Version, data)
	var cm qerrors.ConcurrentModificationError
	require.ErrorAs(t, err, &cm)

	snap, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{qid}, snap.State().CompletedQuestions)
}

func TestWritesAfterEndAreTerminal(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()
	session := startedSession(t, store, game)

	_, err := store.UpdateSessionStatus(ctx, session.ID, session.Version, models.SessionStatusEnded)
	require.NoError(t, err)

	var terminal qerrors.TerminalStateError
	_, err = store.UpdateSessionData(ctx, session.ID, session.Version+1, models.SessionData{})
	require.ErrorAs(t, err, &terminal)

	err = store.InsertParticipantAnswer(ctx, &models.ParticipantAnswer{
		SessionID: session.ID, ParticipantID: "p1", QuestionID: game.Questions[0].ID,
		AnswerType: models.QuestionTypeMultipleChoice,
	})
	require.ErrorAs(t, err, &terminal)

	_, _, err = store.UpsertParticipant(ctx, "p9", "late", session.ID)
	require.ErrorAs(t, err, &terminal)
}

func TestUpsertParticipant(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()
	session, err := store.CreateSession(ctx, game.ID, game.HostID)
	require.NoError(t, err)

	var changes []Change
	store.OnChange(func(_ context.Context, c Change) { changes = append(changes, c) })

	p, created, err := store.UpsertParticipant(ctx, "p1", "alice", session.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", p.Nickname)

	p, created, err = store.UpsertParticipant(ctx, "p1", "alice2", session.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "alice2", p.Nickname)

	snap, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, "alice2", snap.Participants[0].Nickname)

	require.Len(t, changes, 2)
	assert.Equal(t, OpInsert, changes[0].Op)
	assert.Equal(t, TableParticipants, changes[0].Table)
	assert.Equal(t, OpUpdate, changes[1].Op)

	other, err := store.CreateSession(ctx, game.ID, game.HostID)
	require.NoError(t, err)
	_, _, err = store.UpsertParticipant(ctx, "p1", "alice", other.ID)
	var ve qerrors.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestRecordSubmissionRejectsDuplicates(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()
	session := startedSession(t, store, game)
	_, _, err := store.UpsertParticipant(ctx, "p1", "alice", session.ID)
	require.NoError(t, err)

	answer := func(score int) *models.ParticipantAnswer {
		return &models.ParticipantAnswer{
			SessionID:     session.ID,
			ParticipantID: "p1",
			QuestionID:    game.Questions[0].ID,
			AnswerType:    models.QuestionTypeMultipleChoice,
			Content:       datatypes.JSON(`{"answer_id":1}`),
			Score:         score,
		}
	}

	p, err := store.RecordSubmission(ctx, answer(50))
	require.NoError(t, err)
	assert.Equal(t, 50, p.Score)

	_, err = store.RecordSubmission(ctx, answer(90))
	var dup qerrors.DuplicateSubmissionError
	require.ErrorAs(t, err, &dup)

	snap, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, snap.Participants[0].Score)
	assert.Len(t, snap.Submissions, 1)
}

func TestRecordSubmissionRequiresStartedSession(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()
	session, err := store.CreateSession(ctx, game.ID, game.HostID)
	require.NoError(t, err)

	_, err = store.RecordSubmission(ctx, &models.ParticipantAnswer{
		SessionID: session.ID, ParticipantID: "p1", QuestionID: game.Questions[0].ID,
		AnswerType: models.QuestionTypeMultipleChoice,
	})
	var it qerrors.InvalidTransitionError
	require.ErrorAs(t, err, &it)
}

func TestUpsertParticipantConcurrentSameID(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()
	session, err := store.CreateSession(ctx, game.ID, game.HostID)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inserts int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := store.UpsertParticipant(ctx, "p1", "alice", session.ID)
			assert.NoError(t, err)
			if created {
				mu.Lock()
				inserts++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, inserts)
	snap, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, snap.Participants, 1)
}

func TestUpsertParticipantTakesUpdatePathForExistingRow(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()
	session, err := store.CreateSession(ctx, game.ID, game.HostID)
	require.NoError(t, err)
	require.NoError(t, store.db.Create(&models.Participant{ID: "p1", SessionID: session.ID, Nickname: "old", Version: 1}).Error)

	p, created, err := store.UpsertParticipant(ctx, "p1", "new", session.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "new", p.Nickname)
	assert.Equal(t, 2, p.Version)
}

func TestParticipantChangeSeqFollowsRowVersion(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()
	session := startedSession(t, store, game)

	var seqs []int64
	store.OnChange(func(_ context.Context, c Change) {
		if c.Table == TableParticipants {
			seqs = append(seqs, c.Seq)
		}
	})

	_, _, err := store.UpsertParticipant(ctx, "p1", "alice", session.ID)
	require.NoError(t, err)
	_, _, err = store.UpsertParticipant(ctx, "p1", "alicia", session.ID)
	require.NoError(t, err)
	_, err = store.RecordSubmission(ctx, &models.ParticipantAnswer{
		SessionID:     session.ID,
		ParticipantID: "p1",
		QuestionID:    game.Questions[1].ID,
		AnswerType:    models.QuestionTypeDrawing,
		Content:       datatypes.JSON(`{"paths":[]}`),
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, seqs)
}

func TestAddToScoreIsAtomic(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()
	session := startedSession(t, store, game)
	_, _, err := store.UpsertParticipant(ctx, "p1", "alice", session.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.AddToScore(ctx, "p1", 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, snap.Participants[0].Score)

	_, err = store.AddToScore(ctx, "ghost", 5)
	var nf qerrors.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestSessionChangeCarriesVersion(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()
	session, err := store.CreateSession(ctx, game.ID, game.HostID)
	require.NoError(t, err)

	var got Change
	store.OnChange(func(_ context.Context, c Change) { got = c })

	version, err := store.UpdateSessionStatus(ctx, session.ID, session.Version, models.SessionStatusStarted)
	require.NoError(t, err)

	assert.Equal(t, TableSessions, got.Table)
	assert.Equal(t, int64(version), got.Seq)
	row, ok := got.Row.(models.Session)
	require.True(t, ok)
	assert.Equal(t, models.SessionStatusStarted, row.Status)
	assert.NotNil(t, row.StartedAt)
}

func TestListSessions(t *testing.T) {
	store, game := newStore(t)
	ctx := context.Background()
	for range 3 {
		_, err := store.CreateSession(ctx, game.ID, game.HostID)
		require.NoError(t, err)
	}

	sessions, err := store.ListSessions(ctx, game.HostID)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)

	sessions, err = store.ListSessions(ctx, game.HostID+100)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
