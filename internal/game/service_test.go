package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/oleksandrpechak/DuoEng/internal/scoring"
	"github.com/oleksandrpechak/DuoEng/internal/store"
)

// fixedOracle awards the same score on every call and counts invocations.
type fixedOracle struct {
	mu    sync.Mutex
	score int
	calls int
}

func (o *fixedOracle) Score(_ context.Context, _, _ string) scoring.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return scoring.Result{Score: o.score, Source: scoring.SourceExact}
}

// hookOracle runs a callback once, mid-scoring, to model work that lands
// while the oracle is in flight.
type hookOracle struct {
	score int
	fn    func()
}

func (o *hookOracle) Score(_ context.Context, _, _ string) scoring.Result {
	if o.fn != nil {
		fn := o.fn
		o.fn = nil
		fn()
	}
	return scoring.Result{Score: o.score, Source: scoring.SourceExact}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		TurnTimeout:       30 * time.Second,
		RoomCodeLength:    8,
		RoomCodeAttempts:  12,
		DefaultTarget:     10,
		DefaultElo:        1000,
		KFactor:           32,
		BanDuration:       5 * time.Minute,
		JoinFailureLimit:  10,
		ViolationLimit:    20,
		FarmWinsThreshold: 5,
		SubmitsPerMin:     60,
		WSMessagesPerMin:  120,
	}
}

func newTestService(t *testing.T, oracle Oracle, cfg Config) (*Service, *testClock) {
	t.Helper()

	// A named shared-cache DSN keeps every pooled connection on the same
	// in-memory database.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	_, err = store.SeedWordsIfEmpty(db)
	require.NoError(t, err)

	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(db, oracle, cfg, zap.NewNop()).WithClock(clock.Now)
	return svc, clock
}

func registerTwo(t *testing.T, svc *Service) (a, b *store.Player) {
	t.Helper()
	ctx := context.Background()
	a, err := svc.RegisterGuest(ctx, "alice")
	require.NoError(t, err)
	b, err = svc.RegisterGuest(ctx, "bob")
	require.NoError(t, err)
	return a, b
}

// startGame creates a room, joins both players and returns the playing room.
func startGame(t *testing.T, svc *Service, a, b *store.Player, target int) *store.Room {
	t.Helper()
	ctx := context.Background()
	room, err := svc.CreateRoom(ctx, a.ID, store.ModeClassic, target, "10.0.0.1")
	require.NoError(t, err)
	room, err = svc.JoinRoom(ctx, room.Code, b.ID, "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, store.RoomPlaying, room.Status)
	return room
}

func TestRegisterGuest_DuplicateNicknameGetsSuffix(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	ctx := context.Background()

	first, err := svc.RegisterGuest(ctx, "carol")
	require.NoError(t, err)
	second, err := svc.RegisterGuest(ctx, "carol")
	require.NoError(t, err)

	require.Equal(t, "carol", first.Nickname)
	require.NotEqual(t, first.Nickname, second.Nickname)
	require.True(t, strings.HasPrefix(second.Nickname, "carol"))
}

func TestRegisterGuest_RejectsShortNickname(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())

	_, err := svc.RegisterGuest(context.Background(), " x ")
	require.ErrorIs(t, err, ErrNicknameTooShort)
}

func TestCreateRoom_CodeShapeAndDefaults(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, _ := registerTwo(t, svc)

	room, err := svc.CreateRoom(context.Background(), a.ID, store.ModeClassic, 0, "10.0.0.1")
	require.NoError(t, err)

	require.Len(t, room.Code, 8)
	for _, ch := range room.Code {
		require.Contains(t, roomCodeCharset, string(ch))
	}
	require.Equal(t, 10, room.TargetScore)
	require.Equal(t, store.RoomWaiting, room.Status)
}

func TestCreateRoom_RejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, _ := registerTwo(t, svc)
	ctx := context.Background()

	_, err := svc.CreateRoom(ctx, a.ID, "speedrun", 10, "10.0.0.1")
	require.ErrorIs(t, err, ErrInvalidMode)

	_, err = svc.CreateRoom(ctx, a.ID, store.ModeClassic, 101, "10.0.0.1")
	require.ErrorIs(t, err, ErrInvalidTarget)

	_, err = svc.CreateRoom(ctx, "no-such-player", store.ModeClassic, 10, "10.0.0.1")
	require.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestCreateRoom_ExhaustedCodeSpaceRefused(t *testing.T) {
	cfg := testConfig()
	cfg.RoomCodeLength = 1
	cfg.RoomCodeAttempts = 5
	svc, clock := newTestService(t, &fixedOracle{score: 2}, cfg)
	a, _ := registerTwo(t, svc)

	// Occupy every single-character code so each attempt collides and the
	// retry loop has to survive repeated duplicate-key refusals.
	for _, ch := range roomCodeCharset {
		require.NoError(t, svc.db.Create(&store.Room{
			Code:        string(ch),
			Status:      store.RoomWaiting,
			Mode:        store.ModeClassic,
			TargetScore: 10,
			CreatedAt:   clock.Now(),
		}).Error)
	}

	_, err := svc.CreateRoom(context.Background(), a.ID, store.ModeClassic, 10, "10.0.0.1")
	require.ErrorIs(t, err, ErrNoRoomCodes)
}

func TestRoomPlayer_SeatOrderUniquePerRoom(t *testing.T) {
	svc, clock := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)

	require.NoError(t, svc.db.Create(&store.Room{
		Code: "SEATTEST", Status: store.RoomWaiting, Mode: store.ModeClassic,
		TargetScore: 10, CreatedAt: clock.Now(),
	}).Error)
	require.NoError(t, svc.db.Create(&store.RoomPlayer{
		RoomCode: "SEATTEST", PlayerID: a.ID, PlayerOrder: 1, JoinedAt: clock.Now(),
	}).Error)

	err := svc.db.Create(&store.RoomPlayer{
		RoomCode: "SEATTEST", PlayerID: b.ID, PlayerOrder: 1, JoinedAt: clock.Now(),
	}).Error
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestJoinRoom_SecondJoinStartsMatch(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)

	require.NotNil(t, room.MatchID)
	require.NotNil(t, room.CurrentTurn)
	require.Equal(t, a.ID, *room.CurrentTurn)
	require.Equal(t, 1, room.TurnNumber)
}

func TestJoinRoom_RejoinIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)

	again, err := svc.JoinRoom(context.Background(), room.Code, b.ID, "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, room.Code, again.Code)
	require.Equal(t, store.RoomPlaying, again.Status)
}

func TestJoinRoom_ThirdPlayerRefused(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)

	c, err := svc.RegisterGuest(context.Background(), "carol")
	require.NoError(t, err)
	_, err = svc.JoinRoom(context.Background(), room.Code, c.ID, "10.0.0.3")
	require.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinRoom_BruteForceBansPlayerAndIP(t *testing.T) {
	cfg := testConfig()
	cfg.JoinFailureLimit = 3
	svc, _ := newTestService(t, &fixedOracle{score: 2}, cfg)
	a, _ := registerTwo(t, svc)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.JoinRoom(ctx, "NOPE0000", a.ID, "10.9.9.9")
		require.ErrorIs(t, err, ErrRoomNotFound)
	}

	require.True(t, svc.IsBanned(ctx, store.EntityPlayer, a.ID))
	require.True(t, svc.IsBanned(ctx, store.EntityIP, "10.9.9.9"))

	_, err := svc.JoinRoom(ctx, "NOPE0000", a.ID, "10.9.9.9")
	require.ErrorIs(t, err, ErrBanned)
}

func TestSubmitAnswer_AlternatesTurns(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)
	ctx := context.Background()

	res, err := svc.SubmitAnswer(ctx, room.Code, a.ID, "answer", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, 1, res.TurnNumber)
	require.Equal(t, 2, res.Points)
	require.False(t, res.GameOver)

	state, err := svc.RoomStateFor(ctx, room.Code, b.ID, "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, 2, state.TurnNumber)
	require.Equal(t, b.ID, *state.CurrentTurnPlayer)
}

func TestSubmitAnswer_OutOfTurnRefused(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)

	_, err := svc.SubmitAnswer(context.Background(), room.Code, b.ID, "answer", "10.0.0.2")
	require.ErrorIs(t, err, ErrNotYourTurn)
}

func TestSubmitAnswer_EmptyAnswerRefused(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)

	_, err := svc.SubmitAnswer(context.Background(), room.Code, a.ID, "   ", "10.0.0.1")
	require.ErrorIs(t, err, ErrEmptyAnswer)
}

func TestSubmitAnswer_NonMemberRefused(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)

	c, err := svc.RegisterGuest(context.Background(), "carol")
	require.NoError(t, err)
	_, err = svc.SubmitAnswer(context.Background(), room.Code, c.ID, "answer", "10.0.0.3")
	require.ErrorIs(t, err, ErrNotMember)
}

func TestSubmitAnswer_WinAtTargetUpdatesElo(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 1)
	ctx := context.Background()

	res, err := svc.SubmitAnswer(ctx, room.Code, a.ID, "answer", "10.0.0.1")
	require.NoError(t, err)
	require.True(t, res.GameOver)
	require.NotNil(t, res.WinnerID)
	require.Equal(t, a.ID, *res.WinnerID)

	winStats, err := svc.PlayerStats(ctx, a.ID)
	require.NoError(t, err)
	loseStats, err := svc.PlayerStats(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, 1016, winStats.Elo)
	require.Equal(t, 984, loseStats.Elo)
	require.Equal(t, 1, winStats.Wins)
	require.Equal(t, 1, loseStats.Losses)

	state, err := svc.RoomStateFor(ctx, room.Code, b.ID, "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, store.RoomFinished, state.Status)
	require.Nil(t, state.CurrentTurnPlayer)
	require.NotNil(t, state.Winner)
	require.Equal(t, a.ID, state.Winner.PlayerID)
}

func TestSubmitAnswer_SecondSubmissionConflicts(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)
	ctx := context.Background()

	_, err := svc.SubmitAnswer(ctx, room.Code, a.ID, "answer", "10.0.0.1")
	require.NoError(t, err)

	// The turn has moved to the opponent; retrying the settled turn is a
	// turn-ownership refusal, not a second move.
	_, err = svc.SubmitAnswer(ctx, room.Code, a.ID, "answer", "10.0.0.1")
	require.ErrorIs(t, err, ErrNotYourTurn)

	var moves int64
	require.NoError(t, svc.db.Model(&store.Move{}).
		Where("room_code = ? AND turn_number = ?", room.Code, 1).
		Count(&moves).Error)
	require.EqualValues(t, 1, moves)
}

func TestSubmitAnswer_TurnSettledWhileScoringConflicts(t *testing.T) {
	oracle := &hookOracle{score: 2}
	svc, clock := newTestService(t, oracle, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)
	ctx := context.Background()

	// While the oracle is in flight the turn times out and a reader settles
	// it; phase 2 must then refuse the stale submission.
	oracle.fn = func() {
		clock.Advance(31 * time.Second)
		_, err := svc.RoomStateFor(ctx, room.Code, b.ID, "10.0.0.2")
		require.NoError(t, err)
	}

	_, err := svc.SubmitAnswer(ctx, room.Code, a.ID, "answer", "10.0.0.1")
	require.ErrorIs(t, err, ErrTurnChanged)

	var moves []store.Move
	require.NoError(t, svc.db.
		Where("room_code = ? AND turn_number = ?", room.Code, 1).
		Find(&moves).Error)
	require.Len(t, moves, 1)
	require.True(t, moves[0].IsTimeout)
}

func TestSubmitAnswer_ConcurrentDuplicateLosesOnUniqueIndex(t *testing.T) {
	oracle := &hookOracle{score: 2}
	svc, clock := newTestService(t, oracle, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)
	ctx := context.Background()

	// A racing settlement commits the same (match, turn) while the oracle
	// is in flight but before the room row moves on; the unique index is
	// the final arbiter.
	oracle.fn = func() {
		var r store.Room
		require.NoError(t, svc.db.First(&r, "code = ?", room.Code).Error)
		require.NoError(t, svc.db.Create(&store.Move{
			ID:            uuid.NewString(),
			MatchID:       *r.MatchID,
			TurnNumber:    r.TurnNumber,
			RoomCode:      r.Code,
			PlayerID:      a.ID,
			PromptTerm:    "привіт",
			CorrectAnswer: "hello",
			Answer:        "hello",
			ScoreAwarded:  2,
			ResponseTime:  1,
			ScoringSource: "fallback_exact",
			CreatedAt:     clock.Now(),
		}).Error)
	}

	_, err := svc.SubmitAnswer(ctx, room.Code, a.ID, "answer", "10.0.0.1")
	require.ErrorIs(t, err, ErrAlreadySubmitted)

	var moves int64
	require.NoError(t, svc.db.Model(&store.Move{}).
		Where("room_code = ? AND turn_number = ?", room.Code, 1).
		Count(&moves).Error)
	require.EqualValues(t, 1, moves)
}

func TestTimeout_SettledLazilyExactlyOnce(t *testing.T) {
	svc, clock := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)
	ctx := context.Background()

	clock.Advance(31 * time.Second)

	// Any read settles the overdue turn.
	state, err := svc.RoomStateFor(ctx, room.Code, b.ID, "10.0.0.2")
	require.NoError(t, err)
	require.Equal(t, 2, state.TurnNumber)
	require.Equal(t, b.ID, *state.CurrentTurnPlayer)
	require.NotNil(t, state.LastFeedback)
	require.Equal(t, "expired", state.LastFeedback.Status)
	require.Equal(t, 0, state.LastFeedback.Points)

	// Repeated reads do not settle it again.
	_, err = svc.RoomStateFor(ctx, room.Code, a.ID, "10.0.0.1")
	require.NoError(t, err)

	var timeouts int64
	require.NoError(t, svc.db.Model(&store.Move{}).
		Where("room_code = ? AND is_timeout = ?", room.Code, true).
		Count(&timeouts).Error)
	require.EqualValues(t, 1, timeouts)
}

func TestTimeout_LateSubmitRefused(t *testing.T) {
	svc, clock := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)

	clock.Advance(31 * time.Second)

	// The submit path settles the timeout first, so the slow player is now
	// out of turn rather than racing their own expired move.
	_, err := svc.SubmitAnswer(context.Background(), room.Code, a.ID, "answer", "10.0.0.1")
	require.ErrorIs(t, err, ErrNotYourTurn)

	var moves []store.Move
	require.NoError(t, svc.db.Where("room_code = ?", room.Code).Find(&moves).Error)
	require.Len(t, moves, 1)
	require.True(t, moves[0].IsTimeout)
}

func TestRoomState_PromptVisibleOnlyToPlayerOnTurn(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)
	ctx := context.Background()

	onTurn, err := svc.RoomStateFor(ctx, room.Code, a.ID, "10.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, onTurn.PromptTerm)
	require.NotEmpty(t, *onTurn.PromptTerm)

	waiting, err := svc.RoomStateFor(ctx, room.Code, b.ID, "10.0.0.2")
	require.NoError(t, err)
	require.Nil(t, waiting.PromptTerm)
}

func TestRoomState_NonMemberRefused(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)

	c, err := svc.RegisterGuest(context.Background(), "carol")
	require.NoError(t, err)
	_, err = svc.RoomStateFor(context.Background(), room.Code, c.ID, "10.0.0.3")
	require.ErrorIs(t, err, ErrNotMember)
}

func TestSubmitRateLimit_BansHammeringPlayer(t *testing.T) {
	cfg := testConfig()
	cfg.SubmitsPerMin = 2
	svc, _ := newTestService(t, &fixedOracle{score: 0}, cfg)
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)
	ctx := context.Background()

	// Two submits fit the budget: a scores zero, then b scores zero.
	_, err := svc.SubmitAnswer(ctx, room.Code, a.ID, "guess", "10.0.0.1")
	require.NoError(t, err)
	_, err = svc.SubmitAnswer(ctx, room.Code, a.ID, "guess", "10.0.0.1")
	require.ErrorIs(t, err, ErrNotYourTurn)

	_, err = svc.SubmitAnswer(ctx, room.Code, a.ID, "guess", "10.0.0.1")
	require.ErrorIs(t, err, ErrRateLimited)
	require.True(t, svc.IsBanned(ctx, store.EntityPlayer, a.ID))
}

func TestAntiFarm_RepeatWinsAgainstSameOpponentBan(t *testing.T) {
	cfg := testConfig()
	cfg.FarmWinsThreshold = 2
	svc, _ := newTestService(t, &fixedOracle{score: 2}, cfg)
	a, b := registerTwo(t, svc)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		room := startGame(t, svc, a, b, 1)
		res, err := svc.SubmitAnswer(ctx, room.Code, a.ID, "answer", "10.0.0.1")
		require.NoError(t, err)
		require.True(t, res.GameOver)
	}

	require.True(t, svc.IsBanned(ctx, store.EntityPlayer, a.ID))
}

func TestLeaderboard_OrdersByEloThenWins(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 1)
	ctx := context.Background()

	_, err := svc.SubmitAnswer(ctx, room.Code, a.ID, "answer", "10.0.0.1")
	require.NoError(t, err)

	entries, err := svc.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "alice", entries[0].Nickname)
	require.Equal(t, 1016, entries[0].Elo)
	require.Equal(t, "bob", entries[1].Nickname)
}

func TestDictionarySearch_ExactMatchFirst(t *testing.T) {
	svc, _ := newTestService(t, &fixedOracle{score: 2}, testConfig())

	entries, err := svc.DictionarySearch(context.Background(), "  Dog ")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Equal(t, "dog", entries[0].Translation)
}

func TestOracleRunsOncePerSettledTurn(t *testing.T) {
	oracle := &fixedOracle{score: 1}
	svc, _ := newTestService(t, oracle, testConfig())
	a, b := registerTwo(t, svc)
	room := startGame(t, svc, a, b, 10)
	ctx := context.Background()

	_, err := svc.SubmitAnswer(ctx, room.Code, a.ID, "guess", "10.0.0.1")
	require.NoError(t, err)
	_, err = svc.SubmitAnswer(ctx, room.Code, b.ID, "guess", "10.0.0.2")
	require.NoError(t, err)

	require.Equal(t, 2, oracle.calls)
}
