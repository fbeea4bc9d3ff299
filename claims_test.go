package main

import (
	"context"
	"math/big"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impossibl/pkg/merkle"
	"impossibl/pkg/types"
)

var adminAuth = []string{"Authorization", "Bearer admin-key"}

func recordAttempts(t *testing.T, userID, tournamentID string, results ...bool) {
	t.Helper()
	for _, won := range results {
		_, _, err := saveUserAttempt(context.Background(), db, userID, tournamentID, won, nil)
		require.NoError(t, err)
	}
}

func TestClaimRootAndProof(t *testing.T) {
	setupTestEnv(t)
	mux := routes()
	createTestTournament(t, "1", types.TournamentDaily, time.Now().Add(time.Hour), nil)

	early := createTestUser(t, testAddress(1))
	late := createTestUser(t, testAddress(2))
	loser := createTestUser(t, testAddress(3))
	recordAttempts(t, early.ID, "1", true)
	recordAttempts(t, late.ID, "1", false, false, true)
	recordAttempts(t, loser.ID, "1", false)

	// A winner with no wallet is left out of the tree.
	_, err := db.Exec(`INSERT INTO "user" (id, name, created_at, updated_at) VALUES ('ghost', 'ghost', 0, 0)`)
	require.NoError(t, err)
	recordAttempts(t, "ghost", "1", true)

	rr := executeRequest(mux, "POST", "/api/generate-claim-root", map[string]string{"tournamentId": "1"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = executeRequest(mux, "POST", "/api/generate-claim-root", map[string]string{"tournamentId": "1"}, adminAuth...)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var root ClaimRootResponse
	decodeData(t, rr, &root)

	assert.Equal(t, 2, root.WinnersCount)
	assert.NotEmpty(t, root.NextDailyID)
	total := new(big.Int)
	amounts := map[string]*big.Int{}
	for _, v := range root.MerkleValues {
		n, ok := new(big.Int).SetString(v[1], 10)
		require.True(t, ok)
		amounts[v[0]] = n
		total.Add(total, n)
	}
	assert.LessOrEqual(t, total.Cmp(poolBaseUnits(1)), 0, "payouts exceed the pool")
	assert.Equal(t, 1, amounts[testAddress(1)].Cmp(amounts[testAddress(2)]), "earlier winner should earn more")

	stored, err := getUserPrize(context.Background(), "1", early.ID)
	require.NoError(t, err)
	assert.Equal(t, amounts[testAddress(1)].String(), stored.Prize)

	// Proofs verify against the published root.
	rr = executeRequest(mux, "POST", "/api/generate-claim-proof",
		map[string]string{"tournamentId": "1", "address": testAddress(2)})
	var proof ClaimProofResponse
	decodeData(t, rr, &proof)
	values, err := merkle.ValuesFromStrings([][]string{proof.Value})
	require.NoError(t, err)
	assert.True(t, merkle.Verify(root.Root, values[0], proof.Proof))
	assert.Equal(t, amounts[testAddress(2)].String(), proof.Value[1])

	rr = executeRequest(mux, "POST", "/api/generate-claim-proof",
		map[string]string{"tournamentId": "1", "address": testAddress(3)})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// A second run is refused.
	rr = executeRequest(mux, "POST", "/api/generate-claim-root", map[string]string{"tournamentId": "1"}, adminAuth...)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// The next daily is open and the finalized one is archived.
	next, err := getActiveDailyTournament(context.Background())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, root.NextDailyID, next.ID)

	var snap SnapshotResponse
	decodeData(t, executeRequest(mux, "GET", "/api/tournament/1/snapshot", nil), &snap)
	assert.Equal(t, SnapshotGenesis, snap.PrevHash)
	require.NotNil(t, snap.State)
	require.NotNil(t, snap.State.Tournament.MerkleRoot)
	assert.Equal(t, root.Root, *snap.State.Tournament.MerkleRoot)
	assert.Len(t, snap.State.Prizes, 2)
}

func TestClaimRootErrors(t *testing.T) {
	setupTestEnv(t)
	mux := routes()

	rr := executeRequest(mux, "POST", "/api/generate-claim-root", nil, adminAuth...)
	assert.Equal(t, http.StatusNotFound, rr.Code, "no active daily")

	rr = executeRequest(mux, "POST", "/api/generate-claim-root", map[string]string{"tournamentId": "nope"}, adminAuth...)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	createTestTournament(t, "1", types.TournamentDaily, time.Now().Add(time.Hour), nil)
	recordAttempts(t, createTestUser(t, testAddress(1)).ID, "1", false)
	rr = executeRequest(mux, "POST", "/api/generate-claim-root", nil, adminAuth...)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "no winners")

	rr = executeRequest(mux, "POST", "/api/generate-claim-proof", map[string]string{"tournamentId": "1", "address": testAddress(1)})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "no tree yet")

	rr = executeRequest(mux, "POST", "/api/generate-claim-proof", map[string]string{"tournamentId": "1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = executeRequest(mux, "GET", "/api/tournament/1/snapshot", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestClaimRootPublishesOnChain(t *testing.T) {
	setupTestEnv(t)
	fc := newFakeChain(big.NewInt(10))
	chainClient = fc
	Config.PublishMerkleRoot = true
	mux := routes()

	createTestTournament(t, "7", types.TournamentDaily, time.Now().Add(time.Hour), nil)
	winner := createTestUser(t, testAddress(1))
	recordAttempts(t, winner.ID, "7", true)

	var root ClaimRootResponse
	decodeData(t, executeRequest(mux, "POST", "/api/generate-claim-root", nil, adminAuth...), &root)

	assert.Equal(t, "7", root.TournamentID)
	assert.Equal(t, [][]string{{testAddress(1), "10"}}, root.MerkleValues)
	assert.NotEmpty(t, root.PublishTxHash)
	assert.Equal(t, common.HexToHash(root.Root), fc.published["7"])
	assert.Equal(t, "101", root.NextDailyID)
}

func TestSnapshotChainLinks(t *testing.T) {
	setupTestEnv(t)
	mux := routes()

	for i, id := range []string{"1", "2"} {
		createTestTournament(t, id, types.TournamentGroup, time.Now().Add(time.Hour), nil)
		recordAttempts(t, createTestUser(t, testAddress(10+i)).ID, id, true)
		rr := executeRequest(mux, "POST", "/api/generate-claim-root", map[string]string{"tournamentId": id}, adminAuth...)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	var first, second SnapshotResponse
	decodeData(t, executeRequest(mux, "GET", "/api/tournament/1/snapshot", nil), &first)
	decodeData(t, executeRequest(mux, "GET", "/api/tournament/2/snapshot", nil), &second)
	assert.Equal(t, first.FinalHash, second.PrevHash)
}

func TestRankPrizes(t *testing.T) {
	base := time.Now()
	prizes := []types.UserPrize{
		{UserID: "a", Attempts: 9, WonAtAttempt: 0},
		{UserID: "b", Attempts: 5, WonAtAttempt: 3, UpdatedAt: base},
		{UserID: "c", Attempts: 4, WonAtAttempt: 3, UpdatedAt: base.Add(time.Second)},
		{UserID: "d", Attempts: 1, WonAtAttempt: 1},
		{UserID: "e", Attempts: 2, WonAtAttempt: 0},
		{UserID: "f", Attempts: 4, WonAtAttempt: 3, UpdatedAt: base},
	}
	winners, players := rankPrizes(prizes)

	var order []string
	for i, w := range winners {
		assert.Equal(t, i+1, w.Rank)
		order = append(order, w.UserID)
	}
	assert.Equal(t, []string{"d", "f", "c", "b"}, order)
	require.Len(t, players, 2)
	assert.Equal(t, "a", players[0].UserID)
	assert.Equal(t, 0, players[0].Rank)
}

func TestWinnersOrderMatchesLeaderboard(t *testing.T) {
	setupTestEnv(t)
	ctx := context.Background()
	createTestTournament(t, "1", types.TournamentDaily, time.Now().Add(time.Hour), nil)
	busy := createTestUser(t, testAddress(1))
	clean := createTestUser(t, testAddress(2))
	recordAttempts(t, busy.ID, "1", true, false, false)
	recordAttempts(t, clean.ID, "1", true)
	// busy reached the tie first but played more.
	_, err := db.Exec(`UPDATE user_prize SET updated_at = CASE user_id WHEN ? THEN 1 ELSE 2 END`, busy.ID)
	require.NoError(t, err)

	winners, err := getWinners(ctx, "1")
	require.NoError(t, err)
	require.Len(t, winners, 2)
	assert.Equal(t, clean.ID, winners[0].UserID)
	assert.Equal(t, busy.ID, winners[1].UserID)

	ranked, _ := rankPrizes(winners)
	for i, w := range ranked {
		assert.Equal(t, winners[i].UserID, w.UserID)
	}
}

func TestLeaderboardRoute(t *testing.T) {
	setupTestEnv(t)
	mux := routes()
	createTestTournament(t, "1", types.TournamentDaily, time.Now().Add(time.Hour), nil)
	u := createTestUser(t, testAddress(1))
	recordAttempts(t, u.ID, "1", false, true)

	var lb LeaderboardResponse
	decodeData(t, executeRequest(mux, "GET", "/api/tournament/1/leaderboard", nil), &lb)
	require.Len(t, lb.Winners, 1)
	assert.Equal(t, u.Name, lb.Winners[0].Name)
	assert.Equal(t, 2, lb.Winners[0].WonAtAttempt)

	rr := executeRequest(mux, "GET", "/api/tournament/9/leaderboard", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRolloverFinalizesDueDaily(t *testing.T) {
	setupTestEnv(t)
	ctx := context.Background()

	createTestTournament(t, "old", types.TournamentDaily, time.Now().Add(-time.Minute), nil)
	recordAttempts(t, createTestUser(t, testAddress(1)).ID, "old", true)
	createTestTournament(t, "empty", types.TournamentDaily, time.Now().Add(-2*time.Minute), nil)

	rolloverDailies(ctx)

	old, err := getTournamentByID(ctx, "old")
	require.NoError(t, err)
	assert.True(t, old.HasMerkleRoot())
	assert.False(t, unpaidDailies.mark("empty"), "a daily without winners is reported")

	active, err := getActiveDailyTournament(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)

	// A second run leaves the open daily alone.
	rolloverDailies(ctx)
	again, err := getActiveDailyTournament(ctx)
	require.NoError(t, err)
	assert.Equal(t, active.ID, again.ID)
}

func TestRolloverOpensFirstDaily(t *testing.T) {
	setupTestEnv(t)
	rolloverDailies(context.Background())

	var daily types.Tournament
	decodeData(t, executeRequest(routes(), "GET", "/api/tournament/daily", nil), &daily)
	assert.Equal(t, types.TournamentDaily, daily.Type)
	assert.Equal(t, int64(1), daily.PrizePool)
	assert.WithinDuration(t, daily.StartDate.Add(Config.DailyTournamentTTL), daily.EndDate, time.Second)
}

func countOpenDailies(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM tournament WHERE type = ? AND merkle_root IS NULL`,
		types.TournamentDaily).Scan(&n))
	return n
}

// slowChain holds CreateGlobalTournament until release is closed.
type slowChain struct {
	*fakeChain
	mu      sync.Mutex
	creates int
	entered chan struct{}
	release chan struct{}
}

func (s *slowChain) CreateGlobalTournament(ctx context.Context, token common.Address, buyIn *big.Int) (common.Hash, *big.Int, error) {
	s.entered <- struct{}{}
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	return s.create()
}

func TestRolloverWaitsForFinalize(t *testing.T) {
	setupTestEnv(t)
	ctx := context.Background()
	sc := &slowChain{
		fakeChain: newFakeChain(big.NewInt(10)),
		entered:   make(chan struct{}, 2),
		release:   make(chan struct{}),
	}
	chainClient = sc

	createTestTournament(t, "7", types.TournamentDaily, time.Now().Add(time.Hour), nil)
	recordAttempts(t, createTestUser(t, testAddress(1)).ID, "7", true)

	finalized := make(chan error, 1)
	go func() {
		_, err := finalizeTournament(ctx, "7")
		finalized <- err
	}()
	// The root is committed and the next daily is being created on chain.
	<-sc.entered

	rolled := make(chan struct{})
	go func() {
		rolloverDailies(ctx)
		close(rolled)
	}()
	time.Sleep(50 * time.Millisecond)
	close(sc.release)

	require.NoError(t, <-finalized)
	<-rolled

	assert.Equal(t, 1, sc.creates)
	assert.Equal(t, 1, countOpenDailies(t))
}

func TestConcurrentRollovers(t *testing.T) {
	setupTestEnv(t)
	createTestTournament(t, "empty", types.TournamentDaily, time.Now().Add(-time.Minute), nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rolloverDailies(context.Background())
		}()
	}
	wg.Wait()

	assert.False(t, unpaidDailies.mark("empty"))
	// The unfinalized daily has ended, so only the fresh one is active.
	assert.Equal(t, 2, countOpenDailies(t))
	active, err := getActiveDailyTournament(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.NotEqual(t, "empty", active.ID)
}
