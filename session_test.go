package main

import (
	"testing"
	"time"
)

func testConfig() *Config {
	return &Config{
		countdown:      10 * time.Millisecond,
		sessionTimeout: time.Hour,
	}
}

func newTestClient() *Client {
	return &Client{
		send: make(chan any, 64),
		id:   newToken(idLength),
	}
}

// helper: receive one queued message with a timeout so tests never hang
func recvMessage(t *testing.T, c *Client, within time.Duration) any {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatalf("send channel closed unexpectedly")
		}
		return msg
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return nil // unreachable
	}
}

func recvNoMessage(t *testing.T, c *Client, within time.Duration) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("expected no message within %v, but got: %+v", within, msg)
	case <-time.After(within):
		// good: no message
	}
}

func createGame(t *testing.T, cfg *Config, reg *Registry, host *Client) NewGameResultMessage {
	t.Helper()
	dispatch(cfg, reg, host, ClientMessage{Action: "new_game"})
	msg := recvMessage(t, host, time.Second)
	res, ok := msg.(NewGameResultMessage)
	if !ok {
		t.Fatalf("unexpected message type %T", msg)
	}
	if !res.Success {
		t.Fatalf("new_game failed: %+v", res)
	}
	return res
}

func joinGame(t *testing.T, cfg *Config, reg *Registry, c *Client, code, name string) JoinGameResultMessage {
	t.Helper()
	dispatch(cfg, reg, c, ClientMessage{Action: "join_game", GameCode: code, DisplayName: name})
	msg := recvMessage(t, c, time.Second)
	res, ok := msg.(JoinGameResultMessage)
	if !ok {
		t.Fatalf("unexpected message type %T", msg)
	}
	return res
}

func TestCreateSessionsUniqueIDsAndCodes(t *testing.T) {
	cfg := testConfig()
	reg := newRegistry(cfg, mustLoadLexicon(t))
	host := newTestClient()

	ids := make(map[string]bool)
	codes := make(map[string]bool)

	for i := 0; i < 25; i++ {
		session := reg.Create(host)

		if len(session.id) != idLength {
			t.Fatalf("session id %q has length %d, want %d", session.id, len(session.id), idLength)
		}
		if len(session.code) != codeLength {
			t.Fatalf("session code %q has length %d, want %d", session.code, len(session.code), codeLength)
		}
		for _, c := range session.code {
			if c < '0' || c > '9' {
				t.Fatalf("session code %q is not numeric", session.code)
			}
		}
		if session.currentStage() != stageWaiting {
			t.Fatalf("new session in stage %q, want %q", session.currentStage(), stageWaiting)
		}

		if ids[session.id] {
			t.Fatalf("duplicate session id %q", session.id)
		}
		if codes[session.code] {
			t.Fatalf("duplicate join code %q among waiting sessions", session.code)
		}
		ids[session.id] = true
		codes[session.code] = true
	}
}

func TestJoinRejections(t *testing.T) {
	cases := []struct {
		name  string
		setup func(t *testing.T, cfg *Config, reg *Registry, created NewGameResultMessage)
		code  func(created NewGameResultMessage) string
		join  string
	}{
		{
			name: "unknown code",
			code: func(NewGameResultMessage) string { return "000000x" },
			join: "Alice",
		},
		{
			name: "empty display name",
			code: func(c NewGameResultMessage) string { return c.GameCode },
			join: "",
		},
		{
			name: "duplicate display name",
			setup: func(t *testing.T, cfg *Config, reg *Registry, created NewGameResultMessage) {
				other := newTestClient()
				if res := joinGame(t, cfg, reg, other, created.GameCode, "Alice"); !res.Success {
					t.Fatalf("setup join failed: %+v", res)
				}
			},
			code: func(c NewGameResultMessage) string { return c.GameCode },
			join: "Alice",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			reg := newRegistry(cfg, mustLoadLexicon(t))
			host := newTestClient()
			created := createGame(t, cfg, reg, host)

			if tc.setup != nil {
				tc.setup(t, cfg, reg, created)
			}

			session := reg.FindByID(created.GameID, "")
			session.mu.Lock()
			playersBefore := len(session.players)
			session.mu.Unlock()

			joiner := newTestClient()
			res := joinGame(t, cfg, reg, joiner, tc.code(created), tc.join)
			if res.Success {
				t.Fatalf("join succeeded, want rejection")
			}

			session.mu.Lock()
			playersAfter := len(session.players)
			session.mu.Unlock()

			if playersAfter != playersBefore {
				t.Fatalf("rejected join mutated players: %d -> %d", playersBefore, playersAfter)
			}
		})
	}
}

func TestJoinSameConnectionTwice(t *testing.T) {
	cfg := testConfig()
	reg := newRegistry(cfg, mustLoadLexicon(t))
	host := newTestClient()
	created := createGame(t, cfg, reg, host)

	alice := newTestClient()
	if res := joinGame(t, cfg, reg, alice, created.GameCode, "Alice"); !res.Success {
		t.Fatalf("first join failed: %+v", res)
	}
	if res := joinGame(t, cfg, reg, alice, created.GameCode, "AliceAgain"); res.Success {
		t.Fatalf("second join from same connection succeeded")
	}
}

func TestJoinNotifiesHost(t *testing.T) {
	cfg := testConfig()
	reg := newRegistry(cfg, mustLoadLexicon(t))
	host := newTestClient()
	created := createGame(t, cfg, reg, host)

	alice := newTestClient()
	res := joinGame(t, cfg, reg, alice, created.GameCode, "Alice")
	if !res.Success || res.GameID != created.GameID {
		t.Fatalf("join result: %+v", res)
	}

	msg := recvMessage(t, host, time.Second)
	joined, ok := msg.(PlayerJoinMessage)
	if !ok {
		t.Fatalf("unexpected host message type %T", msg)
	}
	if joined.GameID != created.GameID || joined.PlayerID != alice.id || joined.PlayerDisplayName != "Alice" {
		t.Fatalf("player_join payload: %+v", joined)
	}
}

func TestStartGamePopulatesWords(t *testing.T) {
	cfg := testConfig()
	lexicon := mustLoadLexicon(t)
	reg := newRegistry(cfg, lexicon)
	host := newTestClient()
	created := createGame(t, cfg, reg, host)

	alice := newTestClient()
	joinGame(t, cfg, reg, alice, created.GameCode, "Alice")
	recvMessage(t, host, time.Second) // player_join

	dispatch(cfg, reg, host, ClientMessage{Action: "start_game", GameID: created.GameID})

	result := recvMessage(t, host, time.Second)
	if res, ok := result.(StartGameResultMessage); !ok || !res.Success {
		t.Fatalf("start_game result: %+v", result)
	}

	ready := recvMessage(t, alice, time.Second)
	if msg, ok := ready.(GameReadyMessage); !ok || msg.GameID != created.GameID {
		t.Fatalf("expected game_ready, got: %+v", ready)
	}

	assigned := recvMessage(t, alice, time.Second)
	word, ok := assigned.(NewWordMessage)
	if !ok {
		t.Fatalf("expected new_ascii_word_to_solve, got %T", assigned)
	}
	if len(word.Word.Characters) == 0 {
		t.Fatalf("assigned word has no characters")
	}

	session := reg.FindByID(created.GameID, stageSolving)
	if session == nil {
		t.Fatalf("session did not transition to %s", stageSolving)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if len(session.words) != wordsPerGame {
		t.Fatalf("session has %d words, want %d", len(session.words), wordsPerGame)
	}

	seen := make(map[string]bool)
	for _, w := range session.words {
		s := wordString(w)
		if seen[s] {
			t.Errorf("word %q selected twice", s)
		}
		seen[s] = true

		for _, pair := range w.Characters {
			if pair.Solution != lexicon.solutions[pair.Character] {
				t.Errorf("word %q: solution for %q does not match lexicon", s, pair.Character)
			}
		}
	}
}

func TestStartGameUnknownID(t *testing.T) {
	cfg := testConfig()
	reg := newRegistry(cfg, mustLoadLexicon(t))
	host := newTestClient()

	dispatch(cfg, reg, host, ClientMessage{Action: "start_game", GameID: "missing"})

	msg := recvMessage(t, host, time.Second)
	if res, ok := msg.(StartGameResultMessage); !ok || res.Success {
		t.Fatalf("expected failed start_game_result, got: %+v", msg)
	}
}

func TestStartGameTwiceDuringCountdown(t *testing.T) {
	cfg := testConfig()
	cfg.countdown = 100 * time.Millisecond
	reg := newRegistry(cfg, mustLoadLexicon(t))
	host := newTestClient()
	created := createGame(t, cfg, reg, host)

	dispatch(cfg, reg, host, ClientMessage{Action: "start_game", GameID: created.GameID})
	first := recvMessage(t, host, time.Second)
	if res, ok := first.(StartGameResultMessage); !ok || !res.Success {
		t.Fatalf("first start_game result: %+v", first)
	}

	dispatch(cfg, reg, host, ClientMessage{Action: "start_game", GameID: created.GameID})
	second := recvMessage(t, host, time.Second)
	if res, ok := second.(StartGameResultMessage); !ok || res.Success {
		t.Fatalf("second start_game during countdown should fail, got: %+v", second)
	}
}

func TestStopGameDuringCountdownCancelsTransition(t *testing.T) {
	cfg := testConfig()
	cfg.countdown = 60 * time.Millisecond
	reg := newRegistry(cfg, mustLoadLexicon(t))
	host := newTestClient()
	created := createGame(t, cfg, reg, host)

	alice := newTestClient()
	joinGame(t, cfg, reg, alice, created.GameCode, "Alice")
	recvMessage(t, host, time.Second) // player_join

	session := reg.FindByID(created.GameID, "")

	dispatch(cfg, reg, host, ClientMessage{Action: "start_game", GameID: created.GameID})
	recvMessage(t, host, time.Second)  // start_game_result
	recvMessage(t, alice, time.Second) // game_ready

	dispatch(cfg, reg, host, ClientMessage{Action: "stop_game", GameID: created.GameID})
	stopRes := recvMessage(t, host, time.Second)
	if res, ok := stopRes.(StopGameResultMessage); !ok || !res.Success {
		t.Fatalf("stop_game result: %+v", stopRes)
	}

	stopped := recvMessage(t, alice, time.Second)
	if _, ok := stopped.(StopGameMessage); !ok {
		t.Fatalf("expected stop_game broadcast, got %T", stopped)
	}

	// the countdown must not complete the start after the stop
	recvNoMessage(t, alice, 150*time.Millisecond)

	if session.currentStage() != stageWaiting {
		t.Fatalf("stopped session transitioned to %q", session.currentStage())
	}
	if reg.FindByID(created.GameID, "") != nil {
		t.Fatalf("stopped session still present in registry")
	}
}

func TestStopGameUnknownID(t *testing.T) {
	cfg := testConfig()
	reg := newRegistry(cfg, mustLoadLexicon(t))
	host := newTestClient()

	dispatch(cfg, reg, host, ClientMessage{Action: "stop_game", GameID: "missing"})

	msg := recvMessage(t, host, time.Second)
	if res, ok := msg.(StopGameResultMessage); !ok || res.Success {
		t.Fatalf("expected failed stop_game_result, got: %+v", msg)
	}
}

func TestSolveWrongAnswerMutatesNothing(t *testing.T) {
	lexicon := mustLoadLexicon(t)
	host := newTestClient()
	alice := newTestClient()

	session := &Session{
		id:    newToken(idLength),
		code:  "123456",
		stage: stageSolving,
		host:  host,
		words: []Word{lexicon.Expand("go")},
	}
	player := &Player{client: alice, id: alice.id, displayName: "Alice", currentWord: &session.words[0]}
	session.players = []*Player{player}

	if session.solve(alice, "11111111") {
		t.Fatalf("wrong answer accepted")
	}
	if session.solve(alice, "") {
		t.Fatalf("empty answer accepted")
	}

	if player.points != 0 || player.solvedCharacters != 0 || player.solvedWords != 0 {
		t.Fatalf("rejected answer mutated player: %+v", player)
	}
	recvNoMessage(t, alice, 20*time.Millisecond)
	recvNoMessage(t, host, 20*time.Millisecond)
}

func TestSolveScoresTenPerSetBit(t *testing.T) {
	cases := []struct {
		solution string
		want     int
	}{
		{"1011", 30},
		{"0000", 0},
	}

	for _, tc := range cases {
		t.Run(tc.solution, func(t *testing.T) {
			host := newTestClient()
			alice := newTestClient()

			session := &Session{
				id:    newToken(idLength),
				stage: stageSolving,
				host:  host,
				words: []Word{{Characters: []CharacterSolution{
					{Character: "x", Solution: tc.solution},
					{Character: "y", Solution: "1"},
				}}},
			}
			player := &Player{client: alice, id: alice.id, displayName: "Alice", currentWord: &session.words[0]}
			session.players = []*Player{player}

			if !session.solve(alice, tc.solution) {
				t.Fatalf("correct answer rejected")
			}
			if player.points != tc.want {
				t.Fatalf("points = %d, want %d", player.points, tc.want)
			}
		})
	}
}

func TestSolveProgressionAcrossWordBoundary(t *testing.T) {
	lexicon := mustLoadLexicon(t)
	host := newTestClient()
	alice := newTestClient()

	session := &Session{
		id:    newToken(idLength),
		stage: stageSolving,
		host:  host,
		words: []Word{lexicon.Expand("go"), lexicon.Expand("it")},
	}
	player := &Player{client: alice, id: alice.id, displayName: "Alice", currentWord: &session.words[0]}
	session.players = []*Player{player}

	// 'g' is 01100111: five set bits
	if !session.solve(alice, lexicon.solutions["g"]) {
		t.Fatalf("solution for 'g' rejected")
	}
	if player.points != 50 {
		t.Fatalf("points after 'g' = %d, want 50", player.points)
	}
	if player.solvedCharacters != 1 || player.solvedWords != 0 {
		t.Fatalf("cursor after 'g': characters=%d words=%d", player.solvedCharacters, player.solvedWords)
	}

	ownPoints := recvMessage(t, alice, time.Second)
	if msg, ok := ownPoints.(OwnPointsMessage); !ok || msg.Points != 50 {
		t.Fatalf("own_points_update after 'g': %+v", ownPoints)
	}
	hostPoints := recvMessage(t, host, time.Second)
	if msg, ok := hostPoints.(PlayerPointsMessage); !ok || msg.Points != 50 || msg.PlayerID != alice.id {
		t.Fatalf("player_points_update after 'g': %+v", hostPoints)
	}

	// 'o' is 01101111: six set bits, and completes the first word
	if !session.solve(alice, lexicon.solutions["o"]) {
		t.Fatalf("solution for 'o' rejected")
	}
	if player.points != 110 {
		t.Fatalf("points after 'o' = %d, want 110", player.points)
	}
	if player.solvedCharacters != 0 || player.solvedWords != 1 {
		t.Fatalf("cursor after word boundary: characters=%d words=%d", player.solvedCharacters, player.solvedWords)
	}
	if player.currentWord != &session.words[1] {
		t.Fatalf("currentWord did not advance to the next word")
	}

	next := recvMessage(t, alice, time.Second)
	if msg, ok := next.(NewWordMessage); !ok || wordString(msg.Word) != "it" {
		t.Fatalf("expected next word assignment, got: %+v", next)
	}
	if msg, ok := recvMessage(t, alice, time.Second).(OwnPointsMessage); !ok || msg.Points != 110 {
		t.Fatalf("own_points_update after 'o': %+v", msg)
	}
}

func TestSolveFinalWordFinishesPlayer(t *testing.T) {
	host := newTestClient()
	alice := newTestClient()

	session := &Session{
		id:    newToken(idLength),
		stage: stageSolving,
		host:  host,
		words: []Word{{Characters: []CharacterSolution{{Character: "a", Solution: "01100001"}}}},
	}
	player := &Player{client: alice, id: alice.id, displayName: "Alice", currentWord: &session.words[0]}
	session.players = []*Player{player}

	if !session.solve(alice, "01100001") {
		t.Fatalf("correct answer rejected")
	}
	if player.currentWord != nil {
		t.Fatalf("finished player still has a current word")
	}

	if msg, ok := recvMessage(t, alice, time.Second).(OwnPointsMessage); !ok {
		t.Fatalf("expected own_points_update, got: %+v", msg)
	}
	if msg, ok := recvMessage(t, alice, time.Second).(PlayerFinishedMessage); !ok || msg.PlayerID != alice.id {
		t.Fatalf("expected player_finished, got: %+v", msg)
	}

	if msg, ok := recvMessage(t, host, time.Second).(PlayerPointsMessage); !ok {
		t.Fatalf("expected player_points_update, got: %+v", msg)
	}
	if msg, ok := recvMessage(t, host, time.Second).(PlayerFinishedMessage); !ok || msg.PlayerID != alice.id {
		t.Fatalf("expected player_finished for host, got: %+v", msg)
	}

	// no further submissions are accepted
	if session.solve(alice, "01100001") {
		t.Fatalf("submission accepted after finishing all words")
	}
}

func TestReaperRemovesIdleSessions(t *testing.T) {
	cfg := testConfig()
	cfg.sessionTimeout = 40 * time.Millisecond
	reg := newRegistry(cfg, mustLoadLexicon(t))
	host := newTestClient()
	created := createGame(t, cfg, reg, host)

	alice := newTestClient()
	joinGame(t, cfg, reg, alice, created.GameCode, "Alice")
	recvMessage(t, host, time.Second) // player_join

	deadline := time.Now().Add(time.Second)
	for reg.FindByID(created.GameID, "") != nil {
		if time.Now().After(deadline) {
			t.Fatalf("idle session was not reaped")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopped := recvMessage(t, alice, time.Second)
	if _, ok := stopped.(StopGameMessage); !ok {
		t.Fatalf("expected stop_game broadcast from reaper, got %T", stopped)
	}
}
