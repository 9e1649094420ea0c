package main

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"
)

const (
	stageWaiting = "waiting_for_players"
	stageSolving = "ascii_solving"

	wordsPerGame = 16

	pointsPerSetBit = 10

	idLength   = 16
	codeLength = 6
)

// CharacterSolution pairs one character of a word with its binary answer.
type CharacterSolution struct {
	Character string `json:"character"`
	Solution  string `json:"solution"`
}

// Word is one assignment in a game, solved character by character.
type Word struct {
	Characters []CharacterSolution `json:"characters"`
}

// Player tracks one joined connection's cursor into the session's word list.
// currentWord always points at words[solvedWords], and becomes nil once the
// final word is solved.
type Player struct {
	client      *Client
	id          string
	displayName string

	points           int
	currentWord      *Word
	solvedCharacters int
	solvedWords      int
}

type Session struct {
	mu sync.Mutex

	id      string
	code    string
	stage   string
	host    *Client
	players []*Player
	words   []Word

	// generation invalidates a countdown scheduled by an earlier start or
	// survived by a stop; the deferred transition re-checks it before applying.
	generation   int
	pendingStart bool

	lastActive time.Time
}

// Registry holds every live session, keyed by ID. Sessions leave the registry
// when stopped or when the reaper sweeps them after going idle.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	lexicon     *Lexicon
	idleTimeout time.Duration
}

func newRegistry(cfg *Config, lexicon *Lexicon) *Registry {
	registry := &Registry{
		sessions:    make(map[string]*Session),
		lexicon:     lexicon,
		idleTimeout: cfg.sessionTimeout,
	}
	if registry.idleTimeout > 0 {
		go registry.reaperLoop(cfg)
	}
	return registry
}

// Create registers a new session in the waiting stage, with a fresh unique ID
// and a join code unique among sessions still waiting for players.
func (reg *Registry) Create(host *Client) *Session {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var id string
	for {
		id = newToken(idLength)
		if _, exists := reg.sessions[id]; !exists {
			break
		}
	}

	var code string
	for {
		code = newCode(codeLength)
		if reg.findByCodeLocked(code, stageWaiting) == nil {
			break
		}
	}

	session := &Session{
		id:         id,
		code:       code,
		stage:      stageWaiting,
		host:       host,
		lastActive: time.Now(),
	}
	reg.sessions[id] = session

	return session
}

func (reg *Registry) FindByID(id string, requiredStage string) *Session {
	if id == "" {
		return nil
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	session, ok := reg.sessions[id]
	if !ok {
		return nil
	}
	if requiredStage != "" && session.currentStage() != requiredStage {
		return nil
	}
	return session
}

func (reg *Registry) FindByCode(code string, requiredStage string) *Session {
	if code == "" {
		return nil
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	return reg.findByCodeLocked(code, requiredStage)
}

func (reg *Registry) findByCodeLocked(code string, requiredStage string) *Session {
	for _, session := range reg.sessions {
		if session.code != code {
			continue
		}
		if requiredStage != "" && session.currentStage() != requiredStage {
			continue
		}
		return session
	}
	return nil
}

func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	delete(reg.sessions, id)
}

// reaperLoop periodically removes sessions that have been idle longer than
// idleTimeout, notifying their players the same way an explicit stop would.
func (reg *Registry) reaperLoop(cfg *Config) {
	ticker := time.NewTicker(reg.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-reg.idleTimeout)

		var expired []*Session

		reg.mu.Lock()
		for id, session := range reg.sessions {
			session.mu.Lock()
			last := session.lastActive
			session.mu.Unlock()

			if last.Before(cutoff) {
				delete(reg.sessions, id)
				expired = append(expired, session)
			}
		}
		reg.mu.Unlock()

		for _, session := range expired {
			logf(cfg, "GAMES: Reaped idle game %s", session.id)
			session.stop()
		}
	}
}

func (s *Session) currentStage() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stage
}

// start schedules the transition to the solving stage: players are told the
// game is ready, the word list is drawn, and after the countdown elapses a
// deferred continuation applies the stage change and hands out the first word.
// The continuation re-checks the session generation so a stop issued during
// the countdown cancels it, and a second start during the countdown fails.
func (s *Session) start(cfg *Config, lexicon *Lexicon) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != stageWaiting || s.pendingStart {
		return false
	}

	s.lastActive = time.Now()

	for _, player := range s.players {
		player.client.trySend(GameReadyMessage{
			Action: "game_ready",
			GameID: s.id,
		})
	}

	s.words = lexicon.Pick(wordsPerGame)

	s.pendingStart = true
	s.generation++
	scheduled := s.generation

	go s.completeStart(cfg, scheduled)

	return true
}

// completeStart waits out the countdown, then re-locks and re-checks that the
// start it belongs to is still the live one before transitioning.
func (s *Session) completeStart(cfg *Config, scheduled int) {
	time.Sleep(cfg.countdown)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != scheduled {
		return
	}

	s.pendingStart = false
	s.stage = stageSolving
	s.lastActive = time.Now()

	for _, player := range s.players {
		player.currentWord = &s.words[0]

		player.client.trySend(NewWordMessage{
			Action: "new_ascii_word_to_solve",
			GameID: s.id,
			Word:   s.words[0],
		})
	}
}

// stop notifies every player and invalidates any countdown still pending.
// The caller is responsible for removing the session from the registry.
func (s *Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.pendingStart = false

	for _, player := range s.players {
		player.client.trySend(StopGameMessage{
			Action: "stop_game",
		})
	}
}

// join appends a new player unless the display name is empty or the
// connection or name is already present.
func (s *Session) join(client *Client, displayName string) bool {
	if displayName == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != stageWaiting {
		return false
	}

	for _, player := range s.players {
		if player.id == client.id || player.displayName == displayName {
			return false
		}
	}

	s.lastActive = time.Now()

	s.players = append(s.players, &Player{
		client:      client,
		id:          client.id,
		displayName: displayName,
	})

	s.host.trySend(PlayerJoinMessage{
		Action:            "player_join",
		GameID:            s.id,
		PlayerID:          client.id,
		PlayerDisplayName: displayName,
	})

	return true
}

// solve checks one submitted binary answer against the next unsolved
// character of the submitter's current word. A wrong answer mutates nothing;
// a right one scores ten points per set bit and advances the player's cursor,
// crossing into the next word when the current one is complete.
func (s *Session) solve(client *Client, solution string) bool {
	if solution == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stage != stageSolving {
		return false
	}

	var player *Player
	for _, p := range s.players {
		if p.id == client.id {
			player = p
			break
		}
	}
	if player == nil || player.currentWord == nil {
		return false
	}

	if player.currentWord.Characters[player.solvedCharacters].Solution != solution {
		return false
	}

	s.lastActive = time.Now()

	player.points += strings.Count(solution, "1") * pointsPerSetBit
	player.solvedCharacters++

	finished := false
	if player.solvedCharacters == len(player.currentWord.Characters) {
		player.solvedWords++
		player.solvedCharacters = 0

		if player.solvedWords < len(s.words) {
			player.currentWord = &s.words[player.solvedWords]

			player.client.trySend(NewWordMessage{
				Action: "new_ascii_word_to_solve",
				GameID: s.id,
				Word:   *player.currentWord,
			})
		} else {
			player.currentWord = nil
			finished = true
		}
	}

	player.client.trySend(OwnPointsMessage{
		Action: "own_points_update",
		GameID: s.id,
		Points: player.points,
	})

	s.host.trySend(PlayerPointsMessage{
		Action:   "player_points_update",
		GameID:   s.id,
		PlayerID: player.id,
		Points:   player.points,
	})

	if finished {
		done := PlayerFinishedMessage{
			Action:   "player_finished",
			GameID:   s.id,
			PlayerID: player.id,
		}
		player.client.trySend(done)
		s.host.trySend(done)
	}

	return true
}

const tokenCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// newToken generates a crypto-random alphanumeric identifier.
func newToken(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	out := make([]byte, length)
	for i := range out {
		out[i] = tokenCharset[int(buf[i])%len(tokenCharset)]
	}
	return string(out)
}

// newCode generates a numeric join code.
func newCode(length int) string {
	const digits = "0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	out := make([]byte, length)
	for i := range out {
		out[i] = digits[int(buf[i])%len(digits)]
	}
	return string(out)
}
