// Bitparty ASCII Race
//
// A host creates a game and shares its six-digit join code. Players join over
// the shared websocket, and when the host starts the game everyone receives
// the same sixteen words after a short countdown. Players race to convert each
// word to binary ASCII one character at a time; a correct answer scores ten
// points per set bit, so dense characters are worth more.
//
// Features:
// - Single websocket endpoint: /ws, one JSON message per frame, dispatched by "action"
// - 16-character connection/game IDs and 6-digit numeric join codes via crypto/rand,
//   with server-side collision checks
// - Per-game countdown between start and the first word assignment, cancellable
//   by stopping the game
// - Host is not a player; it receives player_join and player_points_update events
// - Wrong answers are free: no penalty, no retry limit
// - Stopping a game notifies every player and removes the game
// - Games auto-reaped after a configurable idle timeout
// - In-browser QR code to share a waiting game's join code, backed by go-qrcode

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Action      string `json:"action"`                // "new_game", "start_game", "stop_game", "join_game", "solve_ascii_character"
	GameID      string `json:"gameId,omitempty"`      // start_game / stop_game / solve_ascii_character
	GameCode    string `json:"gameCode,omitempty"`    // join_game
	DisplayName string `json:"displayName,omitempty"` // join_game
	Solution    string `json:"solution,omitempty"`    // solve_ascii_character
}

// Messages sent to clients
type NewGameResultMessage struct {
	Action   string `json:"action"` // "new_game_result"
	Success  bool   `json:"success"`
	GameID   string `json:"gameId,omitempty"`
	GameCode string `json:"gameCode,omitempty"`
}

type StartGameResultMessage struct {
	Action  string `json:"action"` // "start_game_result"
	Success bool   `json:"success"`
}

type StopGameResultMessage struct {
	Action  string `json:"action"` // "stop_game_result"
	Success bool   `json:"success"`
}

// Broadcast to every player of a stopped game.
type StopGameMessage struct {
	Action string `json:"action"` // "stop_game"
}

type JoinGameResultMessage struct {
	Action  string `json:"action"` // "join_game_result"
	Success bool   `json:"success"`
	GameID  string `json:"gameId,omitempty"`
}

// Sent to the host when a player joins their game.
type PlayerJoinMessage struct {
	Action            string `json:"action"` // "player_join"
	GameID            string `json:"gameId"`
	PlayerID          string `json:"playerId"`
	PlayerDisplayName string `json:"playerDisplayName"`
}

// Sent to every player when the host starts the game, before the countdown.
type GameReadyMessage struct {
	Action string `json:"action"` // "game_ready"
	GameID string `json:"gameId"`
}

// Sent to a player whenever they have a new word to work on. The payload
// carries the full character/solution pairs, matching the original wire
// format, so the answers are visible to the client.
type NewWordMessage struct {
	Action string `json:"action"` // "new_ascii_word_to_solve"
	GameID string `json:"gameId"`
	Word   Word   `json:"word"`
}

// Sent to the submitter when a solution is rejected.
type SolveResultMessage struct {
	Action  string `json:"action"` // "solve_ascii_character_result"
	Success bool   `json:"success"`
}

type OwnPointsMessage struct {
	Action string `json:"action"` // "own_points_update"
	GameID string `json:"gameId"`
	Points int    `json:"points"`
}

type PlayerPointsMessage struct {
	Action   string `json:"action"` // "player_points_update"
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	Points   int    `json:"points"`
}

// Sent to a player and the host when that player solves the final word.
type PlayerFinishedMessage struct {
	Action   string `json:"action"` // "player_finished"
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
	id   string

	mu     sync.Mutex
	closed bool
}

// trySend queues a message for the client without blocking; clients that
// cannot keep up stop receiving further messages.
func (c *Client) trySend(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		c.closed = true
		close(c.send)
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
			id:   newToken(idLength),
		}

		logf(cfg, "GAMES: Connection %s opened from %s", client.id, realIP(r))

		go client.writePump()
		client.readPump(cfg, reg)
	}
}

func (c *Client) readPump(cfg *Config, reg *Registry) {
	defer func() {
		c.shutdown()
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		dispatch(cfg, reg, c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// dispatch routes one inbound message to its handler. Unknown or malformed
// actions are ignored without a response.
func dispatch(cfg *Config, reg *Registry, c *Client, msg ClientMessage) {
	switch msg.Action {
	case "new_game":
		handleNewGame(cfg, reg, c)
	case "start_game":
		handleStartGame(cfg, reg, c, msg)
	case "stop_game":
		handleStopGame(cfg, reg, c, msg)
	case "join_game":
		handleJoinGame(cfg, reg, c, msg)
	case "solve_ascii_character":
		handleSolve(reg, c, msg)
	default:
		// ignore unknown actions
	}
}

func handleNewGame(cfg *Config, reg *Registry, c *Client) {
	session := reg.Create(c)

	logf(cfg, "GAMES: Connection %s created game %s with code %s", c.id, session.id, session.code)

	c.trySend(NewGameResultMessage{
		Action:   "new_game_result",
		Success:  true,
		GameID:   session.id,
		GameCode: session.code,
	})
}

func handleStartGame(cfg *Config, reg *Registry, c *Client, msg ClientMessage) {
	session := reg.FindByID(msg.GameID, stageWaiting)
	if session == nil || !session.start(cfg, reg.lexicon) {
		c.trySend(StartGameResultMessage{Action: "start_game_result"})
		return
	}

	logf(cfg, "GAMES: Game %s started", session.id)

	c.trySend(StartGameResultMessage{
		Action:  "start_game_result",
		Success: true,
	})
}

func handleStopGame(cfg *Config, reg *Registry, c *Client, msg ClientMessage) {
	session := reg.FindByID(msg.GameID, "")
	if session == nil {
		c.trySend(StopGameResultMessage{Action: "stop_game_result"})
		return
	}

	reg.Remove(session.id)
	session.stop()

	logf(cfg, "GAMES: Game %s stopped", session.id)

	c.trySend(StopGameResultMessage{
		Action:  "stop_game_result",
		Success: true,
	})
}

func handleJoinGame(cfg *Config, reg *Registry, c *Client, msg ClientMessage) {
	session := reg.FindByCode(msg.GameCode, stageWaiting)
	if session == nil || !session.join(c, msg.DisplayName) {
		c.trySend(JoinGameResultMessage{Action: "join_game_result"})
		return
	}

	logf(cfg, "GAMES: Player %q joined game %s", msg.DisplayName, session.id)

	c.trySend(JoinGameResultMessage{
		Action:  "join_game_result",
		Success: true,
		GameID:  session.id,
	})
}

func handleSolve(reg *Registry, c *Client, msg ClientMessage) {
	session := reg.FindByID(msg.GameID, stageSolving)
	if session == nil || !session.solve(c, msg.Solution) {
		c.trySend(SolveResultMessage{Action: "solve_ascii_character_result"})
		return
	}
}

// QR handler: generates a PNG QR code carrying a join link for a waiting game.
func qrHandler(reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")
		if code == "" {
			http.Error(w, "missing join code", http.StatusBadRequest)
			return
		}

		if reg.FindByCode(code, stageWaiting) == nil {
			http.Error(w, "no waiting game with that code", http.StatusNotFound)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + "/?code=" + code

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// registerAsciiGame sets up routes so that:
//   - $prefix/ws               → shared websocket for all games
//   - $prefix/join/:code/qr    → PNG QR code for joining a waiting game
func registerAsciiGame(cfg *Config, mux *httprouter.Router, reg *Registry) {
	mux.GET(cfg.prefix+"/ws", serveWS(cfg, reg))

	mux.GET(cfg.prefix+"/join/:code/qr", qrHandler(reg))
}
