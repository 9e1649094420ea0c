package games

// A host creates a game and receives a six-digit join code to share
// Players join with the code and a display name, unique within the game
// When the host starts the game, sixteen random words are drawn for everyone
// After a short countdown, each player receives the first word
// Players convert each character of the word to its binary ASCII form
// A correct answer is worth ten points per 1 bit, so dense characters pay more
// Wrong answers cost nothing; players retry until they get it right
// Finishing a word advances to the next; finishing all sixteen ends the run

// Display formats:
// One large word with the current character highlighted, plus a bit-entry pad
// A host scoreboard ordered by points, updated live

// Implementation details:
// - One shared websocket endpoint; messages carry an "action" discriminator
// - The host connection is not a player; it gets join and score events
// - Word payloads include the solutions, so clients render their own progress

// How to play
// - Everyone races through the same word list, each at their own pace
// - Speed matters for the leaderboard; the score itself rewards bit density
// - The host stops the game whenever they like, which ends it for everyone
