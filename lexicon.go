package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/json"
	"fmt"
	"math/big"
)

//go:embed assets/words.json
var wordsJSON []byte

//go:embed assets/ascii.json
var asciiJSON []byte

// Lexicon is the read-only dictionary backing every game: the word pool and
// the character-to-binary mappings used to expand each word into solvable
// characters. It is loaded once at startup and validated for completeness,
// so a missing mapping can never surface mid-game.
type Lexicon struct {
	words     []string
	solutions map[string]string
}

type asciiMapping struct {
	Character string `json:"character"`
	Binary    string `json:"binary"`
}

func loadLexicon() (*Lexicon, error) {
	var wordList struct {
		Words []string `json:"words"`
	}
	if err := json.Unmarshal(wordsJSON, &wordList); err != nil {
		return nil, fmt.Errorf("parsing embedded word list: %w", err)
	}

	var mappingList struct {
		AsciiMappings []asciiMapping `json:"asciiMappings"`
	}
	if err := json.Unmarshal(asciiJSON, &mappingList); err != nil {
		return nil, fmt.Errorf("parsing embedded ascii mappings: %w", err)
	}

	lexicon := &Lexicon{
		words:     wordList.Words,
		solutions: make(map[string]string, len(mappingList.AsciiMappings)),
	}

	for _, mapping := range mappingList.AsciiMappings {
		lexicon.solutions[mapping.Character] = mapping.Binary
	}

	if len(lexicon.words) < wordsPerGame {
		return nil, fmt.Errorf("word list has %d entries, need at least %d", len(lexicon.words), wordsPerGame)
	}

	// Every listed word must expand fully, so Expand can never fail later.
	for _, word := range lexicon.words {
		for _, character := range word {
			if _, ok := lexicon.solutions[string(character)]; !ok {
				return nil, fmt.Errorf("no ascii mapping for %q in word %q", string(character), word)
			}
		}
	}

	return lexicon, nil
}

// Expand turns a word into its ordered character/solution pairs.
func (l *Lexicon) Expand(word string) Word {
	characters := make([]CharacterSolution, 0, len(word))
	for _, character := range word {
		solution, ok := l.solutions[string(character)]
		if !ok {
			panic("lexicon missing mapping for " + string(character))
		}
		characters = append(characters, CharacterSolution{
			Character: string(character),
			Solution:  solution,
		})
	}
	return Word{Characters: characters}
}

// Pick selects n distinct words by rejection sampling: draw a random index,
// skip words already chosen, loop until n are accepted.
func (l *Lexicon) Pick(n int) []Word {
	if n > len(l.words) {
		panic("lexicon smaller than requested pick")
	}

	chosen := make(map[string]bool, n)
	words := make([]Word, 0, n)

	for len(words) < n {
		word := l.words[randomIndex(len(l.words))]
		if chosen[word] {
			continue
		}
		chosen[word] = true
		words = append(words, l.Expand(word))
	}

	return words
}

func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return int(v.Int64())
}
