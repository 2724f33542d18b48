// Package workerstub holds the deterministic, documented stand-ins for the
// real DiffSinger pipeline stages that cmd/cpu-worker and cmd/gpu-worker
// implement in place of the out-of-scope ML pipeline (SPEC_FULL.md §6):
// parsing, phonemization, acoustic/vocoder inference are all replaced here
// with cheap, reproducible computations over a hash of the tool's inputs,
// so the orchestration core can be exercised end-to-end.
package workerstub

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Seed hashes parts into a stable uint64, the basis for every deterministic
// stand-in below — same input, same output, every run.
func Seed(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// IntRange maps seed onto [min, max] inclusive.
func IntRange(seed uint64, min, max int) int {
	if max <= min {
		return min
	}
	return min + int(seed%uint64(max-min+1))
}

// Phonemize splits text on whitespace and expands each word into a crude
// phoneme-like token sequence (syllable count approximated from vowel runs)
// — a stand-in for a real grapheme-to-phoneme model.
func Phonemize(text string) []string {
	var out []string
	for _, word := range strings.Fields(text) {
		word = strings.ToLower(word)
		syll := countVowelRuns(word)
		if syll == 0 {
			syll = 1
		}
		for i := 0; i < syll; i++ {
			out = append(out, word+"_ph"+strconv.Itoa(i))
		}
	}
	return out
}

func countVowelRuns(word string) int {
	const vowels = "aeiouy"
	runs, inRun := 0, false
	for _, r := range word {
		isVowel := strings.ContainsRune(vowels, r)
		if isVowel && !inRun {
			runs++
		}
		inRun = isVowel
	}
	return runs
}

// Durations returns one deterministic duration (in milliseconds) per
// phoneme, seeded from name so repeated calls for the same phoneme sequence
// agree.
func Durations(seed uint64, phonemeCount int) []int {
	out := make([]int, phonemeCount)
	for i := range out {
		out[i] = IntRange(Seed(strconv.FormatUint(seed, 10), strconv.Itoa(i)), 60, 220)
	}
	return out
}

// PitchContour returns a deterministic pitch curve in Hz, one sample per
// phoneme, centered around a plausible vocal range.
func PitchContour(seed uint64, phonemeCount int) []float64 {
	out := make([]float64, phonemeCount)
	for i := range out {
		s := Seed(strconv.FormatUint(seed, 10), "pitch", strconv.Itoa(i))
		out[i] = 180 + float64(IntRange(s, 0, 220))
	}
	return out
}

// Variance returns a deterministic expressive-variance value per phoneme in
// [0,1), a stand-in for predicted energy/breathiness parameters.
func Variance(seed uint64, phonemeCount int) []float64 {
	out := make([]float64, phonemeCount)
	for i := range out {
		s := Seed(strconv.FormatUint(seed, 10), "variance", strconv.Itoa(i))
		out[i] = float64(s%1000) / 1000
	}
	return out
}
