// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package muse

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomBytes(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	rng.Read(b)
	return b
}

func TestFuzz_DecodeEEG(t *testing.T) {
	rng := newFuzzRng(t)
	for round := 0; round < getFuzzRounds(); round++ {
		payload := randomBytes(rng, rng.Intn(40))
		samples, err := DecodeEEG(payload)
		if len(payload) < HeaderSize {
			if err == nil {
				t.Fatalf("Round %d: expected error for %d-byte payload", round, len(payload))
			}
			continue
		}
		if err != nil {
			t.Fatalf("Round %d: unexpected error: %v", round, err)
		}
		if len(samples) != len(payload)-HeaderSize {
			t.Fatalf("Round %d: expected %d samples, got %d", round, len(payload)-HeaderSize, len(samples))
		}
		for i, v := range samples {
			if v != float32(payload[HeaderSize+i]) {
				t.Fatalf("Round %d: sample %d mismatch", round, i)
			}
		}
	}
}

func TestFuzz_DecodePPG(t *testing.T) {
	rng := newFuzzRng(t)
	for round := 0; round < getFuzzRounds(); round++ {
		k := rng.Intn(10)
		extra := rng.Intn(3)
		payload := randomBytes(rng, HeaderSize+3*k+extra)
		samples, err := DecodePPG(payload)
		if err != nil {
			t.Fatalf("Round %d: unexpected error: %v", round, err)
		}
		if len(samples) != k {
			t.Fatalf("Round %d: expected %d samples, got %d", round, k, len(samples))
		}
		for i, v := range samples {
			b := payload[HeaderSize+3*i:]
			expected := float32(int(b[0])*65536 + int(b[1])*256 + int(b[2]))
			if v != expected {
				t.Fatalf("Round %d: sample %d expected %v, got %v", round, i, expected, v)
			}
		}
	}
}

func TestFuzz_EncodeCommand(t *testing.T) {
	rng := newFuzzRng(t)
	for round := 0; round < getFuzzRounds(); round++ {
		cmd := randomBytes(rng, rng.Intn(300))
		frame, err := EncodeCommand(cmd)
		if len(cmd) > MaxCommandLength {
			if err == nil {
				t.Fatalf("Round %d: expected error for %d-byte command", round, len(cmd))
			}
			continue
		}
		if err != nil {
			t.Fatalf("Round %d: unexpected error: %v", round, err)
		}
		if len(frame) != len(cmd)+2 || int(frame[0]) != len(frame)-1 || frame[len(frame)-1] != '\n' {
			t.Fatalf("Round %d: malformed frame % X", round, frame)
		}
	}
}

// Random interleaving across families never mixes values between families,
// and every emission carries exactly ChunkLength frames.
func TestFuzz_ReassemblerInterleaving(t *testing.T) {
	rng := newFuzzRng(t)
	r := NewReassembler()
	for round := 0; round < getFuzzRounds(); round++ {
		family := Families[rng.Intn(len(Families))]
		ch := Channel{Family: family, Index: rng.Intn(family.Channels())}
		length := family.ChunkLength()
		if rng.Intn(8) == 0 {
			length = rng.Intn(family.ChunkLength())
		}
		marker := float32(int(family)*1000 + ch.Index + 1)
		frames := r.Write(ch, constChunk(length, marker))

		if !ch.IsLast() {
			if frames != nil {
				t.Fatalf("Round %d: emission on non-last channel", round)
			}
			continue
		}
		if len(frames) != family.ChunkLength() {
			t.Fatalf("Round %d: expected %d frames, got %d", round, family.ChunkLength(), len(frames))
		}
		for _, f := range frames {
			for idx, v := range f.Values {
				if v != 0 && v != float32(int(family)*1000+idx+1) {
					t.Fatalf("Round %d: channel %d carries foreign value %v", round, idx, v)
				}
			}
		}
		if !slateIsZero(r.Slate(family)) {
			t.Fatalf("Round %d: slate not cleared", round)
		}
	}
}
