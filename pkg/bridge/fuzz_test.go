// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"bytes"
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

// ============================================================
// Round Trip Fuzzing
// ============================================================

func TestFuzz_NotificationRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	d := NewDecoder()

	for round := 0; round < getFuzzRounds(); round++ {
		data := make([]byte, rng.Intn(180))
		rng.Read(data)

		wire, err := Encode(NewNotification("273e0003-4c4d-454d-96be-f03bac821358", data))
		if err != nil {
			t.Fatalf("Round %d: encode failed: %v", round, err)
		}

		msgs, errs := d.Decode(wire)
		if len(errs) > 0 {
			t.Fatalf("Round %d: decode errors: %v", round, errs)
		}
		if len(msgs) != 1 {
			t.Fatalf("Round %d: expected 1 message, got %d", round, len(msgs))
		}
		if !bytes.Equal(msgs[0].Data(), data) {
			t.Fatalf("Round %d: data mismatch\nexpected % X\ngot      % X", round, data, msgs[0].Data())
		}
	}
}

func TestFuzz_StuffingRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)

	for round := 0; round < getFuzzRounds(); round++ {
		data := make([]byte, rng.Intn(300))
		// Bias towards the special bytes
		for i := range data {
			switch rng.Intn(4) {
			case 0:
				data[i] = StartByte
			case 1:
				data[i] = EscByte
			default:
				data[i] = byte(rng.Intn(256))
			}
		}

		stuffed := stuffBytes(data)
		for _, b := range stuffed {
			if b == StartByte || b == EndByte {
				t.Fatalf("Round %d: framing byte survived stuffing", round)
			}
		}
		out, err := UnstuffBytes(stuffed)
		if err != nil {
			t.Fatalf("Round %d: unstuff failed: %v", round, err)
		}
		if !bytes.Equal(out, data) {
			t.Fatalf("Round %d: round trip mismatch", round)
		}
	}
}

// ============================================================
// Robustness Fuzzing
// ============================================================

func TestFuzz_DecoderRandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	d := NewDecoder()

	for round := 0; round < getFuzzRounds(); round++ {
		noise := make([]byte, rng.Intn(512))
		rng.Read(noise)

		// Must never panic on arbitrary input
		d.Decode(noise)

		// A clean frame after noise is always recovered
		d.Reset()
		msgs, _ := d.Decode(MustEncode(NewDisconnected()))
		if len(msgs) != 1 || msgs[0].Type() != MsgDisconnected {
			t.Fatalf("Round %d: decoder did not recover after reset", round)
		}
	}
}
