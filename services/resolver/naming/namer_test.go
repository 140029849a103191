// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package naming

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCases/services/llm"
)

type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.response, f.err
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNameStore struct {
	mu    sync.Mutex
	names map[string]string
	err   error
}

func newFakeNameStore() *fakeNameStore {
	return &fakeNameStore{names: make(map[string]string)}
}

func (f *fakeNameStore) AssignCaseName(ctx context.Context, caseID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.names[caseID] = name
	return nil
}

func (f *fakeNameStore) nameOf(caseID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[caseID]
}

func fastConfig() Config {
	return Config{
		QueueSize:         16,
		Workers:           2,
		RequestsPerMinute: 60000,
		Timeout:           5 * time.Second,
	}
}

func TestNamer_NamesCase(t *testing.T) {
	client := &fakeLLM{response: "Ledakan Pasar Pondok Aren"}
	store := newFakeNameStore()
	namer := NewNamer(client, store, fastConfig())

	namer.Enqueue("BOM-PNDKRN-20250314-01-A3F2", "BOM", "ledakan di pasar")
	namer.Close()

	assert.Equal(t, "Ledakan Pasar Pondok Aren", store.nameOf("BOM-PNDKRN-20250314-01-A3F2"))
}

func TestNamer_SanitizesModelOutput(t *testing.T) {
	client := &fakeLLM{response: "  \"Ledakan Pasar\"\npenjelasan tambahan"}
	store := newFakeNameStore()
	namer := NewNamer(client, store, fastConfig())

	namer.Enqueue("BOM-PNDKRN-20250314-01-A3F2", "BOM", "ledakan di pasar")
	namer.Close()

	assert.Equal(t, "Ledakan Pasar", store.nameOf("BOM-PNDKRN-20250314-01-A3F2"))
}

func TestNamer_LLMFailureLeavesCaseUnnamed(t *testing.T) {
	client := &fakeLLM{err: errors.New("model unavailable")}
	store := newFakeNameStore()
	namer := NewNamer(client, store, fastConfig())

	namer.Enqueue("BOM-PNDKRN-20250314-01-A3F2", "BOM", "ledakan di pasar")
	namer.Close()

	assert.Empty(t, store.nameOf("BOM-PNDKRN-20250314-01-A3F2"))
}

func TestNamer_StoreFailureDoesNotPanic(t *testing.T) {
	client := &fakeLLM{response: "Ledakan Pasar"}
	store := newFakeNameStore()
	store.err = errors.New("weaviate down")
	namer := NewNamer(client, store, fastConfig())

	namer.Enqueue("BOM-PNDKRN-20250314-01-A3F2", "BOM", "ledakan di pasar")
	namer.Close()

	assert.Empty(t, store.nameOf("BOM-PNDKRN-20250314-01-A3F2"))
}

func TestNamer_DropsWhenQueueFull(t *testing.T) {
	client := &fakeLLM{response: "Nama"}
	store := newFakeNameStore()
	cfg := fastConfig()
	cfg.QueueSize = 1
	cfg.Workers = 1
	cfg.RequestsPerMinute = 1 // slow the worker so the queue backs up
	namer := NewNamer(client, store, cfg)

	for i := 0; i < 20; i++ {
		namer.Enqueue("BOM-PNDKRN-20250314-01-A3F2", "BOM", "laporan")
	}

	// Dropping must be silent and non-blocking; no assertion on how
	// many made it through.
	go namer.Close()
	time.Sleep(100 * time.Millisecond)
}

func TestNamer_EnqueueAfterCloseIsSafe(t *testing.T) {
	client := &fakeLLM{response: "Nama"}
	store := newFakeNameStore()
	namer := NewNamer(client, store, fastConfig())
	namer.Close()

	assert.NotPanics(t, func() {
		namer.Enqueue("BOM-PNDKRN-20250314-01-A3F2", "BOM", "laporan")
	})
}

func TestSanitizeName(t *testing.T) {
	testCases := []struct {
		raw      string
		expected string
	}{
		{"Ledakan Pasar", "Ledakan Pasar"},
		{"  Ledakan Pasar  ", "Ledakan Pasar"},
		{"\"Ledakan Pasar\"", "Ledakan Pasar"},
		{"'Ledakan Pasar'", "Ledakan Pasar"},
		{"Ledakan Pasar\nKeterangan: ...", "Ledakan Pasar"},
		{"", ""},
		{"   \n  ", ""},
		{strings.Repeat("a", 300), strings.Repeat("a", maxNameLength)},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, sanitizeName(tc.raw))
	}
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := Config{}

	applyConfigDefaults(&cfg)

	require.Equal(t, 64, cfg.QueueSize)
	require.Equal(t, 2, cfg.Workers)
	require.Equal(t, 30, cfg.RequestsPerMinute)
	require.Equal(t, 60*time.Second, cfg.Timeout)
}
