// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package naming assigns human-readable names to newly minted cases.
// Naming is best-effort and fully decoupled from resolution: a naming
// failure never fails or delays the resolution that triggered it.
package naming

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianCases/services/llm"
	"github.com/AleutianAI/AleutianCases/services/resolver/datatypes"
	"github.com/AleutianAI/AleutianCases/services/resolver/observability"
)

var tracer = otel.Tracer("aleutian.cases.naming")

// namePrompt asks for a short Bahasa Indonesia case name. The reply is
// used verbatim after sanitization, so the prompt forbids explanations.
const namePrompt = `Buatkan nama kasus yang singkat dan deskriptif dalam Bahasa Indonesia (maksimal 6 kata) untuk laporan insiden berikut. Jawab hanya dengan nama kasusnya saja, tanpa penjelasan, tanpa tanda kutip.

Kategori: %s
Laporan: %s`

// maxNameLength caps stored case names.
const maxNameLength = 120

// NameStore persists a case name onto the case's reports.
type NameStore interface {
	AssignCaseName(ctx context.Context, caseID, name string) error
}

// Config configures the namer.
type Config struct {
	// QueueSize bounds the pending naming queue. When full, new requests
	// are dropped. Default: 64.
	QueueSize int

	// Workers is the number of naming workers. Default: 2.
	Workers int

	// RequestsPerMinute rate-limits LLM calls across all workers.
	// Default: 30.
	RequestsPerMinute int

	// Timeout bounds one naming attempt end to end. Default: 60s.
	Timeout time.Duration

	// Metrics records naming outcomes. May be nil.
	Metrics *observability.ResolutionMetrics
}

func applyConfigDefaults(cfg *Config) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
}

type task struct {
	caseID   string
	category string
	content  string
}

// Namer generates and persists case names asynchronously.
type Namer struct {
	client  llm.LLMClient
	store   NameStore
	cfg     Config
	queue   chan task
	limiter *rate.Limiter
	group   singleflight.Group
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewNamer starts a namer with its worker pool.
func NewNamer(client llm.LLMClient, store NameStore, cfg Config) *Namer {
	applyConfigDefaults(&cfg)

	n := &Namer{
		client:  client,
		store:   store,
		cfg:     cfg,
		queue:   make(chan task, cfg.QueueSize),
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1),
	}
	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Enqueue requests a name for a case. Never blocks: when the queue is
// full or the namer is closed, the request is dropped and logged.
func (n *Namer) Enqueue(caseID, category, content string) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		slog.Warn("naming request after close, dropped", "case_id", caseID)
		return
	}
	n.mu.Unlock()

	select {
	case n.queue <- task{caseID: caseID, category: category, content: content}:
	default:
		n.cfg.Metrics.RecordNaming("dropped")
		slog.Warn("naming queue full, request dropped", "case_id", caseID)
	}
}

// Close stops accepting requests, drains the queue, and waits for
// in-flight naming to finish.
func (n *Namer) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	close(n.queue)
	n.wg.Wait()
}

func (n *Namer) worker() {
	defer n.wg.Done()
	for t := range n.queue {
		n.process(t)
	}
}

// process names one case. Concurrent requests for the same case ID
// collapse into a single LLM call.
func (n *Namer) process(t task) {
	_, err, _ := n.group.Do(t.caseID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
		defer cancel()
		return nil, n.nameCase(ctx, t)
	})
	if err != nil {
		n.cfg.Metrics.RecordNaming("failed")
		slog.Warn("case naming failed",
			"case_id", t.caseID,
			"error", err)
		return
	}
	n.cfg.Metrics.RecordNaming("named")
}

func (n *Namer) nameCase(ctx context.Context, t task) error {
	ctx, span := tracer.Start(ctx, "naming.nameCase",
		trace.WithAttributes(attribute.String("case_id", t.caseID)))
	defer span.End()

	if err := n.limiter.Wait(ctx); err != nil {
		span.SetStatus(codes.Error, "rate limit wait cancelled")
		return &datatypes.NamingFailedError{CaseID: t.caseID, Err: err}
	}

	prompt := fmt.Sprintf(namePrompt, t.category, t.content)
	raw, err := n.client.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm generate failed")
		return &datatypes.NamingFailedError{CaseID: t.caseID, Err: err}
	}

	name := sanitizeName(raw)
	if name == "" {
		span.SetStatus(codes.Error, "empty name")
		return &datatypes.NamingFailedError{
			CaseID: t.caseID,
			Err:    fmt.Errorf("llm returned an empty name"),
		}
	}

	if err := n.store.AssignCaseName(ctx, t.caseID, name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return &datatypes.NamingFailedError{CaseID: t.caseID, Err: err}
	}

	slog.Info("case named", "case_id", t.caseID, "case_name", name)
	span.SetStatus(codes.Ok, "named")
	return nil
}

// sanitizeName strips quoting and whitespace the model tends to add and
// caps the length.
func sanitizeName(raw string) string {
	name := strings.TrimSpace(raw)
	if idx := strings.IndexByte(name, '\n'); idx >= 0 {
		name = name[:idx]
	}
	name = strings.Trim(name, `"'`)
	name = strings.TrimSpace(name)
	if len(name) > maxNameLength {
		name = strings.TrimSpace(name[:maxNameLength])
	}
	return name
}
