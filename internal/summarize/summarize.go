package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"codemap/internal/retrieve"
	"codemap/internal/store"
)

const (
	// MaxCodeChars bounds how much entity source goes into a prompt.
	MaxCodeChars = 25000
	// maxErrChars bounds the persisted per-entity failure message.
	maxErrChars = 500

	DefaultLimit   = 200
	DefaultTimeout = 2 * time.Minute
)

// Request carries everything a backend needs to describe one entity.
type Request struct {
	Kind      string
	FQName    string
	Signature string
	Docstring string
	Code      string
	Truncated bool
}

// Summarizer generates a summary for one entity. Implementations live in
// internal/llm and are selected once by the caller.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, req Request) (string, error)
}

// SystemPrompt frames every summarization request.
const SystemPrompt = `You are summarizing Python code for a local developer knowledge base.
Rules:
- Be factual; if unclear, write 'unclear'.
- No speculation.
- Keep it compact.
- Output MUST be at most 12 lines.
`

// Template tells every backend the output shape to produce.
const Template = `Produce a 12-lines-or-less structured summary with these headings:
1) Purpose:
2) Responsibilities:
3) Inputs/Outputs:
4) Side effects:
5) Error modes:
6) Key methods/flows:
7) Extension points:
8) Related concepts:
(Skip headings that are not applicable, but still stay <=12 lines.)
Last line MUST be: Coverage: full|partial|unclear
`

// PromptBody renders the entity block shared by all backends.
func (r Request) PromptBody() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ENTITY\nkind: %s\nfqname: %s\nsignature: %s\n\n", r.Kind, r.FQName, r.Signature)
	fmt.Fprintf(&b, "NOTE\ncode_truncated: %t\nmax_chars: %d\n\n", r.Truncated, MaxCodeChars)
	fmt.Fprintf(&b, "DOCSTRING (may be empty)\n%s\n\n", r.Docstring)
	fmt.Fprintf(&b, "CODE\n%s\n\n", r.Code)
	b.WriteString(Template)
	return b.String()
}

// Failure records one entity the run could not summarize.
type Failure struct {
	FQName string
	Err    string
}

// Report summarizes one backfill run.
type Report struct {
	Selected int
	Updated  int
	Failed   int
	Skipped  int
	Failures []Failure
	Skips    []Failure
}

// Options tunes a backfill run. Zero values take the defaults.
type Options struct {
	Limit   int
	Timeout time.Duration
	// OnEntity is called before each entity is summarized.
	OnEntity func(i, total int, e store.Entity)
}

// Filler backfills missing entity summaries through an injected backend.
type Filler struct {
	store    store.Store
	snippets *retrieve.SnippetExtractor
	backend  Summarizer
}

// NewFiller creates a filler. The snippet extractor must be rooted at the
// same source root the index was built from.
func NewFiller(s store.Store, snippets *retrieve.SnippetExtractor, backend Summarizer) *Filler {
	return &Filler{store: s, snippets: snippets, backend: backend}
}

// Fill selects entities missing a summary and fills them one at a time.
// Entities whose snippet cannot be read (stale or missing source) are
// skipped. A backend failure marks that entity and continues; it never
// aborts the batch. Each backend call runs under its own timeout.
// Cancelling ctx stops the run; completed entities stay persisted.
func (f *Filler) Fill(ctx context.Context, opts Options) (*Report, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	todo, err := f.store.EntitiesMissingSummary(limit)
	if err != nil {
		return nil, err
	}

	report := &Report{Selected: len(todo)}
	for i, e := range todo {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if opts.OnEntity != nil {
			opts.OnEntity(i+1, len(todo), e)
		}

		code, err := f.snippets.Read(&e)
		if err != nil {
			report.Skipped++
			report.Skips = append(report.Skips, Failure{FQName: e.FQName, Err: err.Error()})
			continue
		}

		summary, err := f.summarizeOne(ctx, buildRequest(&e, code), timeout)
		if err != nil {
			msg := truncateErr(err)
			report.Failed++
			report.Failures = append(report.Failures, Failure{FQName: e.FQName, Err: msg})
			if serr := f.store.SetSummaryError(e.ID, msg); serr != nil {
				return report, fmt.Errorf("record failure for %s: %w", e.FQName, serr)
			}
			continue
		}

		if err := f.store.SetSummary(e.ID, summary, f.backend.Name()); err != nil {
			return report, fmt.Errorf("write summary for %s: %w", e.FQName, err)
		}
		report.Updated++
	}
	return report, nil
}

// FillOne summarizes a single already-fetched entity and persists the
// result. Unlike Fill it propagates snippet and backend errors to the
// caller; a backend failure is still recorded on the entity first.
func (f *Filler) FillOne(ctx context.Context, e *store.Entity, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	code, err := f.snippets.Read(e)
	if err != nil {
		return "", err
	}

	summary, err := f.summarizeOne(ctx, buildRequest(e, code), timeout)
	if err != nil {
		if serr := f.store.SetSummaryError(e.ID, truncateErr(err)); serr != nil {
			return "", fmt.Errorf("record failure for %s: %w", e.FQName, serr)
		}
		return "", err
	}
	if err := f.store.SetSummary(e.ID, summary, f.backend.Name()); err != nil {
		return "", fmt.Errorf("write summary for %s: %w", e.FQName, err)
	}
	return summary, nil
}

func buildRequest(e *store.Entity, code string) Request {
	req := Request{
		Kind:      e.Kind,
		FQName:    e.FQName,
		Signature: e.Signature,
		Docstring: e.Docstring,
		Code:      code,
	}
	if len(req.Code) > MaxCodeChars {
		req.Code = req.Code[:MaxCodeChars]
		req.Truncated = true
	}
	return req
}

func (f *Filler) summarizeOne(parent context.Context, req Request, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	summary, err := f.backend.Summarize(ctx, req)
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("empty summary from %s", f.backend.Name())
	}
	return summary, nil
}

func truncateErr(err error) string {
	msg := err.Error()
	if len(msg) > maxErrChars {
		msg = msg[:maxErrChars]
	}
	return msg
}
