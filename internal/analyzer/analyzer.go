// Package analyzer maps buckets to free-text analysis of conversation chunks.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/intake-go/internal/bucket"
	"github.com/raphaelgruber/intake-go/internal/conversation"
	"github.com/raphaelgruber/intake-go/internal/models"
)

// ID identifies an analyzer in the fixed catalog.
type ID string

const (
	Basics ID = "basics"
	Story  ID = "story"
	Words  ID = "words"
	Style  ID = "style"
)

// systemPrompt is the fixed system role for all analyzers.
const systemPrompt = `You are a brand strategist reviewing an onboarding conversation with a business owner.
Write a short, concrete analysis of what the conversation reveals about the topic you are asked about.
Base your analysis ONLY on what was actually said. Do not invent details.`

// Definition wires an analyzer to its trigger bucket, prompt template and
// downstream parser. Static catalog; defined at process start.
type Definition struct {
	ID       ID
	Bucket   bucket.ID
	Parser   string
	Template string
}

// Substitution slots recognized in templates.
const (
	slotBusinessName = "{{business_name}}"
	slotBusinessDesc = "{{business_description}}"
	slotConversation = "{{conversation}}"
)

var catalog = map[ID]Definition{
	Basics: {
		ID:     Basics,
		Bucket: bucket.Basics,
		Parser: "basics",
		Template: `Business: {{business_name}}
Description: {{business_description}}

Conversation:
{{conversation}}

Analyze what this conversation reveals about the fundamentals of the business: who it serves, what it sells, how it positions itself on price, and what industry it operates in.`,
	},
	Story: {
		ID:     Story,
		Bucket: bucket.Story,
		Parser: "story",
		Template: `Business: {{business_name}}
Description: {{business_description}}

Conversation:
{{conversation}}

Analyze the origin story told in this conversation: why the founder started the business, what motivated them, and which milestones they mention.`,
	},
	Words: {
		ID:     Words,
		Bucket: bucket.Words,
		Parser: "words",
		Template: `Business: {{business_name}}
Description: {{business_description}}

Conversation:
{{conversation}}

Analyze the language of this conversation: which values and brand words the owner keeps returning to, what tone they use, and which phrases could work as taglines.`,
	},
	Style: {
		ID:     Style,
		Bucket: bucket.Style,
		Parser: "style",
		Template: `Business: {{business_name}}
Description: {{business_description}}

Conversation:
{{conversation}}

Analyze the visual preferences expressed in this conversation: colors, typography leanings, and any reference brands or sites the owner points to.`,
	},
}

var byBucket = func() map[bucket.ID]Definition {
	m := make(map[bucket.ID]Definition, len(catalog))
	for _, def := range catalog {
		m[def.Bucket] = def
	}
	return m
}()

// ByID resolves an analyzer identifier.
func ByID(id ID) (Definition, bool) {
	def, ok := catalog[id]
	return def, ok
}

// ForBucket returns the analyzer triggered by a bucket, if any. Buckets
// without an analyzer feed their parser the raw chunk instead.
func ForBucket(b bucket.ID) (Definition, bool) {
	def, ok := byBucket[b]
	return def, ok
}

// Context bundles the inputs a template can substitute.
type Context struct {
	BusinessName        string
	BusinessDescription string
	Chunk               conversation.Chunk
}

// TextGenerator is the LLM text-completion capability the stage depends on.
type TextGenerator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GenerationFailure reports a failed analyzer invocation: the capability
// errored or returned an empty string. The stage never retries internally;
// retry policy belongs to the caller.
type GenerationFailure struct {
	Analyzer ID
	Elapsed  time.Duration
	Err      error
}

func (e *GenerationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analyzer %s failed after %s: %v", e.Analyzer, e.Elapsed, e.Err)
	}
	return fmt.Sprintf("analyzer %s returned empty output after %s", e.Analyzer, e.Elapsed)
}

func (e *GenerationFailure) Unwrap() error {
	return e.Err
}

// Render substitutes the context into the definition's template.
func (d Definition) Render(actx Context) string {
	return strings.NewReplacer(
		slotBusinessName, actx.BusinessName,
		slotBusinessDesc, actx.BusinessDescription,
		slotConversation, actx.Chunk.Transcript(),
	).Replace(d.Template)
}

// Analyze renders the prompt and invokes the text-completion capability,
// wrapping a non-empty response as an AnalysisOutput.
func Analyze(ctx context.Context, gen TextGenerator, def Definition, actx Context) (*models.AnalysisOutput, error) {
	prompt := def.Render(actx)

	start := time.Now()
	prose, err := gen.GenerateWithSystem(ctx, systemPrompt, prompt)
	elapsed := time.Since(start)

	if err != nil {
		return nil, &GenerationFailure{Analyzer: def.ID, Elapsed: elapsed, Err: err}
	}
	if strings.TrimSpace(prose) == "" {
		return nil, &GenerationFailure{Analyzer: def.ID, Elapsed: elapsed}
	}

	slog.Debug("analysis complete", "analyzer", def.ID, "input_messages", actx.Chunk.Size(),
		"duration_ms", elapsed.Milliseconds())

	return &models.AnalysisOutput{
		Analyzer:      string(def.ID),
		Prose:         prose,
		InputMessages: actx.Chunk.Size(),
		CreatedAt:     time.Now(),
	}, nil
}
