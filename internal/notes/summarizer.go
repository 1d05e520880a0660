package notes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dialqueue/internal/llm"
	"dialqueue/internal/logging"
)

const (
	chunkWords   = 1000
	overlapWords = 100
)

const chunkSummaryPrompt = `You analyze fragments of a sales call transcript.
Respond with a JSON object with exactly these keys:
  "summary": what the lead said, their objections, their level of interest,
  and any commitments made;
  "tasks": a list of concrete follow-up actions for the sales team;
  "meeting_schedule_is_true": whether the lead agreed to a meeting;
  "meeting_type_in_person": whether an in-person meeting was agreed;
  "meeting_time_in_person_raw": the exact phrase describing when the
  in-person meeting should happen, or "";
  "meeting_type_virtual": whether a virtual meeting was agreed;
  "meeting_time_virtual_raw": the exact phrase describing when the virtual
  meeting should happen, or "".
Only set the meeting fields when the lead explicitly agreed to meet.`

const finalSummaryPrompt = `You combine partial summaries of one sales call into a single
concise summary for a CRM note. Include the outcome, the lead's interest
level, objections, and agreed next steps. Respond with a JSON object with
one key, "summary".`

// Result is the structured outcome of summarizing one call transcript.
// The meeting fields gate calendar-invite delivery and carry the raw
// scheduling phrases for natural-language parsing.
type Result struct {
	Summary             string   `json:"summary"`
	Tasks               []string `json:"tasks"`
	MeetingScheduled    bool     `json:"meeting_schedule_is_true"`
	MeetingInPerson     bool     `json:"meeting_type_in_person"`
	MeetingTimeInPerson string   `json:"meeting_time_in_person_raw"`
	MeetingVirtual      bool     `json:"meeting_type_virtual"`
	MeetingTimeVirtual  string   `json:"meeting_time_virtual_raw"`
}

// JSONCompleter is the slice of the chat client the summarizer needs.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Summarizer condenses call transcripts into structured CRM notes.
type Summarizer struct {
	client JSONCompleter
	logger *slog.Logger
}

// NewSummarizer constructs a summarizer on top of a chat client.
func NewSummarizer(client JSONCompleter, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Summarizer{
		client: client,
		logger: logging.NewComponentLogger(logger, "summarizer"),
	}
}

// Summarize condenses a transcript into a structured result. Long
// transcripts are split into overlapping word chunks that are analyzed
// independently and then merged: meeting flags accumulate, tasks are
// deduplicated and renumbered, and the partial summaries go through one
// final combining pass. An empty transcript yields an empty result with
// no error.
func (s *Summarizer) Summarize(ctx context.Context, transcript string) (Result, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return Result{}, nil
	}

	chunks := chunkTranscript(transcript, chunkWords, overlapWords)
	partials := make([]Result, 0, len(chunks))
	for i, chunk := range chunks {
		raw, err := s.client.CompleteJSON(ctx, chunkSummaryPrompt, chunk)
		if err != nil {
			return Result{}, fmt.Errorf("summarize chunk %d of %d: %w", i+1, len(chunks), err)
		}
		var partial Result
		if err := llm.DecodeJSON(raw, &partial); err != nil {
			return Result{}, fmt.Errorf("decode chunk %d of %d: %w", i+1, len(chunks), err)
		}
		partials = append(partials, partial)
	}

	merged := mergeResults(partials)
	if len(partials) == 1 {
		return merged, nil
	}

	summaries := make([]string, 0, len(partials))
	for _, partial := range partials {
		if trimmed := strings.TrimSpace(partial.Summary); trimmed != "" {
			summaries = append(summaries, trimmed)
		}
	}
	raw, err := s.client.CompleteJSON(ctx, finalSummaryPrompt, strings.Join(summaries, "\n\n"))
	if err != nil {
		return Result{}, fmt.Errorf("merge chunk summaries: %w", err)
	}
	var combined Result
	if err := llm.DecodeJSON(raw, &combined); err != nil {
		return Result{}, fmt.Errorf("decode merged summary: %w", err)
	}
	merged.Summary = strings.TrimSpace(combined.Summary)
	return merged, nil
}

// mergeResults folds per-chunk results into one. Meeting flags accumulate,
// the first non-empty scheduling phrase wins, and the combined task list is
// deduplicated and renumbered.
func mergeResults(partials []Result) Result {
	var merged Result
	var tasks []string
	for _, partial := range partials {
		tasks = append(tasks, partial.Tasks...)
		merged.MeetingScheduled = merged.MeetingScheduled || partial.MeetingScheduled
		merged.MeetingInPerson = merged.MeetingInPerson || partial.MeetingInPerson
		merged.MeetingVirtual = merged.MeetingVirtual || partial.MeetingVirtual
		if merged.MeetingTimeInPerson == "" {
			merged.MeetingTimeInPerson = strings.TrimSpace(partial.MeetingTimeInPerson)
		}
		if merged.MeetingTimeVirtual == "" {
			merged.MeetingTimeVirtual = strings.TrimSpace(partial.MeetingTimeVirtual)
		}
	}
	if len(partials) == 1 {
		merged.Summary = strings.TrimSpace(partials[0].Summary)
	}
	merged.Tasks = dedupTasks(tasks)
	return merged
}

// dedupTasks strips model-supplied numbering, drops case-insensitive
// duplicates from overlapping chunks, and renumbers the survivors.
func dedupTasks(tasks []string) []string {
	seen := make(map[string]struct{}, len(tasks))
	var out []string
	for _, task := range tasks {
		stripped := stripTaskNumber(task)
		if stripped == "" {
			continue
		}
		key := strings.ToLower(stripped)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, fmt.Sprintf("%d. %s", len(out)+1, stripped))
	}
	return out
}

func stripTaskNumber(task string) string {
	trimmed := strings.TrimSpace(task)
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i > 0 && i < len(trimmed) && (trimmed[i] == '.' || trimmed[i] == ')') {
		trimmed = strings.TrimSpace(trimmed[i+1:])
	}
	return trimmed
}

// chunkTranscript splits text into word chunks of at most size words, with
// each chunk repeating the last overlap words of its predecessor so
// exchanges spanning a boundary are never lost.
func chunkTranscript(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}
	if overlap >= size {
		overlap = size / 10
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
