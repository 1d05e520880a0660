package invites

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"dialqueue/internal/logging"
	"dialqueue/internal/notes"
)

// Config captures calendar-invite settings.
type Config struct {
	Endpoint        string
	Timezone        string
	DurationMinutes int
	RequestTimeout  int
}

// Invite is one scheduled meeting extracted from a call summary.
type Invite struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Phrase    string    `json:"-"`
}

// Sender turns the meeting fields of a summarizer result into calendar
// invites posted to the scheduling endpoint. Invite failures are logged,
// never propagated; a missed invite must not fail call finalization.
type Sender struct {
	endpoint string
	location *time.Location
	duration time.Duration

	httpClient *http.Client
	parser     *when.Parser
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes the sender.
type Option func(*Sender)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Sender) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithNow overrides the reference clock used for parsing relative dates
// (useful for tests).
func WithNow(now func() time.Time) Option {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSender constructs an invite sender. The timezone anchors relative
// phrases like "tomorrow at 2pm" to the sales team's calendar.
func NewSender(cfg Config, logger *slog.Logger, opts ...Option) (*Sender, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	location := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load invite timezone: %w", err)
		}
		location = loc
	}

	duration := 30 * time.Minute
	if cfg.DurationMinutes > 0 {
		duration = time.Duration(cfg.DurationMinutes) * time.Minute
	}
	timeout := 15 * time.Second
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}

	parser := when.New(nil)
	parser.Add(en.All...)
	parser.Add(common.All...)

	sender := &Sender{
		endpoint:   strings.TrimSpace(cfg.Endpoint),
		location:   location,
		duration:   duration,
		httpClient: &http.Client{Timeout: timeout},
		parser:     parser,
		logger:     logging.NewComponentLogger(logger, "invites"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(sender)
	}
	return sender, nil
}

// Send posts calendar invites for the meetings a call agreed on. Nothing
// goes out unless the summarizer flagged a scheduled meeting; the
// in-person and virtual slots are parsed and delivered independently from
// their raw scheduling phrases. Returns the number of invites delivered.
func (s *Sender) Send(ctx context.Context, name, email string, result notes.Result) int {
	if s.endpoint == "" {
		return 0
	}
	if strings.TrimSpace(email) == "" {
		return 0
	}
	if !result.MeetingScheduled {
		return 0
	}

	sent := 0
	if result.MeetingInPerson {
		sent += s.sendMeeting(ctx, name, email, "In-person meeting", result.MeetingTimeInPerson)
	}
	if result.MeetingVirtual {
		sent += s.sendMeeting(ctx, name, email, "Virtual meeting", result.MeetingTimeVirtual)
	}
	return sent
}

func (s *Sender) sendMeeting(ctx context.Context, name, email, kind, phrase string) int {
	start, ok := s.parseTime(phrase)
	if !ok {
		s.logger.Warn("meeting time not parseable, skipping invite",
			logging.String("kind", kind),
			logging.String("phrase", phrase))
		return 0
	}

	title := kind
	if name != "" {
		title = kind + " with " + name
	}
	invite := Invite{
		Email:     email,
		Name:      name,
		Title:     title,
		StartTime: start,
		EndTime:   start.Add(s.duration),
		Phrase:    strings.TrimSpace(phrase),
	}
	if err := s.send(ctx, invite); err != nil {
		s.logger.Warn("invite delivery failed",
			logging.String("phrase", invite.Phrase),
			logging.Error(err))
		return 0
	}
	s.logger.Info("invite sent",
		logging.String("kind", kind),
		logging.String("start", invite.StartTime.Format(time.RFC3339)))
	return 1
}

// parseTime anchors a natural-language scheduling phrase to the configured
// timezone.
func (s *Sender) parseTime(phrase string) (time.Time, bool) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return time.Time{}, false
	}
	base := s.now().In(s.location)
	result, err := s.parser.Parse(phrase, base)
	if err != nil || result == nil {
		return time.Time{}, false
	}
	return result.Time, true
}

func (s *Sender) send(ctx context.Context, invite Invite) error {
	payload, err := json.Marshal(invite)
	if err != nil {
		return fmt.Errorf("encode invite: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post invite: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("invite endpoint http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
