package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidInput marks caller-supplied values outside the recognized enumerations.
var ErrInvalidInput = errors.New("invalid input")

// HumanDecision is the human override layer on top of the model verdict.
type HumanDecision string

const (
	HumanApproved HumanDecision = "approved"
	HumanRejected HumanDecision = "rejected"
)

// GoldExampleType marks a record for inclusion in few-shot prompts.
type GoldExampleType string

const (
	GoldGood GoldExampleType = "good"
	GoldBad  GoldExampleType = "bad"
)

// FrequencyState classifies how often an author has recently been approved.
type FrequencyState string

const (
	FrequencyFresh   FrequencyState = "fresh"
	FrequencyHot     FrequencyState = "hot"
	FrequencyWarm    FrequencyState = "warm"
	FrequencyHealthy FrequencyState = "healthy"
)

// RawPost is a candidate post as produced by an upstream feed
type RawPost struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	URL    string  `json:"url"`
	Author *Author `json:"author,omitempty"`
}

// Author of a raw post
type Author struct {
	Username string `json:"username"`
}

// AuthorUsername returns the author handle, falling back to the handle in an
// X/Twitter status URL. It is nil when neither is available.
func (p RawPost) AuthorUsername() *string {
	if p.Author != nil {
		if u := strings.TrimPrefix(strings.TrimSpace(p.Author.Username), "@"); u != "" {
			return &u
		}
	}
	return AuthorFromURL(p.URL)
}

var statusURLPattern = regexp.MustCompile(`^https?://(?:www\.|mobile\.)?(?:x|twitter)\.com/([A-Za-z0-9_]{1,15})/status(?:es)?/(\d+)`)

// AuthorFromURL extracts the handle from https://x.com/<handle>/status/<id>
// and the twitter.com equivalents.
func AuthorFromURL(url string) *string {
	m := statusURLPattern.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil || m[1] == "i" {
		return nil
	}
	return &m[1]
}

// StatusIDFromURL extracts the numeric post id from a status URL.
func StatusIDFromURL(url string) string {
	m := statusURLPattern.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return ""
	}
	return m[2]
}

// PostRecord is the persisted state of one post and its verdicts.
type PostRecord struct {
	ID             string  `json:"id"`
	Text           string  `json:"text"`
	URL            string  `json:"url"`
	AuthorUsername *string `json:"author_username,omitempty"`

	// Model verdict. ModelApproved is nil until the post has been judged.
	JudgeQuote    string `json:"judge_quote"`
	ModelApproved *bool  `json:"model_approved"`
	Score         int    `json:"score"`

	// Human review
	HumanDecision         *HumanDecision   `json:"human_decision"`
	GoldExampleType       *GoldExampleType `json:"gold_example_type"`
	GoldExampleCorrection *string          `json:"gold_example_correction,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// HasModelDecision reports whether the judge has produced a verdict.
func (r *PostRecord) HasModelDecision() bool {
	return r.ModelApproved != nil
}

// LastActivity is UpdatedAt when set, CreatedAt otherwise.
func (r *PostRecord) LastActivity() time.Time {
	if r.UpdatedAt != nil {
		return *r.UpdatedAt
	}
	return r.CreatedAt
}

// FewShot projects a gold-example record into its prompt view.
// ok is false for records that are not gold examples.
func (r *PostRecord) FewShot() (ex FewShotExample, ok bool) {
	if r.GoldExampleType == nil {
		return FewShotExample{}, false
	}
	ex = FewShotExample{
		Text:      r.Text,
		Response:  r.JudgeQuote,
		Type:      *r.GoldExampleType,
		UpdatedAt: r.LastActivity(),
	}
	if r.GoldExampleCorrection != nil {
		c := *r.GoldExampleCorrection
		ex.Correction = &c
	}
	return ex, true
}

// FewShotExample is a calibration example injected into the judge prompt.
type FewShotExample struct {
	Text       string          `json:"text"`
	Response   string          `json:"response"`
	Correction *string         `json:"correction,omitempty"`
	Type       GoldExampleType `json:"type"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// AuthorFrequency summarizes an author's recent approved posts.
type AuthorFrequency struct {
	Username        string         `json:"username"`
	PostsLast7Days  int            `json:"posts_last_7_days"`
	PostsLast30Days int            `json:"posts_last_30_days"`
	FrequencyState  FrequencyState `json:"frequency_state"`
}

// DeriveFrequencyState classifies rolling approval counts.
func DeriveFrequencyState(last7, last30 int) FrequencyState {
	switch {
	case last7 == 0 && last30 == 0:
		return FrequencyFresh
	case last7 >= 2:
		return FrequencyHot
	case last30 >= 3:
		return FrequencyWarm
	default:
		return FrequencyHealthy
	}
}

// ParseHumanDecision parses a human decision value. The empty string and
// "null" clear the decision.
func ParseHumanDecision(s string) (*HumanDecision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none":
		return nil, nil
	case string(HumanApproved):
		d := HumanApproved
		return &d, nil
	case string(HumanRejected):
		d := HumanRejected
		return &d, nil
	}
	return nil, fmt.Errorf("%w: human decision %q", ErrInvalidInput, s)
}

// ParseGoldExampleType parses a gold example type. The empty string, "none"
// and "null" clear the type.
func ParseGoldExampleType(s string) (*GoldExampleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none":
		return nil, nil
	case string(GoldGood):
		t := GoldGood
		return &t, nil
	case string(GoldBad):
		t := GoldBad
		return &t, nil
	}
	return nil, fmt.Errorf("%w: gold example type %q", ErrInvalidInput, s)
}

// ValidateGoldExample enforces that a correction accompanies exactly the
// "bad" type. It returns the correction to store.
func ValidateGoldExample(t *GoldExampleType, correction *string) (*string, error) {
	if t != nil && *t == GoldBad {
		if correction == nil || strings.TrimSpace(*correction) == "" {
			return nil, fmt.Errorf("%w: a correction is required for bad gold examples", ErrInvalidInput)
		}
		c := strings.TrimSpace(*correction)
		return &c, nil
	}
	if correction != nil && strings.TrimSpace(*correction) != "" {
		return nil, fmt.Errorf("%w: a correction is only allowed for bad gold examples", ErrInvalidInput)
	}
	return nil, nil
}
