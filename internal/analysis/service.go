// Package analysis orchestrates the crop-health assessment the admission
// pipeline fronts: a short debate between model personas over the submitted
// report, followed by a synthesized verdict.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/verdantai/croplens/internal/config"
)

const (
	roleOptimist = "optimist"
	roleSkeptic  = "skeptic"
	roleReferee  = "referee"
)

const (
	optimistPrompt = "You are an experienced agronomist reviewing a crop-health report. Give the most favorable plausible reading of the evidence: what is healthy, what is recoverable, and what low-cost steps keep it that way. Be concrete and brief."
	skepticPrompt  = "You are a plant pathologist reviewing a crop-health report and a colleague's first opinion. Challenge it: name the diseases, pests, or stress factors the evidence could indicate, and what the optimistic reading overlooks. Be concrete and brief."
	refereePrompt  = "You are the referee of a crop-health debate. Weigh both positions and produce a final verdict for the grower: overall health judgement, the most likely issue if any, and the next action. End with a line of the form 'confidence: 0.NN'."
)

var confidencePattern = regexp.MustCompile(`(?i)confidence:\s*([01](?:\.\d+)?)`)

// Request is the sanitized, validated body the pipeline forwards. The
// admission pipeline's only contract with this service is that every field
// here already passed sanitization and structural validation.
type Request struct {
	CropType string         `json:"cropType"`
	Image    string         `json:"image,omitempty"`
	Notes    string         `json:"notes,omitempty"`
	Location any            `json:"location,omitempty"`
	Weather  map[string]any `json:"weather,omitempty"`
}

// Round is one position taken during the debate.
type Round struct {
	Role     string `json:"role"`
	Position string `json:"position"`
}

// Assessment is the assembled debate result.
type Assessment struct {
	Verdict     string    `json:"verdict"`
	Confidence  float64   `json:"confidence"`
	Rounds      []Round   `json:"rounds"`
	Model       string    `json:"model"`
	CompletedAt time.Time `json:"completedAt"`
}

// Service holds the model client and orchestration settings.
type Service struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// New creates the orchestration service. The API key is required; an
// OpenAI-compatible base URL is optional.
func New(cfg config.AnalysisConfig) (*Service, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("analysis: api key required")
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}

	client := openai.NewClient(requestOpts...)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Service{client: &client, model: cfg.Model, timeout: timeout}, nil
}

// Assess runs the sequential debate: optimist, skeptic, then referee. Each
// call sees the report; later calls also see the earlier positions.
func (s *Service) Assess(ctx context.Context, req Request) (Assessment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	report := describeReport(req)

	optimist, err := s.complete(ctx, optimistPrompt, report)
	if err != nil {
		return Assessment{}, fmt.Errorf("optimist round: %w", err)
	}

	skeptic, err := s.complete(ctx, skepticPrompt, report+"\n\nFirst opinion:\n"+optimist)
	if err != nil {
		return Assessment{}, fmt.Errorf("skeptic round: %w", err)
	}

	verdict, err := s.complete(ctx, refereePrompt, fmt.Sprintf("%s\n\nOptimist position:\n%s\n\nSkeptic position:\n%s", report, optimist, skeptic))
	if err != nil {
		return Assessment{}, fmt.Errorf("referee round: %w", err)
	}

	return Assessment{
		Verdict:    verdict,
		Confidence: parseConfidence(verdict),
		Rounds: []Round{
			{Role: roleOptimist, Position: optimist},
			{Role: roleSkeptic, Position: skeptic},
			{Role: roleReferee, Position: verdict},
		},
		Model:       s.model,
		CompletedAt: time.Now().UTC(),
	}, nil
}

func (s *Service) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func describeReport(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Crop: %s\n", req.CropType)
	if req.Notes != "" {
		fmt.Fprintf(&b, "Grower notes: %s\n", req.Notes)
	}
	if req.Location != nil {
		fmt.Fprintf(&b, "Location: %v\n", req.Location)
	}
	if len(req.Weather) > 0 {
		fmt.Fprintf(&b, "Weather: %v\n", req.Weather)
	}
	if req.Image != "" {
		b.WriteString("A field photo was attached (not shown here).\n")
	}
	return b.String()
}

// parseConfidence pulls the referee's trailing confidence figure; a missing
// or malformed figure degrades to 0.5 rather than failing the assessment.
func parseConfidence(verdict string) float64 {
	m := confidencePattern.FindStringSubmatch(verdict)
	if m == nil {
		return 0.5
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 1 {
		return 0.5
	}
	return v
}
