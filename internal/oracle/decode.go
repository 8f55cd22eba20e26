package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sprite-ai/revloop/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// scoreReply is the wire form of a scoring response. The flat *_score
// fields are accepted as an alternative to the scores object.
type scoreReply struct {
	Scores           map[string]int `json:"scores" validate:"len=4,dive,keys,oneof=style correctness security performance,endkeys,min=1,max=10"`
	OverallScore     *float64       `json:"overall_score"`
	ShouldRetry      *bool          `json:"should_retry" validate:"required"`
	Instructions     string         `json:"improvement_instructions"`
	Comments         string         `json:"comments"`
	Trend            string         `json:"trend"`
	StyleScore       *int           `json:"style_score,omitempty"`
	CorrectnessScore *int           `json:"correctness_score,omitempty"`
	SecurityScore    *int           `json:"security_score,omitempty"`
	PerformanceScore *int           `json:"performance_score,omitempty"`
}

func (r *scoreReply) foldFlatScores() {
	if len(r.Scores) > 0 {
		return
	}
	flat := map[string]*int{
		string(model.CategoryStyle):       r.StyleScore,
		string(model.CategoryCorrectness): r.CorrectnessScore,
		string(model.CategorySecurity):    r.SecurityScore,
		string(model.CategoryPerformance): r.PerformanceScore,
	}
	for k, v := range flat {
		if v != nil {
			if r.Scores == nil {
				r.Scores = make(map[string]int, 4)
			}
			r.Scores[k] = *v
		}
	}
}

// DecodeScore parses and validates a scoring response. The overall score is
// recomputed as the mean of the four category scores.
func DecodeScore(raw string) (model.EvaluationRecord, error) {
	var reply scoreReply
	if err := json.Unmarshal([]byte(extractJSON(raw)), &reply); err != nil {
		return model.EvaluationRecord{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	reply.foldFlatScores()
	if err := validate.Struct(&reply); err != nil {
		return model.EvaluationRecord{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	scores := make(model.Scores, len(reply.Scores))
	for k, v := range reply.Scores {
		scores[model.Category(k)] = v
	}
	if err := scores.Validate(); err != nil {
		return model.EvaluationRecord{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return model.EvaluationRecord{
		Scores:          scores,
		OverallScore:    scores.Mean(),
		ShouldRetry:     *reply.ShouldRetry,
		Instructions:    strings.TrimSpace(reply.Instructions),
		Comments:        strings.TrimSpace(reply.Comments),
		TrendCommentary: strings.TrimSpace(reply.Trend),
		Timestamp:       time.Now().UTC(),
	}, nil
}

type patchReply struct {
	UpdatedCode string `json:"updated_code" validate:"required"`
	Description string `json:"description"`
}

// DecodePatch parses and validates a patch response.
func DecodePatch(raw string) (Patch, error) {
	var reply patchReply
	if err := json.Unmarshal([]byte(extractJSON(raw)), &reply); err != nil {
		return Patch{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := validate.Struct(&reply); err != nil {
		return Patch{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(reply.UpdatedCode) == "" {
		return Patch{}, fmt.Errorf("%w: updated_code is blank", ErrMalformedResponse)
	}
	return Patch{UpdatedCode: reply.UpdatedCode, Description: strings.TrimSpace(reply.Description)}, nil
}

// extractJSON strips Markdown fences and any prose around a JSON object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
