package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sprite-ai/revloop/internal/logging"
	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/report"
	"github.com/sprite-ai/revloop/internal/review"
	"github.com/sprite-ai/revloop/internal/trace"
	"github.com/sprite-ai/revloop/internal/trend"
)

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Submissions ---

// submission is a code body sent as JSON or as a multipart "file" upload.
type submission struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

var errTooLarge = errors.New("request body too large")

func (s *Server) readSubmission(w http.ResponseWriter, r *http.Request) (submission, error) {
	// Allow for multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+64<<10)

	var sub submission
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return sub, classifyBodyError(fmt.Errorf("reading upload: %w", err))
		}
		defer f.Close()
		raw, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
		if err != nil {
			return sub, classifyBodyError(fmt.Errorf("reading upload: %w", err))
		}
		sub = submission{Name: hdr.Filename, Content: string(raw)}
	} else if err := readJSON(r, &sub); err != nil {
		return sub, classifyBodyError(fmt.Errorf("invalid request: %w", err))
	}

	if int64(len(sub.Content)) > s.cfg.MaxUploadBytes {
		return sub, errTooLarge
	}
	sub.Name = filepath.Base(strings.TrimSpace(sub.Name))
	if sub.Name == "" || sub.Name == "." || sub.Name == ".." || sub.Name == "/" {
		return sub, errors.New("name is required")
	}
	if strings.TrimSpace(sub.Content) == "" {
		return sub, errors.New("content is required")
	}
	return sub, nil
}

func classifyBodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errTooLarge
	}
	return err
}

func (s *Server) submissionError(w http.ResponseWriter, err error) {
	if errors.Is(err, errTooLarge) {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
		return
	}
	s.writeError(w, http.StatusBadRequest, err.Error())
}

// --- Review ---

type stepJSON struct {
	Type      string  `json:"type"`
	Iteration int     `json:"iteration"`
	Summary   string  `json:"summary"`
	Score     float64 `json:"score,omitempty"`
	OffsetMS  int64   `json:"offset_ms"`
}

func toTimelineJSON(t *trace.Trace) []stepJSON {
	if t == nil {
		return nil
	}
	steps := make([]stepJSON, 0, len(t.Steps))
	for _, st := range t.Steps {
		steps = append(steps, stepJSON{
			Type:      st.Type.String(),
			Iteration: st.Iteration,
			Summary:   st.Summary,
			Score:     st.Score,
			OffsetMS:  st.Timestamp.Sub(t.StartTime).Milliseconds(),
		})
	}
	return steps
}

type reviewResponse struct {
	RunID       string                  `json:"run_id"`
	File        string                  `json:"file"`
	Identity    string                  `json:"identity"`
	Passed      bool                    `json:"passed"`
	Iterations  int                     `json:"iterations"`
	Aborted     bool                    `json:"aborted"`
	AbortReason string                  `json:"abort_reason,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	Evaluation  *model.EvaluationRecord `json:"evaluation"`
	Summary     string                  `json:"summary"`
	Report      json.RawMessage         `json:"report"`
	Markdown    string                  `json:"markdown"`
	FinalCode   string                  `json:"final_code"`
	Changed     bool                    `json:"changed"`
	Timeline    []stepJSON              `json:"timeline"`
	DurationMS  int64                   `json:"duration_ms"`
	Error       string                  `json:"error,omitempty"`
}

func (s *Server) toReviewResponse(res *review.Result) reviewResponse {
	resp := reviewResponse{
		RunID:       res.RunID,
		File:        res.File,
		Identity:    res.Identity.String(),
		Passed:      res.Passed(s.cfg.Threshold),
		Iterations:  res.Iterations,
		Aborted:     res.Aborted,
		AbortReason: res.AbortReason,
		Warnings:    res.Warnings,
		Evaluation:  res.Evaluation,
		Summary:     res.Report.Summary(),
		Markdown:    report.Markdown(res.Report),
		FinalCode:   res.FinalCode,
		Changed:     res.Changed(),
		Timeline:    toTimelineJSON(res.Timeline),
		DurationMS:  res.Duration.Milliseconds(),
	}
	if raw, err := report.JSON(res.Report); err == nil {
		resp.Report = json.RawMessage(raw)
	}
	return resp
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	sub, err := s.readSubmission(w, r)
	if err != nil {
		s.submissionError(w, err)
		return
	}

	res, err := s.reviewer.ReviewContent(r.Context(), sub.Name, []byte(sub.Content))
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, s.toReviewResponse(res))
	case errors.Is(err, review.ErrNoEvaluation) && res != nil:
		resp := s.toReviewResponse(res)
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusBadGateway, resp)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// Client went away.
	default:
		s.log.Error(r.Context(), "review failed", zap.String("file", sub.Name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "review failed: "+err.Error())
	}
}

// --- Analyze ---

type analyzeResponse struct {
	File     string          `json:"file"`
	Summary  string          `json:"summary"`
	Total    int             `json:"total"`
	Failed   []string        `json:"failed,omitempty"`
	Report   json.RawMessage `json:"report"`
	Markdown string          `json:"markdown"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sub, err := s.readSubmission(w, r)
	if err != nil {
		s.submissionError(w, err)
		return
	}

	rep, err := s.reviewer.AnalyzeContent(r.Context(), sub.Name, []byte(sub.Content))
	if err != nil {
		s.log.Error(r.Context(), "analyze failed", zap.String("file", sub.Name), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "analyze failed: "+err.Error())
		return
	}

	raw, err := report.JSON(rep)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := analyzeResponse{
		File:     rep.File,
		Summary:  rep.Summary(),
		Total:    rep.TotalFindings(),
		Report:   json.RawMessage(raw),
		Markdown: report.Markdown(rep),
	}
	for _, c := range rep.FailedCategories() {
		resp.Failed = append(resp.Failed, string(c))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// --- History ---

type historyResponse struct {
	Identity string        `json:"identity"`
	Count    int           `json:"count"`
	Entries  []trend.Entry `json:"entries"`
	Digest   string        `json:"digest"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := trend.Identity(r.PathValue("identity"))
	if err := id.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := logging.WithFileIdentity(r.Context(), id.String())

	entries, digest, err := s.reviewer.History(ctx, id)
	if err != nil {
		s.log.Error(ctx, "loading history failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "loading history: "+err.Error())
		return
	}
	if entries == nil {
		entries = []trend.Entry{}
	}
	s.writeJSON(w, http.StatusOK, historyResponse{Identity: id.String(), Count: len(entries), Entries: entries, Digest: digest})
}
