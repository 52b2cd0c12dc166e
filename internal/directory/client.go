package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// Client talks to the Exam Directory Service over HTTP.
type Client struct {
	baseURL      string
	serviceToken string
	http         *http.Client
	log          zerolog.Logger
}

// NewClient creates a Client. serviceToken is used when the request context
// carries no learner token (background recovery).
func NewClient(baseURL, serviceToken string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		serviceToken: serviceToken,
		http:         &http.Client{Timeout: timeout},
		log:          log.With().Str("component", "directory_client").Logger(),
	}
}

// GetExamDetails fetches the exam summary shown on the intro screen.
func (c *Client) GetExamDetails(ctx context.Context, examID string) (*model.ExamSummary, error) {
	var out model.ExamSummary
	if err := c.do(ctx, http.MethodGet, "/exams/"+url.PathEscape(examID), nil, &out); err != nil {
		return nil, fmt.Errorf("get exam %s: %w", examID, err)
	}
	return &out, nil
}

// StartExam asks the directory to create a new attempt.
func (c *Client) StartExam(ctx context.Context, examID string, isGuest bool) (*model.Attempt, error) {
	body := map[string]bool{"is_guest": isGuest}
	var out model.Attempt
	if err := c.do(ctx, http.MethodPost, "/exams/"+url.PathEscape(examID)+"/attempts", body, &out); err != nil {
		return nil, fmt.Errorf("start exam %s: %w", examID, err)
	}
	return &out, nil
}

// GetAttemptDetails fetches ordered questions and saved answers of an attempt.
func (c *Client) GetAttemptDetails(ctx context.Context, attemptID string) (*model.AttemptDetails, error) {
	var out model.AttemptDetails
	if err := c.do(ctx, http.MethodGet, "/attempts/"+url.PathEscape(attemptID), nil, &out); err != nil {
		return nil, fmt.Errorf("get attempt %s: %w", attemptID, err)
	}
	return &out, nil
}

// SubmitAnswer saves a single answer. The taking controller submits in batch
// and does not use it.
func (c *Client) SubmitAnswer(ctx context.Context, attemptID, questionID, value string) error {
	path := "/attempts/" + url.PathEscape(attemptID) + "/answers/" + url.PathEscape(questionID)
	if err := c.do(ctx, http.MethodPut, path, map[string]string{"value": value}, nil); err != nil {
		return fmt.Errorf("submit answer %s/%s: %w", attemptID, questionID, err)
	}
	return nil
}

// SubmitExam submits the whole answer map and closes the attempt.
func (c *Client) SubmitExam(ctx context.Context, attemptID string, answers model.AnswerMap) (*model.SubmitResult, error) {
	if answers == nil {
		answers = model.AnswerMap{}
	}
	body := map[string]interface{}{"answers": answers}
	var out model.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/attempts/"+url.PathEscape(attemptID)+"/submit", body, &out); err != nil {
		return nil, fmt.Errorf("submit attempt %s: %w", attemptID, err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dst interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := response.RequestIDFrom(ctx)
	if reqID == "" {
		reqID = uuid.New().String()
	}
	req.Header.Set("X-Request-ID", reqID)

	token := TokenFrom(ctx)
	if token == "" {
		token = c.serviceToken
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	var env response.Envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil && err != io.EOF {
		if res.StatusCode/100 == 2 {
			return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
	}

	if res.StatusCode/100 != 2 {
		class := classify(res.StatusCode)
		detail := res.Status
		if env.Error != nil {
			detail = string(env.Error.Code)
		}
		c.log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", res.StatusCode).
			Str("detail", detail).
			Msg("Directory request failed")
		return fmt.Errorf("%w: %s", class, detail)
	}

	if dst == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrUnavailable, err)
	}
	return nil
}

func classify(status int) error {
	switch status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusConflict:
		return ErrAlreadySubmitted
	default:
		return ErrUnavailable
	}
}
