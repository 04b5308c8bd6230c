package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// UploadImage stores an image with the gateway and returns its URL.
func (c *Client) UploadImage(ctx context.Context, filename string, data io.Reader) (UploadResult, error) {
	var out UploadResult
	if err := c.postMultipart(ctx, "/api/uploads/image", c.timeouts.UploadTimeout, filename, data, nil, &out); err != nil {
		return UploadResult{}, err
	}
	if out.failed() {
		return UploadResult{}, &Error{Message: out.Error}
	}
	return out, nil
}

// UploadAudio stores a recorded audio clip with the gateway.
func (c *Client) UploadAudio(ctx context.Context, filename string, data io.Reader) (UploadResult, error) {
	var out UploadResult
	if err := c.postMultipart(ctx, "/api/uploads/audio", c.timeouts.UploadTimeout, filename, data, nil, &out); err != nil {
		return UploadResult{}, err
	}
	if out.failed() {
		return UploadResult{}, &Error{Message: out.Error}
	}
	return out, nil
}

// TranscribeAudio converts a voice clip to text.
func (c *Client) TranscribeAudio(ctx context.Context, filename string, data io.Reader, language string) (TranscriptionResult, error) {
	var out TranscriptionResult
	fields := map[string]string{"language": language}
	if err := c.postMultipart(ctx, "/api/transcribe", c.timeouts.TranscribeTimeout, filename, data, fields, &out); err != nil {
		return TranscriptionResult{}, err
	}
	if out.failed() {
		return TranscriptionResult{}, &Error{Message: out.Error}
	}
	return out, nil
}

// TextToSpeech synthesizes spoken audio for a response.
func (c *Client) TextToSpeech(ctx context.Context, text, language string) (SpeechResult, error) {
	req := map[string]string{"text": text, "language": language}
	var out SpeechResult
	if err := c.postJSON(ctx, "/api/tts", c.timeouts.TTSTimeout, req, &out); err != nil {
		return SpeechResult{}, err
	}
	if out.failed() {
		return SpeechResult{}, &Error{Message: out.Error}
	}
	return out, nil
}

// DiagnosePlantHealth asks the vision service to assess a plant image. The
// chat request supplies language and location context for the assessment.
func (c *Client) DiagnosePlantHealth(ctx context.Context, imageURL string, req ChatRequest) (DiagnosisResult, error) {
	body := struct {
		ChatRequest
		ImageURL string `json:"imageUrl"`
	}{ChatRequest: req, ImageURL: imageURL}

	var out DiagnosisResult
	if err := c.postJSON(ctx, "/api/diagnose", c.timeouts.DiagnoseTimeout, body, &out); err != nil {
		return DiagnosisResult{}, err
	}
	if out.failed() {
		return DiagnosisResult{}, &Error{Message: out.Error}
	}
	return out, nil
}

// postMultipart uploads a file plus optional form fields and decodes the
// JSON reply.
func (c *Client) postMultipart(ctx context.Context, path string, timeout time.Duration, filename string, data io.Reader, fields map[string]string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body strings.Builder
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, data); err != nil {
		return fmt.Errorf("failed to copy file data: %w", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body.String()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}
	if err := decodeJSON(resp.Body, out); err != nil {
		return err
	}
	return nil
}

func decodeJSON(r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
