package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/utlibraries/mediacat/core"
	"github.com/utlibraries/mediacat/llm"
)

// Batch API: upload a JSONL file of typed requests, create a batch job
// over it, poll for completion, download results as JSONL keyed by
// custom_id.

// SubmitBatch uploads the requests and creates a batch job
func (c *Client) SubmitBatch(ctx context.Context, reqs []llm.BatchRequest) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	var jsonl bytes.Buffer
	enc := json.NewEncoder(&jsonl)
	for _, br := range reqs {
		line := batchLine{
			CustomID: br.CustomID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body:     buildChatRequest(br.Request),
		}
		if err := enc.Encode(&line); err != nil {
			return "", fmt.Errorf("failed to encode batch line %s: %w", br.CustomID, err)
		}
	}

	fileID, err := c.uploadFile(ctx, jsonl.Bytes())
	if err != nil {
		return "", err
	}

	create := batchCreateRequest{
		InputFileID:      fileID,
		Endpoint:         "/v1/chat/completions",
		CompletionWindow: "24h",
	}
	payload, err := json.Marshal(create)
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch create: %w", err)
	}

	resp, err := c.Do(ctx, func() (*http.Request, error) {
		r, reqErr := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/batches", bytes.NewReader(payload))
		if reqErr != nil {
			return nil, reqErr
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
		return r, nil
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read batch create response: %v: %w", err, core.ErrTransientRemote)
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.HandleError("openai", resp, body)
	}

	var batch batchObject
	if err := json.Unmarshal(body, &batch); err != nil {
		return "", fmt.Errorf("failed to parse batch create response: %v: %w", err, core.ErrParse)
	}

	c.Logger.Info("Batch job created", map[string]interface{}{
		"operation":   "llm_batch_created",
		"provider":    "openai",
		"provider_id": batch.ID,
		"requests":    len(reqs),
		"input_bytes": jsonl.Len(),
	})
	return batch.ID, nil
}

// uploadFile posts the JSONL payload with purpose=batch
func (c *Client) uploadFile(ctx context.Context, jsonl []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", "batch"); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	part, err := w.CreateFormFile("file", "batch_input.jsonl")
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(jsonl); err != nil {
		return "", fmt.Errorf("failed to write upload payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finish upload form: %w", err)
	}

	resp, err := c.Do(ctx, func() (*http.Request, error) {
		r, reqErr := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/files", bytes.NewReader(buf.Bytes()))
		if reqErr != nil {
			return nil, reqErr
		}
		r.Header.Set("Content-Type", w.FormDataContentType())
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
		return r, nil
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %v: %w", err, core.ErrTransientRemote)
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.HandleError("openai", resp, body)
	}

	var file fileObject
	if err := json.Unmarshal(body, &file); err != nil {
		return "", fmt.Errorf("failed to parse upload response: %v: %w", err, core.ErrParse)
	}
	return file.ID, nil
}

// BatchStatus polls one batch job
func (c *Client) BatchStatus(ctx context.Context, providerID string) (*llm.BatchStatus, error) {
	batch, err := c.getBatch(ctx, providerID)
	if err != nil {
		return nil, err
	}
	return &llm.BatchStatus{
		ProviderID: batch.ID,
		State:      mapBatchState(batch.Status),
		Total:      batch.RequestCounts.Total,
		Completed:  batch.RequestCounts.Completed,
		Failed:     batch.RequestCounts.Failed,
	}, nil
}

func (c *Client) getBatch(ctx context.Context, providerID string) (*batchObject, error) {
	resp, err := c.Do(ctx, func() (*http.Request, error) {
		r, reqErr := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/batches/"+providerID, nil)
		if reqErr != nil {
			return nil, reqErr
		}
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch status: %v: %w", err, core.ErrTransientRemote)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("batch %s: %w", providerID, core.ErrBatchNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.HandleError("openai", resp, body)
	}

	var batch batchObject
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch status: %v: %w", err, core.ErrParse)
	}
	return &batch, nil
}

// BatchResults downloads the completed job's output and error files
// and parses them into per-custom-id results.
func (c *Client) BatchResults(ctx context.Context, providerID string) ([]llm.BatchResult, error) {
	batch, err := c.getBatch(ctx, providerID)
	if err != nil {
		return nil, err
	}

	var results []llm.BatchResult
	for _, fileID := range []string{batch.OutputFileID, batch.ErrorFileID} {
		if fileID == "" {
			continue
		}
		lines, err := c.downloadJSONL(ctx, fileID)
		if err != nil {
			return nil, err
		}
		results = append(results, lines...)
	}
	return results, nil
}

func (c *Client) downloadJSONL(ctx context.Context, fileID string) ([]llm.BatchResult, error) {
	resp, err := c.Do(ctx, func() (*http.Request, error) {
		r, reqErr := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/files/"+fileID+"/content", nil)
		if reqErr != nil {
			return nil, reqErr
		}
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, c.HandleError("openai", resp, body)
	}

	var results []llm.BatchResult
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var parsed batchResultLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			c.Logger.Warn("Skipping malformed batch result line", map[string]interface{}{
				"operation": "llm_batch_result_parse",
				"provider":  "openai",
				"error":     err.Error(),
			})
			continue
		}
		results = append(results, toBatchResult(&parsed))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading results file: %v: %w", err, core.ErrTransientRemote)
	}
	return results, nil
}

func toBatchResult(line *batchResultLine) llm.BatchResult {
	out := llm.BatchResult{CustomID: line.CustomID}

	if line.Error != nil {
		out.Err = fmt.Errorf("batch request %s failed: %s %s: %w",
			line.CustomID, line.Error.Code, line.Error.Message, core.ErrBatchFailed)
		return out
	}
	if line.Response == nil {
		out.Err = fmt.Errorf("batch request %s has no response: %w", line.CustomID, core.ErrBatchFailed)
		return out
	}
	if line.Response.StatusCode != http.StatusOK {
		out.Err = fmt.Errorf("batch request %s returned status %d: %w",
			line.CustomID, line.Response.StatusCode, core.ErrBatchFailed)
		return out
	}
	body := line.Response.Body
	if len(body.Choices) == 0 {
		out.Err = fmt.Errorf("batch request %s has no choices: %w", line.CustomID, core.ErrParse)
		return out
	}

	out.Response = &core.LLMResponse{
		Content: body.Choices[0].Message.Content,
		Model:   body.Model,
		Usage: core.TokenUsage{
			PromptTokens:     body.Usage.PromptTokens,
			CompletionTokens: body.Usage.CompletionTokens,
			TotalTokens:      body.Usage.TotalTokens,
		},
	}
	return out
}

// mapBatchState converts provider status strings to executor states
func mapBatchState(status string) llm.BatchState {
	switch status {
	case "validating":
		return llm.BatchValidating
	case "in_progress", "cancelling":
		return llm.BatchInProgress
	case "finalizing":
		return llm.BatchFinalizing
	case "completed":
		return llm.BatchCompleted
	case "failed":
		return llm.BatchFailed
	case "expired":
		return llm.BatchExpired
	case "cancelled":
		return llm.BatchCancelled
	}
	return llm.BatchInProgress
}
