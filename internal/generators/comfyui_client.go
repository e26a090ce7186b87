package generators

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"echoweaver/server/internal/config"
)

const pollInterval = 1 * time.Second

// ComfyUIClient renders illustrations through a ComfyUI instance. It
// implements interfaces.ImageService: queue a workflow, poll history
// until an image appears, fetch the bytes, return them base64-encoded.
type ComfyUIClient struct {
	httpClient *http.Client
	baseURL    string
	cfg        config.ComfyUIConfig
}

// WorkflowNode represents a node in a ComfyUI workflow
type WorkflowNode struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
}

// Workflow maps node IDs to nodes
type Workflow map[string]*WorkflowNode

type promptRequest struct {
	Prompt   Workflow `json:"prompt"`
	ClientID string   `json:"client_id"`
}

type historyItem struct {
	Outputs map[string]struct {
		Images []imageInfo `json:"images"`
	} `json:"outputs"`
}

type imageInfo struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NewComfyUIClient creates a new ComfyUI client
func NewComfyUIClient(cfg config.ComfyUIConfig) *ComfyUIClient {
	return &ComfyUIClient{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.BaseURL,
		cfg:     cfg,
	}
}

// Render generates an illustration for the prompt and returns it as
// base64-encoded PNG bytes.
func (c *ComfyUIClient) Render(ctx context.Context, prompt string) (string, error) {
	workflow := c.buildWorkflow(prompt)

	promptID, err := c.queuePrompt(ctx, &promptRequest{
		Prompt:   workflow,
		ClientID: fmt.Sprintf("echoweaver_%d", time.Now().UnixNano()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to queue prompt: %w", err)
	}

	img, err := c.pollForImage(ctx, promptID)
	if err != nil {
		return "", fmt.Errorf("failed to get result: %w", err)
	}

	data, err := c.fetchImage(ctx, img)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// HealthCheck checks if ComfyUI is accessible
func (c *ComfyUIClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/queue", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ComfyUI returned status %d", resp.StatusCode)
	}

	return nil
}

// queuePrompt sends a workflow to the queue and returns its prompt ID
func (c *ComfyUIClient) queuePrompt(ctx context.Context, req *promptRequest) (string, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/prompt", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("invalid response: missing prompt_id")
	}

	return result.PromptID, nil
}

// pollForImage polls the history endpoint until the prompt has produced
// an image or the context expires.
func (c *ComfyUIClient) pollForImage(ctx context.Context, promptID string) (*imageInfo, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}

		history, err := c.getHistory(ctx, promptID)
		if err != nil {
			continue
		}

		item, ok := history[promptID]
		if !ok {
			continue
		}

		for _, output := range item.Outputs {
			if len(output.Images) > 0 {
				img := output.Images[0]
				return &img, nil
			}
		}
	}
}

func (c *ComfyUIClient) getHistory(ctx context.Context, promptID string) (map[string]historyItem, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/history/"+promptID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var history map[string]historyItem
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, err
	}

	return history, nil
}

// fetchImage retrieves the rendered image bytes
func (c *ComfyUIClient) fetchImage(ctx context.Context, img *imageInfo) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", img.Filename)
	if img.Subfolder != "" {
		q.Set("subfolder", img.Subfolder)
	}
	if img.Type != "" {
		q.Set("type", img.Type)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d fetching image", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// buildWorkflow builds a text-to-image workflow for the configured
// checkpoint. Node wiring references are [nodeID, outputIndex] pairs.
func (c *ComfyUIClient) buildWorkflow(prompt string) Workflow {
	workflow := make(Workflow)

	workflow["4"] = &WorkflowNode{
		ClassType: "CheckpointLoaderSimple",
		Inputs: map[string]interface{}{
			"ckpt_name": c.cfg.Model,
		},
	}

	workflow["5"] = &WorkflowNode{
		ClassType: "EmptyLatentImage",
		Inputs: map[string]interface{}{
			"width":      c.cfg.Width,
			"height":     c.cfg.Height,
			"batch_size": 1,
		},
	}

	workflow["6"] = &WorkflowNode{
		ClassType: "CLIPTextEncode",
		Inputs: map[string]interface{}{
			"text": prompt,
			"clip": []interface{}{"4", 1},
		},
	}

	workflow["7"] = &WorkflowNode{
		ClassType: "CLIPTextEncode",
		Inputs: map[string]interface{}{
			"text": c.cfg.NegativePrompt,
			"clip": []interface{}{"4", 1},
		},
	}

	workflow["3"] = &WorkflowNode{
		ClassType: "KSampler",
		Inputs: map[string]interface{}{
			"seed":         time.Now().UnixNano() % (1 << 31),
			"steps":        c.cfg.Steps,
			"cfg":          c.cfg.CFGScale,
			"sampler_name": "euler",
			"scheduler":    "normal",
			"denoise":      1,
			"model":        []interface{}{"4", 0},
			"positive":     []interface{}{"6", 0},
			"negative":     []interface{}{"7", 0},
			"latent_image": []interface{}{"5", 0},
		},
	}

	workflow["8"] = &WorkflowNode{
		ClassType: "VAEDecode",
		Inputs: map[string]interface{}{
			"samples": []interface{}{"3", 0},
			"vae":     []interface{}{"4", 2},
		},
	}

	workflow["9"] = &WorkflowNode{
		ClassType: "SaveImage",
		Inputs: map[string]interface{}{
			"images":          []interface{}{"8", 0},
			"filename_prefix": fmt.Sprintf("echoweaver_%d", time.Now().Unix()),
		},
	}

	return workflow
}
