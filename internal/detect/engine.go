package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"time"

	"github.com/planscan-tech/planscan/internal/utils"
)

// Engine is the external detection collaborator. Detect returns one
// detection list per input raster, with coordinates normalized to the
// raster each list belongs to. Implementations own their resource model
// (GPU scheduling, model lifecycle); callers treat them as opaque.
type Engine interface {
	Detect(ctx context.Context, batch []image.Image) ([][]RawDetection, error)
}

// DetectorError reports a failed call to the external detection engine.
type DetectorError struct {
	Op  string
	Err error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s: %v", e.Op, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// HTTPEngine calls a remote detection endpoint. The wire contract mirrors
// the GPU worker API: a JSON body with base64 PNG images in, one result
// list per image out.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
}

// NewHTTPEngine creates an engine client for the given batch endpoint.
func NewHTTPEngine(endpoint string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type engineRequest struct {
	Images []string `json:"images"`
}

type engineDetection struct {
	Text       string     `json:"text"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

type engineTileResult struct {
	Results []engineDetection `json:"results"`
}

type engineResponse struct {
	Success      bool               `json:"success"`
	BatchResults []engineTileResult `json:"batch_results"`
	Error        string             `json:"error,omitempty"`
}

// Detect submits the batch in a single call and decodes per-image results.
func (e *HTTPEngine) Detect(ctx context.Context, batch []image.Image) ([][]RawDetection, error) {
	req := engineRequest{Images: make([]string, 0, len(batch))}
	for i, img := range batch {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, &DetectorError{Op: "encode", Err: fmt.Errorf("image %d: %w", i, err)}
		}
		req.Images = append(req.Images, base64.StdEncoding.EncodeToString(buf.Bytes()))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &DetectorError{Op: "encode", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &DetectorError{Op: "request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &DetectorError{Op: "call", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &DetectorError{Op: "call", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var decoded engineResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &DetectorError{Op: "decode", Err: err}
	}
	if !decoded.Success {
		return nil, &DetectorError{Op: "call", Err: fmt.Errorf("engine reported failure: %s", decoded.Error)}
	}
	if len(decoded.BatchResults) != len(batch) {
		return nil, &DetectorError{
			Op:  "decode",
			Err: fmt.Errorf("got %d result lists for %d images", len(decoded.BatchResults), len(batch)),
		}
	}

	out := make([][]RawDetection, len(batch))
	for i, tr := range decoded.BatchResults {
		rows := make([]RawDetection, 0, len(tr.Results))
		for _, d := range tr.Results {
			rows = append(rows, RawDetection{
				Value:      d.Text,
				Confidence: d.Confidence,
				Box:        utils.NewBox(d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]),
			})
		}
		out[i] = rows
	}
	return out, nil
}
