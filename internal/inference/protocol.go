package inference

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// KServe v2 (Triton) HTTP protocol with the binary tensor data extension.
//
// A request body is a JSON header followed by the raw input tensor bytes; the
// Inference-Header-Content-Length header gives the JSON length. Responses use the
// same framing when an output asks for binary data, and plain JSON otherwise.

const (
	// InputName is the model's image input tensor.
	InputName = "images"
	// OutputName is the model's class-label output tensor.
	OutputName = "masks"

	headerContentLength = "Inference-Header-Content-Length"
	datatypeUint8       = "UINT8"
)

type tensorParameters struct {
	BinaryDataSize *int `json:"binary_data_size,omitempty"`
	BinaryData     bool `json:"binary_data,omitempty"`
}

type inputTensor struct {
	Name       string            `json:"name"`
	Shape      []int             `json:"shape"`
	Datatype   string            `json:"datatype"`
	Parameters *tensorParameters `json:"parameters,omitempty"`
}

type requestedOutput struct {
	Name       string            `json:"name"`
	Parameters *tensorParameters `json:"parameters,omitempty"`
}

type inferRequest struct {
	Inputs  []inputTensor     `json:"inputs"`
	Outputs []requestedOutput `json:"outputs"`
}

type outputTensor struct {
	Name       string            `json:"name"`
	Shape      []int             `json:"shape"`
	Datatype   string            `json:"datatype"`
	Parameters *tensorParameters `json:"parameters,omitempty"`
	Data       []int             `json:"data,omitempty"`
}

type inferResponse struct {
	ModelName    string         `json:"model_name"`
	ModelVersion string         `json:"model_version,omitempty"`
	Outputs      []outputTensor `json:"outputs"`
}

// inferPath returns the inference route for a model and optional version.
func inferPath(model, version string) string {
	p := "/v2/models/" + url.PathEscape(model)
	if version != "" {
		p += "/versions/" + url.PathEscape(version)
	}
	return p + "/infer"
}

// encodeRequest frames one NHWC UINT8 image of height x width x 3 for inference.
// It returns the request body and the length of its JSON header.
func encodeRequest(pix []byte, height, width int) ([]byte, int, error) {
	size := len(pix)
	req := inferRequest{
		Inputs: []inputTensor{{
			Name:       InputName,
			Shape:      []int{1, height, width, 3},
			Datatype:   datatypeUint8,
			Parameters: &tensorParameters{BinaryDataSize: &size},
		}},
		Outputs: []requestedOutput{{
			Name:       OutputName,
			Parameters: &tensorParameters{BinaryData: true},
		}},
	}

	header, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode inference request: %w", err)
	}

	body := make([]byte, 0, len(header)+size)
	body = append(body, header...)
	body = append(body, pix...)
	return body, len(header), nil
}

// decodeMask extracts the named output tensor as raw bytes. headerLen is the value
// of the Inference-Header-Content-Length response header, or "" for pure JSON.
func decodeMask(body []byte, headerLen, name string) ([]byte, error) {
	jsonPart := body
	var binary []byte
	if headerLen != "" {
		n, err := strconv.Atoi(headerLen)
		if err != nil || n < 0 || n > len(body) {
			return nil, fmt.Errorf("%w: bad %s %q", ErrMalformedResponse, headerContentLength, headerLen)
		}
		jsonPart, binary = body[:n], body[n:]
	}

	var resp inferResponse
	if err := json.Unmarshal(jsonPart, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	// Binary outputs are laid out back to back, in the order of the outputs array.
	offset := 0
	for _, out := range resp.Outputs {
		var size int
		if out.Parameters != nil && out.Parameters.BinaryDataSize != nil {
			size = *out.Parameters.BinaryDataSize
		}
		if size < 0 {
			return nil, fmt.Errorf("%w: output %s has negative binary_data_size %d", ErrMalformedResponse, out.Name, size)
		}
		if out.Name != name {
			offset += size
			continue
		}

		if out.Parameters != nil && out.Parameters.BinaryDataSize != nil {
			if offset > len(binary) || size > len(binary)-offset {
				return nil, fmt.Errorf("%w: output %s needs %d binary bytes, %d available",
					ErrMalformedResponse, name, size, len(binary)-offset)
			}
			return binary[offset : offset+size], nil
		}

		data := make([]byte, len(out.Data))
		for i, v := range out.Data {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: output %s value %d out of UINT8 range", ErrMalformedResponse, name, v)
			}
			data[i] = byte(v)
		}
		return data, nil
	}

	return nil, fmt.Errorf("%w: output %s not found", ErrMalformedResponse, name)
}
