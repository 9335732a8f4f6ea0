package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"math"

	"github.com/gen2brain/go-fitz"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultVisionModel is the OpenAI-compatible Qwen vision model.
const DefaultVisionModel = "qwen-vl-max"

const rasterDPI = 300

// VisionConfig configures the direct vision backend.
type VisionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// VisionBackend rasterises the first page and asks the vision model directly.
type VisionBackend struct {
	client *openai.Client
	model  string
}

// NewVisionBackend builds the backend against an OpenAI-compatible endpoint.
func NewVisionBackend(cfg VisionConfig) *VisionBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultVisionModel
	}
	return &VisionBackend{client: openai.NewClientWithConfig(clientCfg), model: model}
}

// InvoiceJSON extracts the invoice schema from the first page.
func (v *VisionBackend) InvoiceJSON(ctx context.Context, doc []byte) (string, error) {
	return v.ask(ctx, doc, invoicePrompt, 1200)
}

// WeightText extracts the weight object from the first page.
func (v *VisionBackend) WeightText(ctx context.Context, doc []byte) (string, error) {
	return v.ask(ctx, doc, weightPrompt, 200)
}

func (v *VisionBackend) ask(ctx context.Context, doc []byte, prompt string, maxTokens int) (string, error) {
	page, err := firstPagePNG(doc)
	if err != nil {
		return "", err
	}
	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.model,
		// zero is dropped by omitempty
		Temperature: math.SmallestNonzeroFloat32,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(page)},
					},
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision completion: %v: %w", err, ErrUpstream)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision completion returned no choices: %w", ErrUpstream)
	}
	return resp.Choices[0].Message.Content, nil
}

func firstPagePNG(doc []byte) ([]byte, error) {
	pdf, err := fitz.NewFromMemory(doc)
	if err != nil {
		return nil, fmt.Errorf("open document: %v: %w", err, ErrEmptyDocument)
	}
	defer pdf.Close()
	if pdf.NumPage() == 0 {
		return nil, ErrEmptyDocument
	}
	img, err := pdf.ImageDPI(0, rasterDPI)
	if err != nil {
		return nil, fmt.Errorf("rasterise first page: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const invoicePrompt = `You are an expert invoice data extraction engine.
Read the invoice image and extract structured data into STRICT JSON.

Rules:
1. Extract only data visible in the invoice. Missing or unclear fields are "".
2. Do not guess values.
3. Numbers are plain strings without currency symbols or commas ("1,23,456.00" becomes "123456.00").
4. Dates are returned exactly as printed.
5. Ignore stamps, signatures and watermarks.
6. Extract every row of the item table. Item taxes stay empty when only the summary shows them.
7. Return ONLY the JSON below with all keys present. No markdown, comments or extra keys.

{
"invoiceNumber":"",
"invoiceDate":"",
"poNumber":"",
"supplierName":"",
"billTo":"",
"billToAddress":"",
"billToGst":"",
"items":[{"itemName":"","quantity":"","unitPrice":"","amount":"","hsnSac":"","taxableValue":"","cgstPercent":"","cgstAmount":"","sgstPercent":"","sgstAmount":""}],
"subtotal":"",
"cgst":"",
"sgst":"",
"roundOff":"",
"taxAmount":"",
"totalAmount":"",
"totalAmountInWords":""
}`

const weightPrompt = `You are a weight slip data extraction engine.
Extract the weight from the slip and return ONLY {"weight": ""}.
The weight may be labelled Weight, Net Weight, Gross Weight, Wt or similar.
Convert grams to kilograms. Return the numeric value without units, or null when no weight is visible.`
