package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	txtypes "github.com/aws/aws-sdk-go-v2/service/textract/types"
)

// detectAPI is the slice of the Textract client we use.
type detectAPI interface {
	DetectDocumentText(ctx context.Context, in *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// TextractExtractor runs synchronous DetectDocumentText per image page
// and reads .txt pages directly.
type TextractExtractor struct {
	api    detectAPI
	logger *slog.Logger
}

// NewTextractExtractor builds an extractor from the ambient AWS
// credential chain.
func NewTextractExtractor(ctx context.Context, region string, logger *slog.Logger) (*TextractExtractor, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &TextractExtractor{api: textract.NewFromConfig(cfg), logger: logger}, nil
}

// Extract processes every page file in the folder and aggregates the
// results. It does not treat an empty result as an error; the pipeline
// decides what an empty extraction means.
func (e *TextractExtractor) Extract(ctx context.Context, folder string) (*Result, error) {
	files, err := listPages(folder)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	var parts []string
	var confidenceSum float64

	for _, path := range files {
		var page Page
		if isImage(path) {
			page, err = e.extractImage(ctx, path)
		} else {
			page, err = readTextPage(path)
		}
		if err != nil {
			return nil, err
		}

		result.Pages = append(result.Pages, page)
		confidenceSum += page.Confidence
		if page.Text != "" {
			parts = append(parts, page.Text)
		}
	}

	result.DocumentCount = len(result.Pages)
	result.FullText = strings.TrimSpace(strings.Join(parts, "\n\n"))
	if result.DocumentCount > 0 {
		result.AvgConfidence = confidenceSum / float64(result.DocumentCount)
	}
	return result, nil
}

func (e *TextractExtractor) extractImage(ctx context.Context, path string) (Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Page{}, fmt.Errorf("failed to read page %s: %w", path, err)
	}

	out, err := e.api.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &txtypes.Document{Bytes: data},
	})
	if err != nil {
		return Page{}, fmt.Errorf("textract failed on %s: %w", filepath.Base(path), err)
	}

	var lines []string
	var blocks []Block
	var confidenceSum float64
	var lineCount int
	for _, block := range out.Blocks {
		switch block.BlockType {
		case txtypes.BlockTypePage, txtypes.BlockTypeLine, txtypes.BlockTypeWord:
		default:
			continue
		}
		blocks = append(blocks, convertBlock(block))
		if block.BlockType != txtypes.BlockTypeLine {
			continue
		}
		if block.Text != nil {
			lines = append(lines, *block.Text)
		}
		if block.Confidence != nil {
			confidenceSum += float64(*block.Confidence)
			lineCount++
		}
	}

	page := Page{Filename: filepath.Base(path), Text: strings.Join(lines, "\n"), Blocks: blocks}
	if lineCount > 0 {
		page.Confidence = confidenceSum / float64(lineCount)
	}
	e.logger.Debug("OCR page extracted",
		slog.String("file", page.Filename),
		slog.Int("lines", len(lines)),
		slog.Float64("confidence", page.Confidence))
	return page, nil
}

func convertBlock(block txtypes.Block) Block {
	b := Block{Type: string(block.BlockType)}
	if block.Text != nil {
		b.Text = *block.Text
	}
	if block.Confidence != nil {
		b.Confidence = float64(*block.Confidence)
	}
	if block.Geometry != nil && block.Geometry.BoundingBox != nil {
		box := block.Geometry.BoundingBox
		b.Box = &BoundingBox{
			Width:  float64(box.Width),
			Height: float64(box.Height),
			Left:   float64(box.Left),
			Top:    float64(box.Top),
		}
	}
	return b
}

// readTextPage handles pre-extracted .txt pages. Confidence is 100 by
// definition.
func readTextPage(path string) (Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Page{}, fmt.Errorf("failed to read page %s: %w", path, err)
	}
	return Page{
		Filename:   filepath.Base(path),
		Text:       strings.TrimSpace(string(data)),
		Confidence: 100,
	}, nil
}
