// Package ocr extracts text from a document folder. Images go through
// AWS Textract; plain-text files are read directly. One document may
// span several physical files (multi-page scans), so extraction works on
// the folder, not a single file.
package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// BoundingBox is a block's position on the page, as fractions of the
// page dimensions.
type BoundingBox struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
}

// Block is one detected layout element (PAGE, LINE, or WORD). PAGE
// blocks carry no text of their own.
type Block struct {
	Type       string       `json:"type"`
	Text       string       `json:"text,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	Box        *BoundingBox `json:"bounding_box,omitempty"`
}

// Page is the extraction result for one physical file. Blocks preserve
// the raw layout detection; plain-text pages have none.
type Page struct {
	Filename   string  `json:"filename"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Blocks     []Block `json:"blocks,omitempty"`
}

// Result aggregates extraction over a document folder.
type Result struct {
	FullText      string `json:"full_text"`
	Pages         []Page `json:"pages"`
	DocumentCount int    `json:"document_count"`
	// AvgConfidence is the mean per-page confidence, 0-100. Plain-text
	// pages count as 100.
	AvgConfidence float64 `json:"avg_confidence"`
}

// Extractor turns a folder of scans into text.
type Extractor interface {
	Extract(ctx context.Context, folder string) (*Result, error)
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// listPages returns the extractable files of a folder in name order.
// meta.json and unrecognized files are skipped.
func listPages(folder string) ([]string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, fmt.Errorf("failed to read document folder: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".txt" || imageExtensions[ext] {
			files = append(files, filepath.Join(folder, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func isImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}
