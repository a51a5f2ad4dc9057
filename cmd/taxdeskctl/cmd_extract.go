package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"taxdesk/internal/extraction"
	"taxdesk/internal/extraction/oracle"
	"taxdesk/internal/extraction/schema"
	"taxdesk/internal/pdf"
	"taxdesk/pkg/config"
	"taxdesk/pkg/domain"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var extractFlags struct {
	file     string
	category string
	verbose  bool
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run the extraction pipeline on a local file",
	Long:  "Runs classification, the text quality gate and the oracle tiers on a\nlocal file and prints the extracted fields with processing metadata.",
	RunE:  runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractFlags.file, "file", "", "Path to the document (required)")
	f.StringVar(&extractFlags.category, "category", "", "Document category, e.g. TRADE_LICENSE (required)")
	f.BoolVarP(&extractFlags.verbose, "verbose", "v", false, "Log pipeline progress to stderr")

	_ = extractCmd.MarkFlagRequired("file")
	_ = extractCmd.MarkFlagRequired("category")
}

// localBlobs serves the pipeline's blob reads straight from disk.
type localBlobs struct{}

func (localBlobs) Get(_ context.Context, key string) ([]byte, error) {
	return os.ReadFile(key)
}

func runExtract(cmd *cobra.Command, _ []string) error {
	category := domain.DocumentCategory(strings.ToUpper(extractFlags.category))
	if !category.Valid() {
		return fmt.Errorf("unknown category %q", extractFlags.category)
	}

	cfg := config.Load()
	if err := cfg.ValidateExtraction(); err != nil {
		return err
	}

	log := logger.NewNop()
	if extractFlags.verbose {
		log = logger.NewWithLevel("taxdeskctl", cfg.LogLevel)
	}

	head, err := readHead(extractFlags.file)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	orc, closeOracle, err := oracle.New(ctx, cfg.Extraction, log)
	if err != nil {
		return fmt.Errorf("init oracle: %w", err)
	}
	defer closeOracle()

	tools := pdf.NewTools(pdf.Config{
		Pdftotext:     cfg.Extraction.PdftotextBin,
		Pdftoppm:      cfg.Extraction.PdftoppmBin,
		Pdfimages:     cfg.Extraction.PdfimagesBin,
		DPI:           cfg.Extraction.RasterDPI,
		Workers:       cfg.Extraction.RasterWorkers,
		RasterTimeout: cfg.Extraction.RasterTimeout,
	}, pdf.NewExecRunner(log), log)

	pipeline := extraction.NewPipeline(localBlobs{}, tools, orc, schema.MustDefault(), extraction.Options{
		ConfidenceThreshold: cfg.Extraction.ConfidenceThreshold,
		OracleTimeout:       cfg.Extraction.OracleTimeout,
	}, log)

	runCtx, cancel := context.WithTimeout(ctx, cfg.Extraction.RunTimeout)
	defer cancel()

	result, err := pipeline.Run(runCtx, extraction.Input{
		DocumentID: uuid.New(),
		Category:   category,
		FileKey:    extractFlags.file,
		FileName:   filepath.Base(extractFlags.file),
		MIMEType:   http.DetectContentType(head),
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf[:n], nil
}
