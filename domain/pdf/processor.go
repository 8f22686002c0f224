// Package pdf runs document processing jobs: thumbnail generation and PDF
// optimization for uploaded documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JulesNsenda/ezsign-sub003/pkg/logger"
)

// ThumbnailOptions bounds the rendered thumbnail. Zero values fall back
// to a 480px width.
type ThumbnailOptions struct {
	MaxWidth  int
	MaxHeight int
}

// Processor transforms PDF bytes. The production implementation shells out
// to poppler and ghostscript; tests substitute fakes.
type Processor interface {
	// Thumbnail renders the first page as a PNG
	Thumbnail(ctx context.Context, pdf []byte, opts ThumbnailOptions) ([]byte, error)
	// Optimize recompresses the PDF for web delivery
	Optimize(ctx context.Context, pdf []byte) ([]byte, error)
	// Flatten bakes annotations and form fields into the page content
	Flatten(ctx context.Context, pdf []byte) ([]byte, error)
	// Watermark draws the given text diagonally across every page
	Watermark(ctx context.Context, pdf []byte, text string) ([]byte, error)
	// Merge concatenates documents in order
	Merge(ctx context.Context, pdfs [][]byte) ([]byte, error)
}

// ExecProcessor implements Processor with the poppler (pdftoppm) and
// ghostscript (gs) command line tools.
type ExecProcessor struct {
	log *slog.Logger
}

// NewExecProcessor creates a tool-backed processor
func NewExecProcessor(log *slog.Logger) *ExecProcessor {
	return &ExecProcessor{log: log.With(logger.Scope("pdf.exec"))}
}

// Thumbnail renders page 1 to PNG via pdftoppm
func (p *ExecProcessor) Thumbnail(ctx context.Context, pdf []byte, opts ThumbnailOptions) ([]byte, error) {
	dir, err := os.MkdirTemp("", "pdf-thumb-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	args := []string{
		"-png", "-singlefile",
		"-f", "1", "-l", "1",
	}
	switch {
	case opts.MaxWidth > 0 && opts.MaxHeight > 0:
		args = append(args,
			"-scale-to-x", strconv.Itoa(opts.MaxWidth),
			"-scale-to-y", strconv.Itoa(opts.MaxHeight))
	case opts.MaxWidth > 0:
		args = append(args, "-scale-to", strconv.Itoa(opts.MaxWidth))
	case opts.MaxHeight > 0:
		args = append(args, "-scale-to", strconv.Itoa(opts.MaxHeight))
	default:
		args = append(args, "-scale-to", "480")
	}

	out := filepath.Join(dir, "thumb")
	cmd := exec.CommandContext(ctx, "pdftoppm", append(args, src, out)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, stderr.String())
	}

	png, err := os.ReadFile(out + ".png")
	if err != nil {
		return nil, fmt.Errorf("read thumbnail: %w", err)
	}
	return png, nil
}

// Optimize recompresses via ghostscript's pdfwrite device
func (p *ExecProcessor) Optimize(ctx context.Context, pdf []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "pdf-opt-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input.pdf")
	dst := filepath.Join(dir, "output.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	cmd := exec.CommandContext(ctx, "gs",
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.7",
		"-dPDFSETTINGS=/ebook",
		"-dNOPAUSE", "-dBATCH", "-dQUIET",
		"-sOutputFile="+dst,
		src)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gs: %w: %s", err, stderr.String())
	}

	optimized, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("read optimized pdf: %w", err)
	}

	// A "smaller" file that ballooned means ghostscript rewrote assets it
	// could not compress; keep the original in that case
	if len(optimized) >= len(pdf) {
		p.log.Debug("optimization did not shrink pdf, keeping original",
			slog.Int("original", len(pdf)),
			slog.Int("optimized", len(optimized)))
		return pdf, nil
	}

	return optimized, nil
}

// Flatten bakes annotations and filled form fields into the page content
// so downstream viewers cannot alter them
func (p *ExecProcessor) Flatten(ctx context.Context, pdf []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "pdf-flatten-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input.pdf")
	dst := filepath.Join(dir, "output.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	cmd := exec.CommandContext(ctx, "gs",
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.7",
		"-dPreserveAnnots=false",
		"-dNOPAUSE", "-dBATCH", "-dQUIET",
		"-sOutputFile="+dst,
		src)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gs flatten: %w: %s", err, stderr.String())
	}

	flattened, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("read flattened pdf: %w", err)
	}
	return flattened, nil
}

// Watermark draws text diagonally across every page using a ghostscript
// EndPage hook
func (p *ExecProcessor) Watermark(ctx context.Context, pdf []byte, text string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "pdf-stamp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input.pdf")
	dst := filepath.Join(dir, "output.pdf")
	if err := os.WriteFile(src, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	// Parentheses and backslashes delimit PostScript strings
	escaped := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`).Replace(text)
	hook := fmt.Sprintf(`<< /EndPage { 2 ne { gsave /Helvetica 48 selectfont 0.85 setgray 120 200 moveto 45 rotate (%s) show grestore true } { false } ifelse } >> setpagedevice`, escaped)

	cmd := exec.CommandContext(ctx, "gs",
		"-sDEVICE=pdfwrite",
		"-dNOPAUSE", "-dBATCH", "-dQUIET",
		"-sOutputFile="+dst,
		"-c", hook,
		"-f", src)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gs watermark: %w: %s", err, stderr.String())
	}

	stamped, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("read watermarked pdf: %w", err)
	}
	return stamped, nil
}

// Merge concatenates the given documents in order
func (p *ExecProcessor) Merge(ctx context.Context, pdfs [][]byte) ([]byte, error) {
	if len(pdfs) == 0 {
		return nil, fmt.Errorf("merge needs at least one document")
	}

	dir, err := os.MkdirTemp("", "pdf-merge-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dst := filepath.Join(dir, "output.pdf")
	args := []string{
		"-sDEVICE=pdfwrite",
		"-dNOPAUSE", "-dBATCH", "-dQUIET",
		"-sOutputFile=" + dst,
	}
	for i, pdf := range pdfs {
		src := filepath.Join(dir, fmt.Sprintf("input-%d.pdf", i))
		if err := os.WriteFile(src, pdf, 0o600); err != nil {
			return nil, fmt.Errorf("write temp pdf: %w", err)
		}
		args = append(args, src)
	}

	cmd := exec.CommandContext(ctx, "gs", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gs merge: %w: %s", err, stderr.String())
	}

	merged, err := os.ReadFile(dst)
	if err != nil {
		return nil, fmt.Errorf("read merged pdf: %w", err)
	}
	return merged, nil
}
