package pdf

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/go-pdf/fpdf"

	domain "github.com/qtrade-labs/insight-api/internal/domain/reports"
)

const cjkFamily = "report-cjk"

// Renderer produces the report artifact. Content building and the file sink
// run as two separately-completing tasks joined over channels: Render only
// returns success after the sink confirmed the file is fully flushed, and it
// never leaves a partial file behind on failure.
type Renderer struct {
	Fonts *FontCache
}

// Render writes the document to doc.OutputPath.
func (r *Renderer) Render(ctx context.Context, doc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pdf, err := r.build(ctx, doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(doc.OutputPath), 0o755); err != nil {
		return fmt.Errorf("creating reports dir: %w", err)
	}

	pr, pw := io.Pipe()
	buildDone := make(chan error, 1)
	sinkDone := make(chan error, 1)

	go func() {
		err := pdf.Output(pw)
		// Propagate the builder's outcome through the pipe so the sink
		// does not mistake a truncated stream for a complete document.
		pw.CloseWithError(err)
		buildDone <- err
	}()
	go func() {
		sinkDone <- writeAndSync(doc.OutputPath, pr)
	}()

	// Join BOTH completions. "No more content" from the builder is not the
	// durability signal; only the sink's sync is.
	var buildErr, sinkErr error
	for buildDone != nil || sinkDone != nil {
		select {
		case buildErr = <-buildDone:
			buildDone = nil
		case sinkErr = <-sinkDone:
			sinkDone = nil
		case <-ctx.Done():
			pr.CloseWithError(ctx.Err())
			if buildDone != nil {
				buildErr = <-buildDone
			}
			if sinkDone != nil {
				sinkErr = <-sinkDone
			}
			os.Remove(doc.OutputPath)
			return ctx.Err()
		}
	}

	if buildErr != nil || sinkErr != nil {
		os.Remove(doc.OutputPath)
		if buildErr != nil {
			return fmt.Errorf("building document: %w", buildErr)
		}
		return fmt.Errorf("flushing document: %w", sinkErr)
	}

	// Final guard against an empty artifact being reported as success.
	info, err := os.Stat(doc.OutputPath)
	if err != nil {
		return fmt.Errorf("verifying artifact: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(doc.OutputPath)
		return fmt.Errorf("artifact %s is empty", doc.OutputPath)
	}
	return nil
}

// build assembles the pages: title block, analysis body, Q&A appendix.
func (r *Renderer) build(ctx context.Context, doc domain.Document) (*fpdf.Fpdf, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(doc.Title, true)
	pdf.SetAuthor("交易者心理分析系统", true)
	pdf.SetMargins(18, 18, 18)

	// Degrade to the core font when the CJK face cannot be provided; a
	// report with fallback glyphs beats no report at all.
	family := "Helvetica"
	if path, err := r.Fonts.Ensure(ctx); err == nil {
		pdf.AddUTF8Font(cjkFamily, "", path)
		family = cjkFamily
	} else {
		log.Printf("cjk font unavailable, using core font: %v", err)
	}

	pdf.AddPage()
	pdf.SetFont(family, "", 24)
	pdf.MultiCell(0, 12, doc.Title, "", "C", false)
	pdf.Ln(6)
	pdf.SetFont(family, "", 12)
	pdf.MultiCell(0, 7, fmt.Sprintf("生成日期: %s", doc.GeneratedAt.Format("2006-01-02")), "", "L", false)
	pdf.MultiCell(0, 7, fmt.Sprintf("用户: %s", doc.SubjectName), "", "L", false)
	pdf.Ln(10)

	pdf.SetFont(family, "", 16)
	pdf.MultiCell(0, 9, "分析结果", "B", "L", false)
	pdf.Ln(3)
	pdf.SetFont(family, "", 12)
	pdf.MultiCell(0, 7, doc.Analysis, "", "L", false)

	pdf.AddPage()
	pdf.SetFont(family, "", 16)
	pdf.MultiCell(0, 9, "问卷回答原始数据", "B", "L", false)
	pdf.Ln(3)
	pdf.SetFont(family, "", 12)
	for i, qa := range doc.Answers {
		pdf.MultiCell(0, 7, fmt.Sprintf("问题 %d: %s", i+1, qa.Question), "", "L", false)
		pdf.MultiCell(0, 7, fmt.Sprintf("回答: %s", qa.Answer), "", "L", false)
		pdf.MultiCell(0, 7, fmt.Sprintf("回答时间: %d 秒", qa.DurationSeconds), "", "L", false)
		pdf.Ln(4)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("assembling document: %w", err)
	}
	return pdf, nil
}

// writeAndSync drains the stream into the file and syncs it; the sync is
// what makes the artifact durable.
func writeAndSync(path string, src io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
