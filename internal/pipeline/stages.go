package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"benchboard/internal/domain"
)

var allowedKinds = []domain.PayloadKind{domain.KindCSV, domain.KindTSV, domain.KindJSON, domain.KindJSONL}

var (
	ErrUnsupportedKind = errors.New("unsupported file type")
	ErrEmptyPayload    = errors.New("empty payload")
	ErrTooLarge        = errors.New("payload too large")
	ErrUnsafeContent   = errors.New("content scan failed")
)

func (p *Pipeline) runValidate(_ context.Context, desc domain.PayloadDescriptor, out *domain.StageResults) error {
	switch desc.Kind {
	case domain.KindCSV, domain.KindTSV, domain.KindJSON, domain.KindJSONL:
	default:
		declared := desc.DeclaredKind
		if declared == "" {
			declared = string(desc.Kind)
		}
		return fmt.Errorf("%w %q (allowed: %s)", ErrUnsupportedKind, declared, kindList())
	}
	if desc.Size <= 0 {
		return ErrEmptyPayload
	}
	if desc.Size > p.opts.MaxPayloadBytes {
		return fmt.Errorf("%w: %s exceeds %s", ErrTooLarge,
			humanize.Bytes(uint64(desc.Size)), humanize.Bytes(uint64(p.opts.MaxPayloadBytes)))
	}
	out.Validation = domain.ValidationResult{Kind: desc.Kind, Accepted: true}
	return nil
}

func (p *Pipeline) runTransform(ctx context.Context, desc domain.PayloadDescriptor, out *domain.StageResults) error {
	if err := sleep(ctx, p.opts.TransformDelay); err != nil {
		return err
	}
	out.Compression = Compress(desc.Size)
	return nil
}

func (p *Pipeline) runScan(ctx context.Context, desc domain.PayloadDescriptor, out *domain.StageResults) error {
	if err := sleep(ctx, p.opts.ScanDelay); err != nil {
		return err
	}
	findings := Scan(desc.Name)
	if len(findings) > 0 {
		out.Scan = domain.ScanResult{Verdict: domain.VerdictFail, Findings: findings}
		return fmt.Errorf("%w: %s", ErrUnsafeContent, strings.Join(findings, "; "))
	}
	out.Scan = domain.ScanResult{Verdict: domain.VerdictPass, Findings: []string{}}
	return nil
}

// Compress estimates the compressed size of a payload. The ratio only
// depends on the declared size so repeated uploads report the same numbers.
func Compress(size int64) domain.CompressionResult {
	if size < 0 {
		size = 0
	}
	ratio := 0.35 + 0.30*float64(size%1000)/1000
	ratio = math.Round(ratio*1000) / 1000
	compressed := int64(math.Round(float64(size) * ratio))
	return domain.CompressionResult{
		OriginalBytes:   size,
		CompressedBytes: compressed,
		Ratio:           ratio,
		Summary:         humanize.Bytes(uint64(size)) + " -> " + humanize.Bytes(uint64(compressed)),
	}
}

var executableExts = map[string]bool{".exe": true, ".sh": true, ".bat": true, ".cmd": true, ".dll": true}

// Scan inspects a file name and returns findings; none means the file passes.
func Scan(name string) []string {
	lower := strings.ToLower(name)
	var findings []string
	if strings.Contains(lower, "..") {
		findings = append(findings, "path traversal in file name")
	}
	if strings.Contains(lower, "<script") {
		findings = append(findings, "embedded script marker")
	}
	if ext := path.Ext(lower); executableExts[ext] {
		findings = append(findings, "executable extension "+ext)
	}
	return findings
}

func kindList() string {
	s := make([]string, len(allowedKinds))
	for i, k := range allowedKinds {
		s[i] = string(k)
	}
	return strings.Join(s, ", ")
}
