// Package checkpoint assembles and emits the session handoff bundle: the
// machine-readable checkpoint artifact, a human summary, and a hash manifest
// an external actuator can verify before acting on either. Emission is the
// controller's last word; it never calls the actuator.
package checkpoint

// #region imports
import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatb4f/neuroctrl/internal/artifact"
	"github.com/fatb4f/neuroctrl/internal/ledger"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #endregion

// #region bundle-files

const (
	checkpointJSON = "checkpoint.json"
	checkpointMD   = "checkpoint.md"
	manifestJSON   = "manifest.json"
	manifestSHA    = "manifest.sha256"
)

// #endregion bundle-files

// #region summarize

// SummarizeEvents folds a session's ledger into checkpoint counters.
// Fallback refusals ride BLOCK_DENIED with a "fallback:" reason prefix, so
// they count apart from plain denials. Resets count when they complete.
func SummarizeEvents(events []ledger.Event) artifact.SessionSummary {
	var s artifact.SessionSummary
	for _, e := range events {
		switch e.Type {
		case ledger.EventBlockDefined:
			s.BlocksDefined++
		case ledger.EventBlockDenied:
			if strings.HasPrefix(e.Reason, "fallback:") {
				s.Fallbacks++
			} else {
				s.BlocksDenied++
			}
		case ledger.EventBlockClosed:
			s.BlocksClosed++
		case ledger.EventTickEnd:
			s.Ticks++
		case ledger.EventResetEnd:
			s.Resets++
		}
	}
	return s
}

// Build assembles the checkpoint artifact from the session's ledger, its
// latest pointer, and the registry's boundary tally. A session that never
// closed a block hands off no pointer.
func Build(sessionID string, events []ledger.Event, ptr *state.EndPointer, boundaryViolations int, at time.Time) *artifact.Checkpoint {
	sum := SummarizeEvents(events)
	sum.BoundaryViolations = boundaryViolations
	cp := &artifact.Checkpoint{
		Header:     artifact.NewHeader(artifact.SchemaCheckpoint),
		SessionID:  sessionID,
		Summary:    sum,
		AllowedOps: artifact.DefaultAllowedOps(),
		EmittedAt:  artifact.Stamp(at),
	}
	if ptr != nil {
		cp.Pointer = artifact.NewEndPointerRecord(*ptr)
	}
	return cp
}

// #endregion summarize

// #region emit

// Emit writes the checkpoint bundle into outDir and returns the artifact
// path. Bundle contents are deterministic for a given checkpoint, manifest
// included.
func Emit(outDir string, cp *artifact.Checkpoint) (string, error) {
	if err := cp.Validate(); err != nil {
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("checkpoint dir: %w", err)
	}
	jsonPath := filepath.Join(outDir, checkpointJSON)
	if err := artifact.WriteFile(jsonPath, cp); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(outDir, checkpointMD), renderMarkdown(cp), 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	if err := writeManifest(outDir, cp.EmittedAt); err != nil {
		return "", err
	}
	log.Printf("[CHECKPOINT] emitted %s for %s", jsonPath, cp.SessionID)
	return jsonPath, nil
}

// renderMarkdown is the human half of the bundle.
func renderMarkdown(cp *artifact.Checkpoint) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Checkpoint: %s\n\n", cp.SessionID)
	fmt.Fprintf(&b, "Emitted: %s\n\n", cp.EmittedAt.Format(time.RFC3339))

	b.WriteString("## Session summary\n\n")
	b.WriteString("| metric | count |\n|---|---|\n")
	s := cp.Summary
	fmt.Fprintf(&b, "| blocks defined | %d |\n", s.BlocksDefined)
	fmt.Fprintf(&b, "| blocks denied | %d |\n", s.BlocksDenied)
	fmt.Fprintf(&b, "| blocks closed | %d |\n", s.BlocksClosed)
	fmt.Fprintf(&b, "| ticks | %d |\n", s.Ticks)
	fmt.Fprintf(&b, "| resets | %d |\n", s.Resets)
	fmt.Fprintf(&b, "| fallbacks | %d |\n", s.Fallbacks)
	fmt.Fprintf(&b, "| boundary violations | %d |\n\n", s.BoundaryViolations)

	b.WriteString("## End pointer\n\n")
	if cp.Pointer == nil {
		b.WriteString("None: no block closed this session.\n\n")
	} else {
		p := cp.Pointer
		fmt.Fprintf(&b, "- block: %s\n", p.BlockID)
		fmt.Fprintf(&b, "- mode at end: %s\n", p.ModeAtEnd)
		fmt.Fprintf(&b, "- band at end: %s\n", p.BandAtEnd)
		fmt.Fprintf(&b, "- recommended next mode: %s\n\n", p.RecommendedNextMode)
	}

	fmt.Fprintf(&b, "## Allowed operations\n\n%s\n", strings.Join(cp.AllowedOps, ", "))
	return []byte(b.String())
}

// #endregion emit

// #region manifest

// ManifestEntry names one bundle file with its hash and size.
type ManifestEntry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Manifest covers every bundle file except the manifest pair itself.
type Manifest struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Entries     []ManifestEntry `json:"entries"`
}

// writeManifest hashes the bundle files, writes the sorted manifest, then
// seals it with its own hash in sha256sum format.
func writeManifest(outDir string, at time.Time) error {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return fmt.Errorf("scan bundle: %w", err)
	}

	m := Manifest{GeneratedAt: at}
	for _, ent := range entries {
		if ent.IsDir() || ent.Name() == manifestJSON || ent.Name() == manifestSHA {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(outDir, ent.Name()))
		if err != nil {
			return fmt.Errorf("hash %s: %w", ent.Name(), err)
		}
		sum := sha256.Sum256(raw)
		m.Entries = append(m.Entries, ManifestEntry{
			Path:   ent.Name(),
			SHA256: hex.EncodeToString(sum[:]),
			Size:   int64(len(raw)),
		})
	}
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Path < m.Entries[j].Path })

	out, err := artifact.Encode(m)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, manifestJSON), out, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	seal := sha256.Sum256(out)
	line := hex.EncodeToString(seal[:]) + "  " + manifestJSON + "\n"
	if err := os.WriteFile(filepath.Join(outDir, manifestSHA), []byte(line), 0o644); err != nil {
		return fmt.Errorf("seal manifest: %w", err)
	}
	return nil
}

// #endregion manifest
