package artifact

// #region imports
import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// #endregion

// #region schema-error

// SchemaError marks an artifact that failed strict decoding or validation.
// For legality purposes such an artifact counts as missing: callers fall
// back to notes-only, log, and keep running.
type SchemaError struct {
	Path   string
	Schema string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("artifact %s (%s): %v", e.Path, e.Schema, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// #endregion schema-error

// #region encode

// Encode renders an artifact deterministically: two-space indent, declared
// field order, trailing newline. Identical values give identical bytes.
func Encode(v interface{}) ([]byte, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return append(out, '\n'), nil
}

// WriteFile encodes v and writes it in one shot.
func WriteFile(path string, v interface{}) error {
	out, err := Encode(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// #endregion encode

// #region decode

type validator interface {
	Validate() error
}

// decodeStrict reads raw into v rejecting unknown fields, then validates.
func decodeStrict(path, schema string, raw []byte, v validator) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &SchemaError{Path: path, Schema: schema, Err: err}
	}
	if err := v.Validate(); err != nil {
		return &SchemaError{Path: path, Schema: schema, Err: err}
	}
	return nil
}

// readFile loads and strictly decodes one artifact file.
func readFile(path, schema string, v validator) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	return decodeStrict(path, schema, raw, v)
}

// ReadPreflightSnapshot loads a snapshot artifact.
func ReadPreflightSnapshot(path string) (*PreflightSnapshot, error) {
	var s PreflightSnapshot
	if err := readFile(path, SchemaPreflightSnapshot, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ReadTimeBlock loads a block contract artifact.
func ReadTimeBlock(path string) (*TimeBlock, error) {
	var b TimeBlock
	if err := readFile(path, SchemaTimeBlock, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ReadEndPointer loads an end pointer artifact.
func ReadEndPointer(path string) (*EndPointerRecord, error) {
	var r EndPointerRecord
	if err := readFile(path, SchemaEndPointer, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReadOTestRecord loads an O-test batch artifact.
func ReadOTestRecord(path string) (*OTestRecord, error) {
	var r OTestRecord
	if err := readFile(path, SchemaOTestRecord, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ReadCheckpoint loads a checkpoint artifact.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	var c Checkpoint
	if err := readFile(path, SchemaCheckpoint, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// #endregion decode

// #region snapshot-id

// ComputeSnapshotID derives the content hash that names a preflight
// snapshot. The hash covers the snapshot with its id blanked, so the id is a
// pure function of the inputs.
func ComputeSnapshotID(s PreflightSnapshot) (string, error) {
	s.SnapshotID = ""
	canon, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("canonicalize snapshot: %w", err)
	}
	sum := sha256.Sum256(canon)
	return "pf-" + hex.EncodeToString(sum[:8]), nil
}

// #endregion snapshot-id
