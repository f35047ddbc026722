package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/pulsestore/errors"
)

// Codec turns a Job into the stored state blob and back.
// Unmarshal errors are treated by Store as a corrupt record.
type Codec interface {
	Marshal(job *Job) ([]byte, error)
	Unmarshal(id string, state []byte) (*Job, error)
}

// JSONCodec encodes definitions as compact JSON. Encoding is deterministic,
// so a blob decoded and re-encoded is byte-identical.
type JSONCodec struct {
	registry   *Registry
	compatible *semver.Constraints
}

// NewJSONCodec returns a codec accepting definitions with the same major
// version as CurrentDefinitionVersion. If registry is non-nil, Func must name
// a registered function on both encode and decode.
func NewJSONCodec(registry *Registry) *JSONCodec {
	current := semver.MustParse(CurrentDefinitionVersion)
	c, err := semver.NewConstraint(fmt.Sprintf(">= %d.0.0, < %d.0.0", current.Major(), current.Major()+1))
	if err != nil {
		panic(err)
	}
	return &JSONCodec{registry: registry, compatible: c}
}

// Marshal encodes job.Definition. An empty Version is set to the current one.
func (c *JSONCodec) Marshal(job *Job) ([]byte, error) {
	if job == nil || job.ID == "" {
		return nil, errors.New("job id must not be empty")
	}
	def := job.Definition
	if def.Version == "" {
		def.Version = CurrentDefinitionVersion
	}
	if err := c.validate(def); err != nil {
		return nil, errors.Wrapf(err, "invalid definition for job %q", job.ID)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(def); err != nil {
		return nil, errors.Wrapf(err, "failed to encode job %q", job.ID)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Unmarshal decodes a stored blob. The returned job has no NextRunTime; the
// store fills it from its own column.
func (c *JSONCodec) Unmarshal(id string, state []byte) (*Job, error) {
	if len(bytes.TrimSpace(state)) == 0 {
		return nil, errors.NewDecodeError(errors.New("empty state"), id)
	}

	var def Definition
	if err := json.Unmarshal(state, &def); err != nil {
		return nil, errors.NewDecodeError(err, id)
	}
	if err := c.validate(def); err != nil {
		return nil, errors.NewDecodeError(err, id)
	}
	return &Job{ID: id, Definition: def}, nil
}

func (c *JSONCodec) validate(def Definition) error {
	v, err := semver.NewVersion(def.Version)
	if err != nil {
		return errors.Wrapf(err, "invalid definition version %q", def.Version)
	}
	if !c.compatible.Check(v) {
		return errors.Newf("definition version %s is not compatible with %s", v, CurrentDefinitionVersion)
	}
	if def.Func == "" {
		return errors.New("definition has no func")
	}
	if c.registry != nil && !c.registry.Has(def.Func) {
		return errors.Newf("function %q is not registered", def.Func)
	}
	return nil
}
