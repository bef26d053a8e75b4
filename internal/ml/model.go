package ml

import (
	"encoding/gob"
	"io"

	"demeter/internal/ml/features"
	"demeter/pkg/errors"
)

// Model is a trained regression model ready for inference. Implementations
// consume a reconciled feature row and return a raw point prediction in the
// target's trained units.
type Model interface {
	Predict(row *features.Row) (float64, error)
}

func init() {
	gob.Register(&TreeEnsemble{})
	gob.Register(&LinearModel{})
}

// gobBundle wraps the model interface so gob can round-trip the concrete type
type gobBundle struct {
	Model Model
}

// EncodeGob serializes a model in the generic serialized-object format used
// for internally trained artifacts
func EncodeGob(w io.Writer, m Model) error {
	if m == nil {
		return errors.Wrap(errors.ErrInvalidInput, "cannot encode nil model")
	}
	if err := gob.NewEncoder(w).Encode(&gobBundle{Model: m}); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// DecodeGob deserializes a model written by EncodeGob
func DecodeGob(r io.Reader) (Model, error) {
	var b gobBundle
	if err := gob.NewDecoder(r).Decode(&b); err != nil {
		return nil, errors.Wrap(err, "failed to decode model")
	}
	if b.Model == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "decoded bundle holds no model")
	}
	return b.Model, nil
}
