package fl

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborDec, err = cbor.DecOptions{
		MaxArrayElements: 1 << 27,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodeUpdate serialises an update for the given content type.
func EncodeUpdate(contentType string, u Update) ([]byte, error) {
	switch contentType {
	case ContentTypeCBOR:
		return cborEnc.Marshal(u)
	case ContentTypeJSON, "":
		return json.Marshal(u)
	default:
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}
}

// DecodeUpdate parses an update and normalises its parameter layout.
func DecodeUpdate(contentType string, data []byte) (Update, error) {
	var u Update
	var err error
	switch contentType {
	case ContentTypeCBOR:
		err = cborDec.Unmarshal(data, &u)
	case ContentTypeJSON, "":
		err = json.Unmarshal(data, &u)
	default:
		return Update{}, fmt.Errorf("unsupported content type %q", contentType)
	}
	if err != nil {
		return Update{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}

	params, err := NewParameterSet(u.Params.Version, u.Params.Tensors...)
	if err != nil {
		return Update{}, err
	}
	u.Params = params

	return u, nil
}

// Blob encodes a parameter set as the opaque model blob kept by model registries.
func (ps ParameterSet) Blob() ([]byte, error) {
	return cborEnc.Marshal(ps)
}

// ParseBlob is the inverse of Blob.
func ParseBlob(data []byte) (ParameterSet, error) {
	var raw ParameterSet
	if err := cborDec.Unmarshal(data, &raw); err != nil {
		return ParameterSet{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}

	return NewParameterSet(raw.Version, raw.Tensors...)
}
