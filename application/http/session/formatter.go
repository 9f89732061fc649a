package session

import (
	"encoding/json"

	"hermes/lib/value"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrFormat = errors.New("session format error")

// Formatter converts session records to and from bytes.
type Formatter interface {
	// Name is also used as the file extension by [FileStore].
	Name() string
	Encode(v value.Value) ([]byte, error)
	Decode(b []byte) (value.Value, error)
}

// FormatterFor returns the formatter called name, "json" or "yaml".
func FormatterFor(name string) (Formatter, error) {
	switch name {
	case "json":
		return JSONFormatter{}, nil
	case "yaml":
		return YAMLFormatter{}, nil
	default:
		return nil, errors.Wrapf(ErrFormat, "unknown format %q", name)
	}
}

type JSONFormatter struct{}

func (JSONFormatter) Name() string { return "json" }

func (JSONFormatter) Encode(v value.Value) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "encoding json: %v", err)
	}
	return b, nil
}

func (JSONFormatter) Decode(b []byte) (value.Value, error) {
	var v value.Value
	if err := json.Unmarshal(b, &v); err != nil {
		return value.Null(), errors.Wrapf(ErrFormat, "decoding json: %v", err)
	}
	return v, nil
}

type YAMLFormatter struct{}

func (YAMLFormatter) Name() string { return "yaml" }

func (YAMLFormatter) Encode(v value.Value) ([]byte, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "encoding yaml: %v", err)
	}
	return b, nil
}

func (YAMLFormatter) Decode(b []byte) (value.Value, error) {
	var v value.Value
	if err := yaml.Unmarshal(b, &v); err != nil {
		return value.Null(), errors.Wrapf(ErrFormat, "decoding yaml: %v", err)
	}
	return v, nil
}
