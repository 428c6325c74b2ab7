package grid

import (
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// Decode reads a JSON network from r and validates it.
func Decode(r io.Reader) (*Network, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var n Network
	if err := dec.Decode(&n); err != nil {
		return nil, eris.Wrap(err, "grid: decode network")
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// LoadFile reads and validates the network stored at path.
func LoadFile(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	n, err := Decode(f)
	if err != nil {
		return nil, eris.Wrapf(err, "grid: load %s", path)
	}
	return n, nil
}

// Encode writes n as indented JSON.
func (n *Network) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(n), "grid: encode network")
}

// Save writes n to path, truncating any existing file.
func (n *Network) Save(path string) error {
	var buf bytes.Buffer
	if err := n.Encode(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return eris.Wrapf(err, "grid: write %s", path)
	}
	return nil
}
