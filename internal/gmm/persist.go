package gmm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/book-expert/hntm-service/internal/binio"
)

// GMM file layout (big-endian):
//
//	int32   feature dimension
//	int32   total components
//	bool    diagonal covariance
//	int32   info length, then info as UTF-8 bytes
//	float64 weights[total]
//	component records[total]: mean[d], then variances[d] or matrix[d*d]
//
// There is no magic number; the header bounds below reject streams written
// with the other byte order.
const (
	maxFeatureDimension = 4096
	maxComponents       = 1 << 16
)

// ErrImplausibleHeader is returned when a GMM header is out of range, which
// usually means the stream is not a GMM or was written with another byte order.
var ErrImplausibleHeader = errors.New("implausible GMM header")

// WriteTo encodes the mixture; it implements io.WriterTo.
func (g *GMM) WriteTo(w io.Writer) (int64, error) {
	err := g.Validate()
	if err != nil {
		return 0, err
	}

	bw := binio.NewWriter(w)
	bw.Int32(int32(g.FeatureDimension))
	bw.Int32(int32(len(g.Components)))
	bw.Bool(g.Diagonal)
	bw.String(g.Info)
	bw.Float64s(g.Weights)

	for _, c := range g.Components {
		c.write(bw)
	}

	return bw.Written(), bw.Err()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (g *GMM) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	_, err := g.WriteTo(&buf)
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. On error g is left
// unchanged.
func (g *GMM) UnmarshalBinary(data []byte) error {
	decoded, err := ReadGMM(bytes.NewReader(data))
	if err != nil {
		return err
	}

	*g = *decoded

	return nil
}

// ReadGMM decodes a mixture. Any error aborts the whole load; no partially
// populated model is returned.
func ReadGMM(r io.Reader) (*GMM, error) {
	br := binio.NewReader(r)

	dim, err := br.Int32()
	if err != nil {
		return nil, fmt.Errorf("gmm feature dimension: %w", err)
	}

	total, err := br.Int32()
	if err != nil {
		return nil, fmt.Errorf("gmm component count: %w", err)
	}

	if dim <= 0 || dim > maxFeatureDimension || total < 0 || total > maxComponents {
		return nil, fmt.Errorf("%w: dimension %d, components %d", ErrImplausibleHeader, dim, total)
	}

	diagonal, err := br.Bool()
	if err != nil {
		return nil, fmt.Errorf("gmm covariance flag: %w", err)
	}

	info, err := br.String()
	if err != nil {
		return nil, fmt.Errorf("gmm info: %w", err)
	}

	weights, err := br.Float64s(int(total))
	if err != nil {
		return nil, fmt.Errorf("gmm weights: %w", err)
	}

	g := &GMM{
		Weights:          weights,
		Components:       make([]*Component, total),
		FeatureDimension: int(dim),
		Diagonal:         diagonal,
		Info:             info,
	}

	for i := range g.Components {
		c, readErr := readComponent(br, int(dim), diagonal)
		if readErr != nil {
			return nil, fmt.Errorf("gmm component %d: %w", i, readErr)
		}

		g.Components[i] = c
	}

	err = g.Validate()
	if err != nil {
		return nil, err
	}

	return g, nil
}

// Save writes the mixture to path.
func (g *GMM) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create GMM file '%s': %w", path, err)
	}

	buffered := bufio.NewWriter(file)

	_, writeErr := g.WriteTo(buffered)
	if writeErr == nil {
		writeErr = buffered.Flush()
	}

	closeErr := file.Close()

	if writeErr != nil {
		return fmt.Errorf("failed to write GMM file '%s': %w", path, writeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close GMM file '%s': %w", path, closeErr)
	}

	return nil
}

// Load reads a mixture from path.
func Load(path string) (*GMM, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GMM file '%s': %w", path, err)
	}
	defer file.Close()

	g, err := ReadGMM(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("failed to read GMM file '%s': %w", path, err)
	}

	return g, nil
}
