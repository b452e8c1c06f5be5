package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// DescriptorLength is the number of bytes in one ORB descriptor row.
const DescriptorLength = 32

// Row is one fixed-length binary descriptor. It serialises as a JSON array of
// integers rather than base64.
type Row []byte

// MarshalJSON renders the row as [n,n,...].
func (r Row) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	buf := make([]byte, 0, len(r)*4+2)
	buf = append(buf, '[')
	for i, b := range r {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(b), 10)
	}
	buf = append(buf, ']')
	return buf, nil
}

// UnmarshalJSON accepts an array of integers in 0..255.
func (r *Row) UnmarshalJSON(data []byte) error {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("descriptor row: %w", err)
	}
	out := make(Row, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("descriptor row: value %d at index %d out of byte range", v, i)
		}
		out[i] = byte(v)
	}
	*r = out
	return nil
}

// Matrix is the ordered set of descriptor rows computed for one frame.
type Matrix []Row

// Empty reports whether the matrix carries no descriptors.
func (m Matrix) Empty() bool {
	return len(m) == 0
}

// Rows returns the number of descriptors.
func (m Matrix) Rows() int {
	return len(m)
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	if m == nil {
		return nil
	}
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append(Row(nil), row...)
	}
	return out
}

// MarshalJSON always renders a nil matrix as [].
func (m Matrix) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Row(m))
}

// ErrRaggedMatrix reports rows of differing length.
var ErrRaggedMatrix = errors.New("descriptor rows have differing lengths")

// Validate checks that all rows share one length.
func (m Matrix) Validate() error {
	if len(m) == 0 {
		return nil
	}
	width := len(m[0])
	for i, row := range m {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d bytes, want %d", ErrRaggedMatrix, i, len(row), width)
		}
	}
	return nil
}

// FromBytes splits a packed row-major buffer into rows of width bytes.
func FromBytes(data []byte, width int) (Matrix, error) {
	if width <= 0 {
		return nil, fmt.Errorf("invalid descriptor width %d", width)
	}
	if len(data)%width != 0 {
		return nil, fmt.Errorf("descriptor buffer of %d bytes is not a multiple of %d", len(data), width)
	}
	rows := len(data) / width
	m := make(Matrix, rows)
	for i := 0; i < rows; i++ {
		m[i] = append(Row(nil), data[i*width:(i+1)*width]...)
	}
	return m, nil
}
