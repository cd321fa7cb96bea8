// Copyright 2021 PairMesh, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errs is the error taxonomy shared by the mesh core and the
// ambient layers around it (config loading, the introspection API).
//
// Decode errors and capacity errors are never fatal: the engine drops them,
// logging decode errors and ignoring capacity drops silently. Configuration errors ARE fatal at startup; callers in cmd/ are
// expected to exit on them.
package errs

import "github.com/pkg/errors"

// ErrShortFrame is returned by wire.Decode when the buffer is shorter than
// the fixed 18-byte header.
var ErrShortFrame = errors.New("wire: frame shorter than header")

// ErrBadLength is returned by wire.Decode when the declared data length
// exceeds either the remaining buffer or MaxDataSize, and by wire.Encode
// when the frame's DataLen/len(Data) exceeds MaxDataSize.
var ErrBadLength = errors.New("wire: declared data length out of range")

// Code classifies an Error for logging/metrics purposes.
type Code int

// NOTE: don't delete any item and resort the order; Code values may be
// persisted in log aggregation dashboards.
const (
	CodeInternal Code = 1 + iota
	CodeDecode
	CodeCapacity
	CodeLinkSend
	CodeConfig
)

// Error pairs an underlying error with a Code.
type Error struct {
	Code Code
	Err  error
}

func (e Error) Error() string { return e.Err.Error() }
func (e Error) Unwrap() error { return e.Err }

func withCode(err error, code Code) error {
	return Error{Code: code, Err: err}
}

// WrapConfig wraps a configuration loading/validation error with context,
// preserving the original error for errors.Is/As.
func WrapConfig(err error, message string) error {
	if err == nil {
		return nil
	}
	return withCode(errors.WithMessage(err, message), CodeConfig)
}

// WrapLinkSend wraps a link driver send failure for logging. The core never
// retries at this layer; this exists purely so the log line carries a Code.
func WrapLinkSend(err error, message string) error {
	if err == nil {
		return nil
	}
	return withCode(errors.WithMessage(err, message), CodeLinkSend)
}
