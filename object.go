// pi4j-example-crowpi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of pi4j-example-crowpi.
//
// pi4j-example-crowpi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// pi4j-example-crowpi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with pi4j-example-crowpi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package rfid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
)

// A card holds a single object: the CBOR encoding of the value, gzip
// compressed, written from the start of the card. Bytes after the gzip
// member are ignored on read.

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	encMode, decMode = em, dm
}

// EncodeObject returns the stored form of v.
func EncodeObject(v any) ([]byte, error) {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrSerialization, err)
	}
	buf := new(bytes.Buffer)
	w, err := gzip.NewWriterLevel(buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("%w: compress: %w", ErrSerialization, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: compress: %w", ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

// DecodeObject decodes the stored form in data into v. A value of another
// type yields ErrObjectType; anything unreadable yields ErrSerialization.
func DecodeObject(data []byte, v any) error {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: decompress: %w", ErrSerialization, err)
	}
	r.Multistream(false)
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: decompress: %w", ErrSerialization, err)
	}

	if err := decMode.Unmarshal(raw, v); err != nil {
		var typeErr *cbor.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: %w", ErrObjectType, err)
		}
		return fmt.Errorf("%w: decode: %w", ErrSerialization, err)
	}
	return nil
}

// WriteObject stores v on the card. The encoded size is checked against
// the card capacity before the card is touched.
func WriteObject(ctx context.Context, card Card, v any) error {
	data, err := EncodeObject(v)
	if err != nil {
		return err
	}
	debugf("object encodes to %d of %d bytes", len(data), card.Capacity())
	if len(data) > card.Capacity() {
		return fmt.Errorf("%w: %w: object is %d bytes, capacity %d",
			ErrSerialization, ErrCapacityExceeded, len(data), card.Capacity())
	}
	if err := card.WriteBytes(ctx, data); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return nil
}

// ReadObject reads the object stored on the card as a T.
func ReadObject[T any](ctx context.Context, card Card) (T, error) {
	var v T
	data, err := card.ReadBytes(ctx)
	if err != nil {
		return v, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if err := DecodeObject(data, &v); err != nil {
		return v, err
	}
	return v, nil
}
