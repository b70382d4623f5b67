// Package embedstore persists scene embeddings in a content-addressed blob
// store. Blobs are keyed by (content hash, model id), so scenes sharing
// content across documents share one stored embedding.
package embedstore

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/golang/snappy"

	sdxerrors "github.com/Aman-CERP/scenedex/internal/errors"
)

// Blob layout, prior to snappy compression:
//
//	[0:4]  magic "SDXE"
//	[4:6]  format version (uint16, little endian)
//	[6:10] dimensions (uint32, little endian)
//	[10:]  dimensions * 4 bytes of float32 payload
const (
	blobMagic   = "SDXE"
	blobVersion = 1
	headerSize  = 10
)

// Encode serializes a vector into a compressed blob.
func Encode(vector []float32) []byte {
	raw := make([]byte, headerSize+len(vector)*4)
	copy(raw[0:4], blobMagic)
	binary.LittleEndian.PutUint16(raw[4:6], blobVersion)
	binary.LittleEndian.PutUint32(raw[6:10], uint32(len(vector)))

	for i, v := range vector {
		binary.LittleEndian.PutUint32(raw[headerSize+i*4:], math.Float32bits(v))
	}

	return snappy.Encode(nil, raw)
}

// Decode deserializes a blob, validating magic, version, and dimensions.
// A mismatch of any of the three reports the blob as corrupt.
func Decode(blob []byte, expectedDims int) ([]float32, error) {
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, sdxerrors.New(sdxerrors.ErrCodeEmbeddingCorrupt,
			"embedding blob failed decompression", err)
	}

	if len(raw) < headerSize || string(raw[0:4]) != blobMagic {
		return nil, sdxerrors.New(sdxerrors.ErrCodeEmbeddingCorrupt,
			"embedding blob has invalid header", nil)
	}

	version := binary.LittleEndian.Uint16(raw[4:6])
	if version != blobVersion {
		return nil, sdxerrors.New(sdxerrors.ErrCodeEmbeddingCorrupt,
			"embedding blob has unsupported version", nil).
			WithDetail("version", strconv.Itoa(int(version)))
	}

	dims := int(binary.LittleEndian.Uint32(raw[6:10]))
	if len(raw) != headerSize+dims*4 {
		return nil, sdxerrors.New(sdxerrors.ErrCodeEmbeddingCorrupt,
			"embedding blob payload length does not match header", nil)
	}
	if expectedDims > 0 && dims != expectedDims {
		return nil, sdxerrors.New(sdxerrors.ErrCodeEmbeddingCorrupt,
			"embedding blob dimensions do not match model", nil).
			WithDetail("expected", strconv.Itoa(expectedDims)).
			WithDetail("got", strconv.Itoa(dims))
	}

	vector := make([]float32, dims)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(raw[headerSize+i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}
