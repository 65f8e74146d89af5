// Index file header: the per-entity schema header plus the framing that
// stitches it to the primary tree and the named secondary trees in one
// file. The properties dict is the only non-fixed field and goes through
// goccy/go-json.
package strata

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// schemaHeader is the on-disk prefix of every index file: signature,
// format version, schema hash, schema blob, and a free-form properties
// dict.
type schemaHeader struct {
	formatVersion int32
	schemaHash    uint32
	schema        Schema
	properties    map[string]string
}

func writeSchemaHeader(w io.Writer, h schemaHeader) error {
	var buf bytes.Buffer
	var sigVer [8]byte
	binary.LittleEndian.PutUint32(sigVer[0:4], uint32(schemaSignature))
	binary.LittleEndian.PutUint32(sigVer[4:8], uint32(h.formatVersion))
	buf.Write(sigVer[:])

	var hashBuf [4]byte
	binary.LittleEndian.PutUint32(hashBuf[:], h.schemaHash)
	buf.Write(hashBuf[:])

	blob := encodeSchemaBlob(h.schema)
	var blobLen [4]byte
	binary.LittleEndian.PutUint32(blobLen[:], uint32(len(blob)))
	buf.Write(blobLen[:])
	buf.Write(blob)

	props, err := json.Marshal(h.properties)
	if err != nil {
		return fmt.Errorf("%w: properties: %v", ErrCorruptHeader, err)
	}
	var propsLen [4]byte
	binary.LittleEndian.PutUint32(propsLen[:], uint32(len(props)))
	buf.Write(propsLen[:])
	buf.Write(props)

	_, err = w.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}

func readSchemaHeader(r *byteReader) (schemaHeader, error) {
	sigBytes, err := r.readN(4)
	if err != nil {
		return schemaHeader{}, fmt.Errorf("%w: signature: %v", ErrCorruptHeader, err)
	}
	var formatVersion int32
	switch sig := int32(binary.LittleEndian.Uint32(sigBytes)); sig {
	case schemaSignature:
		verBytes, err := r.readN(4)
		if err != nil {
			return schemaHeader{}, fmt.Errorf("%w: formatVersion: %v", ErrCorruptHeader, err)
		}
		formatVersion = int32(binary.LittleEndian.Uint32(verBytes))
	case schemaFormatInitial:
		// Initial-format files carry no signature; the stream opens with
		// the version word itself.
		formatVersion = schemaFormatInitial
	default:
		return schemaHeader{}, fmt.Errorf("%w: bad signature %#x", ErrCorruptHeader, sig)
	}

	hashBytes, err := r.readN(4)
	if err != nil {
		return schemaHeader{}, fmt.Errorf("%w: schemaHash: %v", ErrCorruptHeader, err)
	}
	hash := binary.LittleEndian.Uint32(hashBytes)

	blobLenBytes, err := r.readN(4)
	if err != nil {
		return schemaHeader{}, fmt.Errorf("%w: schemaBlob length: %v", ErrCorruptHeader, err)
	}
	blobLen := binary.LittleEndian.Uint32(blobLenBytes)
	blob, err := r.readN(int(blobLen))
	if err != nil {
		return schemaHeader{}, fmt.Errorf("%w: schemaBlob: %v", ErrCorruptHeader, err)
	}
	schema, err := decodeSchemaBlob(blob)
	if err != nil {
		return schemaHeader{}, err
	}

	propsLenBytes, err := r.readN(4)
	if err != nil {
		return schemaHeader{}, fmt.Errorf("%w: properties length: %v", ErrCorruptHeader, err)
	}
	propsLen := binary.LittleEndian.Uint32(propsLenBytes)
	propsBytes, err := r.readN(int(propsLen))
	if err != nil {
		return schemaHeader{}, fmt.Errorf("%w: properties: %v", ErrCorruptHeader, err)
	}
	var props map[string]string
	if len(propsBytes) > 0 {
		if err := json.Unmarshal(propsBytes, &props); err != nil {
			return schemaHeader{}, fmt.Errorf("%w: properties: %v", ErrCorruptHeader, err)
		}
	}

	return schemaHeader{
		formatVersion: formatVersion,
		schemaHash:    hash,
		schema:        schema,
		properties:    props,
	}, nil
}

// secondaryIndexDescriptor is the table's static description of one named
// secondary index, enough to build a fresh secondaryIndex[K, DK] at load
// time before any data has been read.
type secondaryIndexDescriptor struct {
	id          int
	name        string
	derivedType DBType
}

// writeIndexFile assembles the full index-file image in one buffered
// pass: schema header, primary tree, then each secondary index framed as
// a length-prefixed name followed by its tree, terminated by an empty
// name.
func writeIndexFile[K comparable](
	w io.Writer,
	header schemaHeader,
	pk *primaryIndex[K],
	keyType DBType,
	encodeKey func(K) any,
	secondaries []secondaryIndexWriter,
) error {
	if err := writeSchemaHeader(w, header); err != nil {
		return err
	}
	if err := writePrimaryIndex(w, pk, keyType, encodeKey); err != nil {
		return err
	}
	for _, sw := range secondaries {
		var buf bytes.Buffer
		writeString(&buf, sw.descriptor.name)
		if _, err := w.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		if err := sw.write(w); err != nil {
			return err
		}
	}
	var term bytes.Buffer
	writeString(&term, "")
	_, err := w.Write(term.Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return nil
}

// secondaryIndexWriter binds a descriptor to the closure that serializes
// its tree, letting table.go stay the only place that knows every
// secondary index's concrete DK type parameter.
type secondaryIndexWriter struct {
	descriptor secondaryIndexDescriptor
	write      func(io.Writer) error
}

// readIndexFileHeader parses the schema header and leaves r positioned at
// the start of the primary tree, for table.go to continue decoding with
// the concrete K type parameter it owns.
func readIndexFileHeader(data []byte) (schemaHeader, *byteReader, error) {
	r := &byteReader{data: data}
	h, err := readSchemaHeader(r)
	if err != nil {
		return schemaHeader{}, nil, err
	}
	return h, r, nil
}

// readSecondaryIndexName reads the next length-prefixed name from the
// index file stream; an empty name signals the terminator.
func readSecondaryIndexName(r *byteReader) (string, error) {
	name, err := r.readString()
	if err != nil {
		return "", fmt.Errorf("%w: secondary index name: %v", ErrCorruptIndex, err)
	}
	return name, nil
}
