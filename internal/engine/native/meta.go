package native

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"io"
	"sort"
	"strings"

	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/rwcarlsen/goexif/exif"
)

// IFD0 ASCII tags carried through the EXIF reader and writer. The names are
// the goexif field names.
var exifTags = map[uint16]string{
	0x010e: "ImageDescription",
	0x010f: "Make",
	0x0110: "Model",
	0x0131: "Software",
	0x0132: "DateTime",
	0x013b: "Artist",
	0x8298: "Copyright",
}

const exifOrientationTag = 0x0112

var (
	exifHeader = []byte("Exif\x00\x00")
	iccHeader  = []byte("ICC_PROFILE\x00")
	xmpHeader  = []byte("http://ns.adobe.com/xap/1.0/\x00")
	psHeader   = []byte("Photoshop 3.0\x00")
)

// jpegMeta walks the marker segments before the first scan.
func jpegMeta(buf []byte) engine.Meta {
	meta := engine.Meta{Pages: 1, Density: 72}
	if len(buf) < 4 || buf[0] != 0xFF || buf[1] != 0xD8 {
		return meta
	}
	var icc [][]byte
	for i := 2; i+4 <= len(buf); {
		if buf[i] != 0xFF {
			break
		}
		marker := buf[i+1]
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01 {
			i += 2
			continue
		}
		if marker == 0xDA || marker == 0xD9 {
			break
		}
		size := int(binary.BigEndian.Uint16(buf[i+2:]))
		if size < 2 || i+2+size > len(buf) {
			break
		}
		seg := buf[i+4 : i+2+size]
		switch {
		case marker == 0xC2 || marker == 0xC6 || marker == 0xCA || marker == 0xCE:
			meta.Progressive = true
		case marker == 0xE0 && bytes.HasPrefix(seg, []byte("JFIF\x00")) && len(seg) >= 12:
			if d := jfifDensity(seg[7], binary.BigEndian.Uint16(seg[8:])); d > 0 {
				meta.Density = d
			}
		case marker == 0xE1 && bytes.HasPrefix(seg, exifHeader):
			meta.EXIF = append([]byte(nil), seg[len(exifHeader):]...)
			meta.Orientation, meta.ExifFields = parseExif(meta.EXIF)
		case marker == 0xE1 && bytes.HasPrefix(seg, xmpHeader):
			meta.XMP = append([]byte(nil), seg[len(xmpHeader):]...)
		case marker == 0xE2 && bytes.HasPrefix(seg, iccHeader) && len(seg) > len(iccHeader)+2:
			icc = append(icc, seg[len(iccHeader)+2:])
		case marker == 0xED && bytes.HasPrefix(seg, psHeader):
			meta.Photoshop = append([]byte(nil), seg[len(psHeader):]...)
			meta.IPTC = iptcFromPhotoshop(meta.Photoshop)
		case marker == 0xFE:
			meta.Comments = append(meta.Comments, string(seg))
		}
		i += 2 + size
	}
	if len(icc) > 0 {
		meta.ICC = bytes.Join(icc, nil)
	}
	return meta
}

func jfifDensity(units byte, x uint16) float64 {
	switch units {
	case 1:
		return float64(x)
	case 2:
		return float64(x) * 2.54
	}
	return 0
}

// iptcFromPhotoshop extracts the IPTC-NAA resource (id 0x0404).
func iptcFromPhotoshop(ps []byte) []byte {
	for i := 0; i+12 <= len(ps); {
		if !bytes.Equal(ps[i:i+4], []byte("8BIM")) {
			return nil
		}
		id := binary.BigEndian.Uint16(ps[i+4:])
		nameLen := int(ps[i+6])
		pos := i + 6 + 1 + nameLen
		if (1+nameLen)%2 == 1 {
			pos++
		}
		if pos+4 > len(ps) {
			return nil
		}
		size := int(binary.BigEndian.Uint32(ps[pos:]))
		pos += 4
		if pos+size > len(ps) {
			return nil
		}
		if id == 0x0404 {
			return append([]byte(nil), ps[pos:pos+size]...)
		}
		i = pos + size + size%2
	}
	return nil
}

// parseExif reads the orientation and the known ASCII tags from IFD0 of a
// TIFF structured EXIF block.
func parseExif(block []byte) (int, map[string]string) {
	x, err := exif.Decode(bytes.NewReader(block))
	if err != nil && (x == nil || exif.IsCriticalError(err)) {
		return 0, nil
	}
	orientation := 0
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			orientation = v
		}
	}
	fields := map[string]string{}
	for _, name := range exifTags {
		tag, err := x.Get(exif.FieldName(name))
		if err != nil {
			continue
		}
		if v, err := tag.StringVal(); err == nil {
			fields[name] = strings.TrimRight(v, "\x00")
		}
	}
	if len(fields) == 0 {
		fields = nil
	}
	return orientation, fields
}

// buildExif writes a little-endian TIFF block with IFD0 holding the
// orientation (when set) and the known ASCII fields.
func buildExif(orientation int, fields map[string]string) []byte {
	type entry struct {
		tag   uint16
		value string
	}
	var entries []entry
	for tag, name := range exifTags {
		if v, ok := fields[name]; ok {
			entries = append(entries, entry{tag, v})
		}
	}
	if orientation >= 1 && orientation <= 8 {
		entries = append(entries, entry{tag: exifOrientationTag})
	}
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	le := binary.LittleEndian
	head := 8 + 2 + len(entries)*12 + 4
	var data []byte
	out := make([]byte, head)
	copy(out, "II")
	le.PutUint16(out[2:], 42)
	le.PutUint32(out[4:], 8)
	le.PutUint16(out[8:], uint16(len(entries)))
	for n, e := range entries {
		p := 10 + n*12
		le.PutUint16(out[p:], e.tag)
		if e.tag == exifOrientationTag {
			le.PutUint16(out[p+2:], 3)
			le.PutUint32(out[p+4:], 1)
			le.PutUint16(out[p+8:], uint16(orientation))
			continue
		}
		value := append([]byte(e.value), 0)
		le.PutUint16(out[p+2:], 2)
		le.PutUint32(out[p+4:], uint32(len(value)))
		if len(value) <= 4 {
			copy(out[p+8:], value)
			continue
		}
		le.PutUint32(out[p+8:], uint32(head+len(data)))
		data = append(data, value...)
		if len(data)%2 == 1 {
			data = append(data, 0)
		}
	}
	return append(out, data...)
}

// pngMeta reads the header and ancillary chunks of a PNG stream.
func pngMeta(buf []byte) (engine.Meta, int) {
	meta := engine.Meta{Pages: 1, Density: 72}
	bands := 3
	hasTRNS := false
	colourType := byte(2)
	for i := 8; i+12 <= len(buf); {
		size := int(binary.BigEndian.Uint32(buf[i:]))
		kind := string(buf[i+4 : i+8])
		if i+12+size > len(buf) {
			break
		}
		data := buf[i+8 : i+8+size]
		switch kind {
		case "IHDR":
			if len(data) >= 13 {
				colourType = data[9]
				meta.Progressive = data[12] == 1
			}
		case "tRNS":
			hasTRNS = true
		case "pHYs":
			if len(data) >= 9 && data[8] == 1 {
				meta.Density = float64(binary.BigEndian.Uint32(data)) * 0.0254
			}
		case "iCCP":
			if nul := bytes.IndexByte(data, 0); nul > 0 && nul+2 <= len(data) {
				if r, err := zlib.NewReader(bytes.NewReader(data[nul+2:])); err == nil {
					meta.ICC, _ = io.ReadAll(r)
					r.Close()
				}
			}
		case "eXIf":
			meta.EXIF = append([]byte(nil), data...)
			meta.Orientation, meta.ExifFields = parseExif(meta.EXIF)
		case "tEXt":
			if nul := bytes.IndexByte(data, 0); nul > 0 {
				meta.Comments = append(meta.Comments, string(data[nul+1:]))
			}
		case "IEND":
			i = len(buf)
			continue
		}
		i += 12 + size
	}
	switch colourType {
	case 0:
		bands = 1
		if hasTRNS {
			bands = 2
		}
	case 4:
		bands = 2
	case 3:
		meta.Palette = true
		if hasTRNS {
			bands = 4
		}
	case 6:
		bands = 4
	default:
		if hasTRNS {
			bands = 4
		}
	}
	return meta, bands
}

// injectPNGChunks inserts ancillary chunks directly after IHDR.
func injectPNGChunks(encoded []byte, meta engine.Meta, keepICC, keepExif bool) []byte {
	if len(encoded) < 33 {
		return encoded
	}
	var chunks bytes.Buffer
	if keepICC && len(meta.ICC) > 0 {
		var z bytes.Buffer
		w := zlib.NewWriter(&z)
		w.Write(meta.ICC)
		w.Close()
		writeChunk(&chunks, "iCCP", append([]byte("icc\x00\x00"), z.Bytes()...))
	}
	if meta.Density > 0 {
		ppm := uint32(meta.Density/0.0254 + 0.5)
		data := make([]byte, 9)
		binary.BigEndian.PutUint32(data, ppm)
		binary.BigEndian.PutUint32(data[4:], ppm)
		data[8] = 1
		writeChunk(&chunks, "pHYs", data)
	}
	if keepExif {
		if block := buildExif(meta.Orientation, meta.ExifFields); len(block) > 0 {
			writeChunk(&chunks, "eXIf", block)
		}
	}
	if chunks.Len() == 0 {
		return encoded
	}
	// signature (8) + IHDR chunk (25)
	out := make([]byte, 0, len(encoded)+chunks.Len())
	out = append(out, encoded[:33]...)
	out = append(out, chunks.Bytes()...)
	return append(out, encoded[33:]...)
}

func writeChunk(w *bytes.Buffer, kind string, data []byte) {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(data)))
	w.Write(size[:])
	crc := crc32.NewIEEE()
	crc.Write([]byte(kind))
	crc.Write(data)
	w.WriteString(kind)
	w.Write(data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	w.Write(sum[:])
}

// injectJPEGSegments inserts APP segments directly after SOI.
func injectJPEGSegments(encoded []byte, meta engine.Meta, keepICC, keepExif bool) []byte {
	if len(encoded) < 2 {
		return encoded
	}
	var segs bytes.Buffer
	if meta.Density > 0 {
		d := uint16(meta.Density + 0.5)
		jfif := []byte("JFIF\x00\x01\x02\x01")
		jfif = binary.BigEndian.AppendUint16(jfif, d)
		jfif = binary.BigEndian.AppendUint16(jfif, d)
		jfif = append(jfif, 0, 0)
		writeSegment(&segs, 0xE0, jfif)
	}
	if keepExif {
		if block := buildExif(meta.Orientation, meta.ExifFields); len(block) > 0 {
			writeSegment(&segs, 0xE1, append(append([]byte(nil), exifHeader...), block...))
		}
	}
	if keepICC && len(meta.ICC) > 0 {
		const chunk = 65519 - 14
		total := (len(meta.ICC) + chunk - 1) / chunk
		for n := 0; n < total; n++ {
			end := min((n+1)*chunk, len(meta.ICC))
			seg := append(append([]byte(nil), iccHeader...), byte(n+1), byte(total))
			writeSegment(&segs, 0xE2, append(seg, meta.ICC[n*chunk:end]...))
		}
	}
	if segs.Len() == 0 {
		return encoded
	}
	out := make([]byte, 0, len(encoded)+segs.Len())
	out = append(out, encoded[:2]...)
	out = append(out, segs.Bytes()...)
	return append(out, encoded[2:]...)
}

func writeSegment(w *bytes.Buffer, marker byte, data []byte) {
	w.Write([]byte{0xFF, marker})
	var size [2]byte
	binary.BigEndian.PutUint16(size[:], uint16(len(data)+2))
	w.Write(size[:])
	w.Write(data)
}
