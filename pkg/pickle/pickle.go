// Package pickle implements the small subset of Python's pickle wire format
// needed to exchange scalar string values with the legacy Django side of the
// platform.
//
// The Django side JSON-serialises values and then pickles the resulting
// string before writing it to Redis. Encode must therefore produce bytes
// that CPython's unpickler accepts, and Decode must accept bytes produced by
// CPython's pickler. This is an external compatibility contract: the byte
// layout is fixed and must not change.
package pickle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Opcodes that appear in pickled string payloads.
const (
	opProto           = 0x80
	opFrame           = 0x95
	opStop            = '.'
	opBinUnicode      = 'X'
	opShortBinUnicode = 0x8c
	opBinUnicode8     = 0x8d
	opShortBinString  = 'U'
	opBinString       = 'T'
	opString          = 'S'
	opUnicode         = 'V'
	opBinPut          = 'q'
	opLongBinPut      = 'r'
	opPut             = 'p'
	opMemoize         = 0x94
)

// protocol is the version Encode writes. The legacy producer pickles at
// protocol 2 and compares no higher, so the header must stay \x80\x02.
const protocol = 2

// Encode serialises s as a protocol 2 pickle of a unicode string:
// PROTO 2, BINUNICODE with a little-endian uint32 length, STOP.
func Encode(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("pickle: value is not valid UTF-8")
	}
	if uint64(len(s)) > math.MaxUint32 {
		return nil, fmt.Errorf("pickle: value too long for BINUNICODE (%d bytes)", len(s))
	}

	buf := make([]byte, 0, len(s)+7)
	buf = append(buf, opProto, protocol)
	buf = append(buf, opBinUnicode)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	buf = append(buf, s...)
	buf = append(buf, opStop)
	return buf, nil
}

// Decode parses a pickled unicode string. It accepts output from any CPython
// pickler at protocols 0 through 5 as long as the payload is a single
// string, and fails on anything else.
func Decode(data []byte) (string, error) {
	d := decoder{buf: data}
	return d.run()
}

type decoder struct {
	buf  []byte
	pos  int
	val  string
	have bool
}

func (d *decoder) run() (string, error) {
	for {
		op, err := d.byte()
		if err != nil {
			return "", err
		}

		switch op {
		case opProto:
			v, err := d.byte()
			if err != nil {
				return "", err
			}
			if v < 1 || v > 5 {
				return "", fmt.Errorf("pickle: unsupported protocol %d", v)
			}
		case opFrame:
			// Frame length is advisory; the opcode stream continues inline.
			if _, err := d.take(8); err != nil {
				return "", err
			}
		case opBinUnicode:
			n, err := d.uint32()
			if err != nil {
				return "", err
			}
			if err := d.pushUnicode(uint64(n)); err != nil {
				return "", err
			}
		case opShortBinUnicode:
			n, err := d.byte()
			if err != nil {
				return "", err
			}
			if err := d.pushUnicode(uint64(n)); err != nil {
				return "", err
			}
		case opBinUnicode8:
			n, err := d.uint64()
			if err != nil {
				return "", err
			}
			if err := d.pushUnicode(n); err != nil {
				return "", err
			}
		case opShortBinString:
			n, err := d.byte()
			if err != nil {
				return "", err
			}
			if err := d.pushRaw(uint64(n)); err != nil {
				return "", err
			}
		case opBinString:
			n, err := d.uint32()
			if err != nil {
				return "", err
			}
			if n > math.MaxInt32 {
				return "", fmt.Errorf("pickle: negative BINSTRING length")
			}
			if err := d.pushRaw(uint64(n)); err != nil {
				return "", err
			}
		case opUnicode:
			// Protocol 0 unicode: a raw-unicode-escape encoded line.
			line, err := d.line()
			if err != nil {
				return "", err
			}
			s, err := decodeRawUnicodeEscape(line)
			if err != nil {
				return "", err
			}
			if err := d.push(s); err != nil {
				return "", err
			}
		case opString:
			// Protocol 0 byte string (Python 2 str): a repr-quoted line.
			line, err := d.line()
			if err != nil {
				return "", err
			}
			s, err := decodeStringLiteral(line)
			if err != nil {
				return "", err
			}
			if err := d.push(s); err != nil {
				return "", err
			}
		case opBinPut:
			if _, err := d.byte(); err != nil {
				return "", err
			}
		case opLongBinPut:
			if _, err := d.take(4); err != nil {
				return "", err
			}
		case opPut:
			// Protocol 0 memo index: a decimal line, bookkeeping only.
			if _, err := d.line(); err != nil {
				return "", err
			}
		case opMemoize:
			// Memo bookkeeping only; nothing to do for a single string.
		case opStop:
			if !d.have {
				return "", fmt.Errorf("pickle: stack empty at STOP")
			}
			return d.val, nil
		default:
			return "", fmt.Errorf("pickle: unsupported opcode 0x%02x at offset %d", op, d.pos-1)
		}
	}
}

func (d *decoder) pushUnicode(n uint64) error {
	b, err := d.take(n)
	if err != nil {
		return err
	}
	if !utf8.Valid(b) {
		return fmt.Errorf("pickle: string payload is not valid UTF-8")
	}
	return d.push(string(b))
}

// pushRaw handles protocol 1/2 byte strings (Python 2 str). The payload is
// taken as-is.
func (d *decoder) pushRaw(n uint64) error {
	b, err := d.take(n)
	if err != nil {
		return err
	}
	return d.push(string(b))
}

func (d *decoder) push(s string) error {
	if d.have {
		return fmt.Errorf("pickle: more than one value on the stack")
	}
	d.val = s
	d.have = true
	return nil
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, fmt.Errorf("pickle: truncated input at offset %d", d.pos)
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) take(n uint64) ([]byte, error) {
	if n > uint64(len(d.buf)-d.pos) {
		return nil, fmt.Errorf("pickle: truncated input at offset %d (want %d bytes)", d.pos, n)
	}
	b := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

// line reads up to the next newline, excluding it.
func (d *decoder) line() ([]byte, error) {
	idx := bytes.IndexByte(d.buf[d.pos:], '\n')
	if idx < 0 {
		return nil, fmt.Errorf("pickle: unterminated line at offset %d", d.pos)
	}
	b := d.buf[d.pos : d.pos+idx]
	d.pos += idx + 1
	return b, nil
}

// decodeRawUnicodeEscape reverses the raw-unicode-escape encoding the
// protocol 0 pickler applies to strings: \uXXXX and \UXXXXXXXX escapes for
// non-latin-1 characters (and the characters the pickler must escape, like
// newlines and backslashes); every other byte is latin-1.
func decodeRawUnicodeEscape(b []byte) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(b); {
		c := b[i]
		if c != '\\' || i+1 >= len(b) || (b[i+1] != 'u' && b[i+1] != 'U') {
			sb.WriteRune(rune(c))
			i++
			continue
		}

		digits := 4
		if b[i+1] == 'U' {
			digits = 8
		}
		if i+2+digits > len(b) {
			return "", fmt.Errorf("pickle: truncated unicode escape")
		}
		v, err := strconv.ParseUint(string(b[i+2:i+2+digits]), 16, 32)
		if err != nil || v > 0x10ffff {
			return "", fmt.Errorf("pickle: invalid unicode escape")
		}
		sb.WriteRune(rune(v))
		i += 2 + digits
	}
	return sb.String(), nil
}

// decodeStringLiteral parses the repr-quoted payload of a protocol 0 STRING
// opcode, as written by Python 2 picklers.
func decodeStringLiteral(b []byte) (string, error) {
	if len(b) < 2 || b[0] != b[len(b)-1] || (b[0] != '\'' && b[0] != '"') {
		return "", fmt.Errorf("pickle: STRING payload is not quoted")
	}
	b = b[1 : len(b)-1]

	var sb strings.Builder
	for i := 0; i < len(b); {
		c := b[i]
		if c != '\\' {
			sb.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(b) {
			return "", fmt.Errorf("pickle: dangling escape in STRING payload")
		}
		switch e := b[i+1]; e {
		case '\\', '\'', '"':
			sb.WriteByte(e)
			i += 2
		case 'n':
			sb.WriteByte('\n')
			i += 2
		case 'r':
			sb.WriteByte('\r')
			i += 2
		case 't':
			sb.WriteByte('\t')
			i += 2
		case 'x':
			if i+4 > len(b) {
				return "", fmt.Errorf("pickle: truncated hex escape in STRING payload")
			}
			v, err := strconv.ParseUint(string(b[i+2:i+4]), 16, 8)
			if err != nil {
				return "", fmt.Errorf("pickle: invalid hex escape in STRING payload")
			}
			sb.WriteByte(byte(v))
			i += 4
		default:
			// Python's escape decoder keeps unknown escapes verbatim.
			sb.WriteByte('\\')
			sb.WriteByte(e)
			i += 2
		}
	}
	return sb.String(), nil
}

func (d *decoder) uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) uint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
