package pickle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"ascii", "hello"},
		{"json payload", `{"uid":7}`},
		{"unicode", "héllo wörld 🚀"},
		{"long", longString(1 << 12)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.value)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestEncodeExactBytes(t *testing.T) {
	// The wire layout is a hard compatibility contract with the Django
	// consumer: PROTO 2, BINUNICODE, little-endian length, payload, STOP.
	data, err := Encode(`{"uid":7}`)
	require.NoError(t, err)

	want := append([]byte{0x80, 0x02, 'X', 0x09, 0x00, 0x00, 0x00}, `{"uid":7}`...)
	want = append(want, '.')
	assert.Equal(t, want, data)
}

func TestEncodeInvalidUTF8(t *testing.T) {
	_, err := Encode(string([]byte{0xff, 0xfe}))
	assert.Error(t, err)
}

func TestDecodeCPythonFixtures(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{
			// pickle.dumps('hello', protocol=2)
			name: "protocol 2 with memo",
			data: append(append([]byte{0x80, 0x02, 'X', 0x05, 0x00, 0x00, 0x00}, "hello"...), 'q', 0x00, '.'),
			want: "hello",
		},
		{
			// pickle.dumps('hello world') at the default protocol 4
			name: "protocol 4 framed",
			data: append(append([]byte{
				0x80, 0x04,
				0x95, 0x0f, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
				0x8c, 0x0b,
			}, "hello world"...), 0x94, '.'),
			want: "hello world",
		},
		{
			name: "protocol 2 byte string",
			data: append(append([]byte{0x80, 0x02, 'U', 0x05}, "hello"...), '.'),
			want: "hello",
		},
		{
			name: "bare BINUNICODE without header",
			data: append(append([]byte{'X', 0x03, 0x00, 0x00, 0x00}, "abc"...), '.'),
			want: "abc",
		},
		{
			// pickle.dumps('hello', protocol=0)
			name: "protocol 0 unicode",
			data: []byte("Vhello\np0\n."),
			want: "hello",
		},
		{
			// protocol 0 raw-unicode-escape: latin-1 bytes pass
			// through; newlines travel as backslash-u escapes
			name: "protocol 0 unicode with escapes",
			data: append([]byte{'V', 'h', 0xe9}, "llo\\u000a\np0\n."...),
			want: "héllo\n",
		},
		{
			// Python 2 pickle.dumps('hello')
			name: "protocol 0 byte string",
			data: []byte("S'hello'\np0\n."),
			want: "hello",
		},
		{
			name: "protocol 0 byte string with escapes",
			data: []byte("S'it\\'s a\\ttab'\np0\n."),
			want: "it's a\ttab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty input", nil},
		{"truncated header", []byte{0x80}},
		{"truncated payload", []byte{0x80, 0x02, 'X', 0x05, 0x00, 0x00, 0x00, 'h', 'i'}},
		{"missing stop", append([]byte{0x80, 0x02, 'X', 0x02, 0x00, 0x00, 0x00}, "hi"...)},
		{"stop with empty stack", []byte{0x80, 0x02, '.'}},
		{"non-string pickle", []byte{0x80, 0x02, '}', '.'}}, // EMPTY_DICT
		{"invalid utf8 payload", []byte{0x80, 0x02, 'X', 0x02, 0x00, 0x00, 0x00, 0xff, 0xfe, '.'}},
		{"unsupported protocol", []byte{0x80, 0x06, 'X', 0x00, 0x00, 0x00, 0x00, '.'}},
		{"unterminated protocol 0 line", []byte("Vhello")},
		{"unquoted STRING payload", []byte("Shello\n.")},
		{"truncated unicode escape", []byte("V\\u00\n.")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.Error(t, err)
		})
	}
}

func longString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return string(b)
}
