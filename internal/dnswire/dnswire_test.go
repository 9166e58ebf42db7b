package dnswire

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaultsToARecord(t *testing.T) {
	b := NewBuilder(Options{})
	buf, err := b.Build("example.com", 42)
	require.NoError(t, err)

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(buf))
	assert.Equal(t, uint16(42), m.Id)
	require.Len(t, m.Question, 1)
	assert.Equal(t, dns.TypeA, m.Question[0].Qtype)
	assert.Equal(t, "example.com.", m.Question[0].Name)
}

func TestBuildExplicitType(t *testing.T) {
	b := NewBuilder(Options{})
	buf, err := b.Build("example.com MX", 7)
	require.NoError(t, err)

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(buf))
	assert.Equal(t, dns.TypeMX, m.Question[0].Qtype)
}

func TestBuildUnknownType(t *testing.T) {
	b := NewBuilder(Options{})
	_, err := b.Build("example.com NOTATYPE", 1)
	assert.Error(t, err)
}

func TestBuildRejectsTooManyFields(t *testing.T) {
	b := NewBuilder(Options{})
	_, err := b.Build("a b c", 1)
	assert.Error(t, err)
}

func TestBuildWithEDNS(t *testing.T) {
	b := NewBuilder(Options{EDNSUDPSize: 4096, DNSSECOK: true})
	buf, err := b.Build("example.com", 1)
	require.NoError(t, err)

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(buf))
	opt := m.IsEdns0()
	require.NotNil(t, opt)
	assert.Equal(t, uint16(4096), opt.UDPSize())
	assert.True(t, opt.Do())
}

func TestExtractIDAndRcode(t *testing.T) {
	b := NewBuilder(Options{})
	buf, err := b.Build("example.com", 0xBEEF)
	require.NoError(t, err)

	id, _, ok := ExtractIDAndRcode(buf)
	require.True(t, ok)
	assert.Equal(t, uint16(0xBEEF), id)
}

func TestExtractIDAndRcodeShortBuffer(t *testing.T) {
	_, _, ok := ExtractIDAndRcode([]byte{0x01, 0x02})
	assert.False(t, ok)
}

func TestRcodeNamesCoversAllSixteen(t *testing.T) {
	for i, name := range RcodeNames {
		assert.NotEmpty(t, name, "rcode %d missing a name", i)
	}
}
