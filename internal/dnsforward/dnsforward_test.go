package dnsforward

import (
	"testing"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstQuestionNameNormalizesCase(t *testing.T) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn("Example.COM"), mdns.TypeA)

	packed, err := msg.Pack()
	require.NoError(t, err)

	name, err := firstQuestionName(packed)
	require.NoError(t, err)
	assert.Equal(t, "example.com", name)
}

func TestFirstQuestionNameRejectsMultiQuestion(t *testing.T) {
	msg := new(mdns.Msg)
	msg.SetQuestion(mdns.Fqdn("a.com"), mdns.TypeA)
	msg.Question = append(msg.Question, mdns.Question{Name: mdns.Fqdn("b.com"), Qtype: mdns.TypeA, Qclass: mdns.ClassINET})

	packed, err := msg.Pack()
	require.NoError(t, err)

	_, err = firstQuestionName(packed)
	assert.ErrorIs(t, err, ErrNotSingleQuestion)
}

func TestFirstQuestionNameRejectsGarbage(t *testing.T) {
	_, err := firstQuestionName([]byte{0x00, 0x01, 0x02})
	assert.Error(t, err)
}
