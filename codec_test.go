package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverRoundTrip(t *testing.T) {
	input := []byte(`{"client-hardware-address":"aa:bb:cc:dd:ee:ff","dhcp-message-type":"discover","parameters-request-list":["subnet-mask","routers"]}`)
	packet, meta, err := v4encode(input)
	require.NoError(t, err)
	assert.Equal(t, byte(BOOTREQUEST), packet[AT_OP])
	assert.Equal(t, byte(1), packet[AT_HTYPE])
	assert.Equal(t, byte(6), packet[AT_HLEN])
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, packet[AT_CHADDR:AT_CHADDR+6])
	assert.Equal(t, MAGIC, packet[AT_MAGIC:AT_MAGIC+4])
	assert.Equal(t, FRAME_MIN, len(packet))
	assert.True(t, bytes.Contains(packet[AT_OPTIONS:], []byte{53, 1, 1}))
	assert.True(t, bytes.Contains(packet[AT_OPTIONS:], []byte{55, 2, 1, 3}))
	assert.True(t, bytes.Contains(packet[AT_OPTIONS:], []byte{0xff}))
	assert.Equal(t, byte(1), meta.mtype)

	frame, rmeta, err := v4decode(packet)
	require.NoError(t, err)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", frame["client-hardware-address"])
	assert.Equal(t, "discover", frame["dhcp-message-type"])
	assert.Equal(t, []any{"subnet-mask", "routers"}, frame["parameters-request-list"])
	assert.Equal(t, meta.key, rmeta.key)
}

func TestOfferCorrelation(t *testing.T) {
	request := []byte(`{"client-hardware-address":"aa:bb:cc:dd:ee:ff","bootp-transaction-id":"11223344","dhcp-message-type":"discover"}`)
	packet, rmeta, err := v4encode(request)
	require.NoError(t, err)
	frame, meta, err := v4decode(packet)
	require.NoError(t, err)
	assert.Equal(t, "discover", frame["dhcp-message-type"])
	assert.Equal(t, [11]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x11, 0x22, 0x33, 0x44, 0x01}, meta.key)

	reply := []byte(`{"client-hardware-address":"aa:bb:cc:dd:ee:ff","bootp-transaction-id":"11223344","dhcp-message-type":"offer","bootp-assigned-address":"10.0.0.42"}`)
	rpacket, ometa, err := v4encode(reply)
	require.NoError(t, err)
	assert.Equal(t, byte(BOOTREPLY), rpacket[AT_OP])
	assert.Equal(t, meta.key, ometa.key)
	assert.Equal(t, rmeta.key, ometa.key)
}

func TestTypeBuckets(t *testing.T) {
	assert.Equal(t, byte(1), v4bucket(2))
	assert.Equal(t, byte(3), v4bucket(5))
	assert.Equal(t, byte(3), v4bucket(6))
	assert.Equal(t, byte(7), v4bucket(7))
	assert.Equal(t, byte(13), v4bucket(13))
	assert.Equal(t, byte(0), v4bucket(0))
}

func TestAddressMaskList(t *testing.T) {
	input := []byte(`{"client-hardware-address":"aa:bb:cc:dd:ee:ff","dhcp-message-type":"offer","policy-filters":["10.0.0.0/255.0.0.0","192.168.1.0/255.255.255.0"]}`)
	packet, _, err := v4encode(input)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(packet[AT_OPTIONS:], []byte{21, 16, 10, 0, 0, 0, 255, 0, 0, 0, 192, 168, 1, 0, 255, 255, 255, 0}))

	frame, _, err := v4decode(packet)
	require.NoError(t, err)
	assert.Equal(t, []any{"10.0.0.0/255.0.0.0", "192.168.1.0/255.255.255.0"}, frame["policy-filters"])
}

func TestEncodeDecodeSymmetry(t *testing.T) {
	input := FRAME{
		"client-hardware-address": "02:00:00:11:22:33",
		"bootp-transaction-id":    "deadbeef",
		"bootp-start-time":        12,
		"bootp-relay-hops":        2,
		"bootp-client-address":    "192.168.1.10",
		"bootp-assigned-address":  "192.168.1.20",
		"bootp-server-address":    "192.168.1.1",
		"bootp-relay-address":     "192.168.2.1",
		"bootp-server-name":       "srv01",
		"bootp-filename":          "pxelinux.0",
		"dhcp-message-type":       "ack",
		"hostname":                "client42",
		"subnet-mask":             "255.255.255.0",
		"routers":                 []any{"192.168.1.1", "192.168.1.2"},
		"address-lease-time":      3600,
		"ip-forwarding":           true,
		"tcp-keepalive-garbage":   false,
		"client-identifier":       "01020000112233",
		"84":                      "cafe",
	}
	payload, err := json.Marshal(input)
	require.NoError(t, err)
	packet, meta, err := v4encode(payload)
	require.NoError(t, err)
	assert.Equal(t, byte(BOOTREPLY), packet[AT_OP])
	assert.Equal(t, byte(3), meta.key[10])

	frame, _, err := v4decode(packet)
	require.NoError(t, err)
	for key, value := range input {
		assert.Equal(t, value, frame[key], key)
	}
	assert.Len(t, frame, len(input))
}

func TestEncodeDeterminism(t *testing.T) {
	input := []byte(`{"client-hardware-address":"aa:bb:cc:dd:ee:ff","bootp-transaction-id":"0000abcd","dhcp-message-type":"discover","routers":["10.0.0.1"],"hostname":"fixed"}`)
	first, _, err := v4encode(input)
	require.NoError(t, err)
	second, _, err := v4encode(input)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEncodeFillsMissingTransactionID(t *testing.T) {
	input := []byte(`{"client-hardware-address":"aa:bb:cc:dd:ee:ff","dhcp-message-type":"discover"}`)
	packet, _, err := v4encode(input)
	require.NoError(t, err)
	assert.NotZero(t, binary.BigEndian.Uint32(packet[AT_XID:]))
}

func TestEncodeDuplicatesIgnored(t *testing.T) {
	input := []byte(`{"client-hardware-address":"aa:bb:cc:dd:ee:ff","dhcp-message-type":"discover","hostname":"first","12":"second"}`)
	packet, _, err := v4encode(input)
	require.NoError(t, err)
	frame, _, err := v4decode(packet)
	require.NoError(t, err)
	assert.Equal(t, "first", frame["hostname"])
}

func TestEncodeErrors(t *testing.T) {
	chaddr := `"client-hardware-address":"aa:bb:cc:dd:ee:ff"`
	mtype := `"dhcp-message-type":"discover"`
	for name, input := range map[string]string{
		"not-json":          `not json`,
		"not-object":        `[1,2]`,
		"nested-object":     `{` + chaddr + `,` + mtype + `,"hostname":{"a":1}}`,
		"nested-list":       `{` + chaddr + `,` + mtype + `,"routers":[["10.0.0.1"]]}`,
		"unknown-option":    `{` + chaddr + `,` + mtype + `,"no-such-option":"x"}`,
		"bad-decimal":       `{` + chaddr + `,` + mtype + `,"255":"ff"}`,
		"list-unsupported":  `{` + chaddr + `,` + mtype + `,"hostname":["a","b"]}`,
		"string-as-integer": `{` + chaddr + `,` + mtype + `,"address-lease-time":"3600"}`,
		"float-as-integer":  `{` + chaddr + `,` + mtype + `,"address-lease-time":1.5}`,
		"integer-as-string": `{` + chaddr + `,` + mtype + `,"hostname":42}`,
		"integer-as-bool":   `{` + chaddr + `,` + mtype + `,"ip-forwarding":1}`,
		"odd-hex":           `{` + chaddr + `,` + mtype + `,"client-identifier":"abc"}`,
		"bad-hex":           `{` + chaddr + `,` + mtype + `,"client-identifier":"zzzz"}`,
		"bad-address":       `{` + chaddr + `,` + mtype + `,"subnet-mask":"not.an.ip"}`,
		"bad-address-mask":  `{` + chaddr + `,` + mtype + `,"policy-filters":["10.0.0.0"]}`,
		"bad-chaddr":        `{"client-hardware-address":"aa:bb",` + mtype + `}`,
		"bad-xid":           `{` + chaddr + `,` + mtype + `,"bootp-transaction-id":"xyz"}`,
		"unknown-msgtype":   `{` + chaddr + `,"dhcp-message-type":"bogus"}`,
		"missing-type":      `{` + chaddr + `}`,
		"missing-chaddr":    `{` + mtype + `}`,
		"unknown-reference": `{` + chaddr + `,` + mtype + `,"parameters-request-list":["no-such-option"]}`,
	} {
		_, _, err := v4encode([]byte(input))
		assert.Error(t, err, name)
	}
}

func TestEncodeOptionsCapacity(t *testing.T) {
	// message type TLV is 3 bytes; 8 opaque options of 253 bytes are 255
	// bytes each; the closing option tops the area off at exactly 2048
	// bytes with the end marker included.
	build := func(tail string) []byte {
		input := `{"client-hardware-address":"aa:bb:cc:dd:ee:ff","dhcp-message-type":"discover"`
		for index := 0; index < 8; index++ {
			input += `,"private-0` + strconv.Itoa(index+1) + `":"` + strings.Repeat("ab", 253) + `"`
		}
		input += `,"private-10":"` + tail + `"}`
		return []byte(input)
	}
	packet, _, err := v4encode(build(strings.Repeat("ab", 2)))
	require.NoError(t, err)
	assert.Equal(t, AT_OPTIONS+OPTIONS_SIZE, len(packet))
	assert.Equal(t, byte(0xff), packet[len(packet)-1])

	_, _, err = v4encode(build(strings.Repeat("ab", 3)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough space")
}

func TestDecodeErrors(t *testing.T) {
	base := func() []byte {
		packet := make([]byte, FRAME_MIN)
		packet[AT_OP], packet[AT_HTYPE], packet[AT_HLEN] = 1, 1, 6
		packet[AT_CHADDR] = 0x02
		copy(packet[AT_MAGIC:], MAGIC)
		packet[AT_OPTIONS] = 0xff
		return packet
	}

	short := base()[:AT_OPTIONS-1]
	_, _, err := v4decode(short)
	assert.Error(t, err)

	magic := base()
	magic[AT_MAGIC] = 0x00
	_, _, err = v4decode(magic)
	assert.Error(t, err)

	op := base()
	op[AT_OP] = 3
	_, _, err = v4decode(op)
	assert.Error(t, err)

	hw := base()
	hw[AT_HLEN] = 16
	_, _, err = v4decode(hw)
	assert.Error(t, err)

	length := base()
	copy(length[AT_OPTIONS:], []byte{1, 3, 255, 255, 255, 0xff})
	_, _, err = v4decode(length)
	assert.Error(t, err, "subnet-mask below min size")

	modulo := base()
	copy(modulo[AT_OPTIONS:], []byte{3, 6, 10, 0, 0, 1, 10, 0, 0xff})
	_, _, err = v4decode(modulo)
	assert.Error(t, err, "routers length not a multiple of 4")

	mtype := base()
	copy(mtype[AT_OPTIONS:], []byte{53, 1, 99, 0xff})
	_, _, err = v4decode(mtype)
	assert.Error(t, err, "unknown message type")
}

func TestDecodeHeaderEmission(t *testing.T) {
	packet := make([]byte, FRAME_MIN)
	packet[AT_OP], packet[AT_HTYPE], packet[AT_HLEN] = 2, 1, 6
	copy(packet[AT_CHADDR:], []byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})
	copy(packet[AT_MAGIC:], MAGIC)
	packet[AT_OPTIONS] = 0xff
	frame, meta, err := v4decode(packet)
	require.NoError(t, err)
	assert.Equal(t, FRAME{"client-hardware-address": "aa:bb:cc:dd:ee:ff"}, frame)
	assert.Equal(t, byte(0), meta.mtype)
	assert.False(t, meta.expire.IsZero())
}

func TestDecodeUnknownOption(t *testing.T) {
	packet := make([]byte, FRAME_MIN)
	packet[AT_OP], packet[AT_HTYPE], packet[AT_HLEN] = 1, 1, 6
	packet[AT_CHADDR] = 0x02
	copy(packet[AT_MAGIC:], MAGIC)
	copy(packet[AT_OPTIONS:], []byte{84, 2, 0xca, 0xfe, 0, 0, 0xff})
	frame, _, err := v4decode(packet)
	require.NoError(t, err)
	assert.Equal(t, "cafe", frame["84"])
}

func TestDecodePadAndTruncatedTail(t *testing.T) {
	packet := make([]byte, FRAME_MIN)
	packet[AT_OP], packet[AT_HTYPE], packet[AT_HLEN] = 1, 1, 6
	packet[AT_CHADDR] = 0x02
	copy(packet[AT_MAGIC:], MAGIC)
	copy(packet[AT_OPTIONS:], []byte{0, 0, 12, 4, 'h', 'o', 's', 't'})
	frame, _, err := v4decode(packet[:AT_OPTIONS+8])
	require.NoError(t, err)
	assert.Equal(t, "host", frame["hostname"])
}
